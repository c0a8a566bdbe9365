package webhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat2k/pkg/auth"
)

// maxBodyBytes bounds register and login payloads.
const maxBodyBytes = 16 * 1024

// Accounts is what the account endpoints need from the user store.
type Accounts interface {
	Register(ctx context.Context, username, mail, password string) (auth.User, error)
	Verify(ctx context.Context, mail, password string) (auth.User, error)
	LookupByID(ctx context.Context, id string) (auth.User, error)
}

type LoginRequest struct {
	Mail     string `json:"mail"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID string `json:"id"`
}

type LoginResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ProfileResponse is the public view of a user.
type ProfileResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// AccountHandler serves registration and login.
type AccountHandler struct {
	accounts Accounts
}

func NewAccountHandler(accounts Accounts) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Register handles POST /api/register.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "account store not initialized")
		return
	}
	var body auth.Registration
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.accounts.Register(r.Context(), strings.TrimSpace(body.Username), strings.TrimSpace(body.Mail), body.Password)
	switch {
	case errors.Is(err, auth.ErrDuplicateMail):
		writeError(w, http.StatusConflict, "mail already registered")
		return
	case err != nil:
		log.Error().Err(err).Str("component", "webhttp").Msg("registering user failed")
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	log.Info().Str("component", "webhttp").Str("user_id", u.ID).Msg("user registered")
	writeJSON(w, http.StatusCreated, RegisterResponse{ID: u.ID})
}

// Login handles POST /api/login.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "account store not initialized")
		return
	}
	var body LoginRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.accounts.Verify(r.Context(), strings.TrimSpace(body.Mail), body.Password)
	switch {
	case errors.Is(err, auth.ErrUnknownUser), errors.Is(err, auth.ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, "invalid mail or password")
		return
	case err != nil:
		log.Error().Err(err).Str("component", "webhttp").Msg("login failed")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{ID: u.ID, Username: u.Username})
}

// Profile handles GET /api/users/{id}.
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "account store not initialized")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	u, err := h.accounts.LookupByID(r.Context(), id)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		log.Error().Err(err).Str("component", "webhttp").Str("user_id", id).Msg("profile lookup failed")
		writeError(w, http.StatusInternalServerError, "profile lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{ID: u.ID, Username: u.Username})
}

// Mount registers the account routes on r.
func (h *AccountHandler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/users/{id}", h.Profile)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
