package webhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/go-go-golems/chat2k/pkg/auth"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.SQLiteUserStore) {
	t.Helper()
	store, err := auth.NewSQLiteUserStore("file:" + filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.WithCost(bcrypt.MinCost)

	r := chi.NewRouter()
	NewAccountHandler(store).Mount(r)
	return r, store
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAccountHandler_RegisterThenLogin(t *testing.T) {
	h, store := newTestRouter(t)

	rec := post(t, h, "/api/register", auth.Registration{
		Username: "alice", Mail: "alice@example.com", Password: "pw", Password2: "pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	require.NotEmpty(t, reg.ID)

	u, err := store.LookupByID(t.Context(), reg.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)

	rec = post(t, h, "/api/login", LoginRequest{Mail: "ALICE@example.com", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.Equal(t, LoginResponse{ID: reg.ID, Username: "alice"}, login)
	require.NotContains(t, rec.Body.String(), "password")
}

func TestAccountHandler_RegisterRejections(t *testing.T) {
	h, _ := newTestRouter(t)

	ok := auth.Registration{Username: "bob", Mail: "bob@example.com", Password: "pw", Password2: "pw"}
	require.Equal(t, http.StatusCreated, post(t, h, "/api/register", ok).Code)

	cases := []struct {
		name string
		body any
		want int
	}{
		{"duplicate mail", auth.Registration{Username: "bob2", Mail: "Bob@example.com", Password: "x", Password2: "x"}, http.StatusConflict},
		{"bad mail", auth.Registration{Username: "c", Mail: "not-a-mail", Password: "x", Password2: "x"}, http.StatusBadRequest},
		{"mismatch", auth.Registration{Username: "c", Mail: "c@example.com", Password: "x", Password2: "y"}, http.StatusBadRequest},
		{"missing", auth.Registration{Mail: "c@example.com", Password: "x", Password2: "x"}, http.StatusBadRequest},
		{"garbage", "{not json", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, h, "/api/register", tc.body)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
			var e errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			require.NotEmpty(t, e.Error)
		})
	}
}

func TestAccountHandler_LoginRejections(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, post(t, h, "/api/register",
		auth.Registration{Username: "carol", Mail: "carol@example.com", Password: "right", Password2: "right"}).Code)

	require.Equal(t, http.StatusUnauthorized, post(t, h, "/api/login", LoginRequest{Mail: "carol@example.com", Password: "wrong"}).Code)
	require.Equal(t, http.StatusUnauthorized, post(t, h, "/api/login", LoginRequest{Mail: "nobody@example.com", Password: "x"}).Code)
	require.Equal(t, http.StatusBadRequest, post(t, h, "/api/login", "[]").Code)
}

func TestAccountHandler_NilStore(t *testing.T) {
	r := chi.NewRouter()
	NewAccountHandler(nil).Mount(r)
	require.Equal(t, http.StatusServiceUnavailable, post(t, r, "/api/login", LoginRequest{}).Code)
}

func TestAccountHandler_Profile(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := post(t, h, "/api/register", auth.Registration{
		Username: "dave", Mail: "dave@example.com", Password: "pw", Password2: "pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec = get("/api/users/" + reg.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, ProfileResponse{ID: reg.ID, Username: "dave"}, p)
	require.NotContains(t, rec.Body.String(), "mail")

	require.Equal(t, http.StatusNotFound, get("/api/users/does-not-exist").Code)
}
