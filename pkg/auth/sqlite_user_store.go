package auth

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost keeps logins fast on small deployments.
const DefaultBcryptCost = 8

// SQLiteUserStore keeps accounts in the `users` table.
type SQLiteUserStore struct {
	db   *sql.DB
	cost int
}

var _ Authenticator = &SQLiteUserStore{}

func NewSQLiteUserStore(dsn string) (*SQLiteUserStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite user store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite user store: open")
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteUserStore{db: db, cost: DefaultBcryptCost}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithCost sets the bcrypt cost used by Register.
func (s *SQLiteUserStore) WithCost(cost int) *SQLiteUserStore {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.cost = cost
	}
	return s
}

func (s *SQLiteUserStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
		  id TEXT PRIMARY KEY,
		  username TEXT NOT NULL,
		  mail TEXT NOT NULL UNIQUE,
		  password_hash TEXT NOT NULL
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite user store: migrate")
		}
	}
	return nil
}

func (s *SQLiteUserStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register creates an account. Mail is compared case-insensitively.
func (s *SQLiteUserStore) Register(ctx context.Context, username, mail, password string) (User, error) {
	username = strings.TrimSpace(username)
	mail = normalizeMail(mail)
	if username == "" || mail == "" || password == "" {
		return User{}, errors.New("sqlite user store: username, mail and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, errors.Wrap(err, "sqlite user store: hash password")
	}
	u := User{ID: uuid.NewString(), Username: username, Mail: mail, PasswordHash: string(hash)}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users(id, username, mail, password_hash) VALUES(?, ?, ?, ?)
	`, u.ID, u.Username, u.Mail, u.PasswordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ErrDuplicateMail
		}
		return User{}, errors.Wrap(err, "sqlite user store: insert user")
	}
	return u, nil
}

func (s *SQLiteUserStore) Verify(ctx context.Context, mail, password string) (User, error) {
	u, err := s.LookupByMail(ctx, mail)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidPassword
	}
	return u, nil
}

func (s *SQLiteUserStore) LookupByID(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, ErrNotFound
	}
	return s.lookup(ctx, `SELECT id, username, mail, password_hash FROM users WHERE id = ?`, id)
}

func (s *SQLiteUserStore) LookupByMail(ctx context.Context, mail string) (User, error) {
	mail = normalizeMail(mail)
	if mail == "" {
		return User{}, ErrNotFound
	}
	return s.lookup(ctx, `SELECT id, username, mail, password_hash FROM users WHERE mail = ?`, mail)
}

func (s *SQLiteUserStore) lookup(ctx context.Context, query string, arg string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Mail, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "sqlite user store: lookup")
	}
	return u, nil
}

func normalizeMail(mail string) string {
	return strings.ToLower(strings.TrimSpace(mail))
}
