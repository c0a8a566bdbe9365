// Package auth verifies credentials and looks up chat users.
package auth

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("auth: user not found")
	ErrUnknownUser     = errors.New("auth: unknown user")
	ErrInvalidPassword = errors.New("auth: invalid password")
	ErrDuplicateMail   = errors.New("auth: mail already registered")
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Mail         string `json:"mail"`
	PasswordHash string `json:"-"`
}

// Authenticator is what the chat core needs from the account system.
type Authenticator interface {
	// Verify returns the user for mail/password, or ErrUnknownUser / ErrInvalidPassword.
	Verify(ctx context.Context, mail, password string) (User, error)
	LookupByID(ctx context.Context, id string) (User, error)
	LookupByMail(ctx context.Context, mail string) (User, error)
}
