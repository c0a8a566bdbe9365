package auth

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var mailPattern = regexp.MustCompile(`^[^\s@<>()\[\]\\.,;:"]+(\.[^\s@<>()\[\]\\.,;:"]+)*@([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}$`)

// Registration is a sign-up form as submitted by a client.
type Registration struct {
	Username  string `json:"username"`
	Mail      string `json:"mail"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

var (
	ErrInvalidMail      = errors.New("not a valid email address")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrMissingField     = errors.New("username, mail and password are required")
)

func (r Registration) Validate() error {
	if strings.TrimSpace(r.Username) == "" || strings.TrimSpace(r.Mail) == "" || r.Password == "" {
		return ErrMissingField
	}
	if !mailPattern.MatchString(strings.TrimSpace(r.Mail)) {
		return ErrInvalidMail
	}
	if r.Password != r.Password2 {
		return ErrPasswordMismatch
	}
	return nil
}
