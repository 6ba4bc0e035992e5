package auth

import (
	"errors"
	"regexp"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername reports whether username is 1-64 characters of letters,
// digits, dots, hyphens and underscores.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// User is an account allowed to link the voice assistant.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// Errors returned by the auth package.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token has expired")
	ErrInvalidHash        = errors.New("auth: invalid password hash")
	ErrDuplicateUser      = errors.New("auth: duplicate username")
)
