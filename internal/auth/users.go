package auth

import (
	"fmt"
	"time"

	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
)

// Service authenticates configured users and issues voice-link tokens.
// Users are read once from config; the set is immutable afterwards.
type Service struct {
	users  map[string]User
	secret string
	ttl    time.Duration

	// dummyHash equalises timing for unknown usernames.
	dummyHash string
}

// NewService builds a Service from the security section of config.
func NewService(cfg config.SecurityConfig, ttl time.Duration) (*Service, error) {
	users := make(map[string]User, len(cfg.Users))
	for _, u := range cfg.Users {
		if !IsValidUsername(u.Username) {
			return nil, fmt.Errorf("%w: username %q", ErrInvalidCredentials, u.Username)
		}
		if _, _, _, err := decodePHC(u.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Username, err)
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateUser, u.Username)
		}
		users[u.Username] = User{Username: u.Username, PasswordHash: u.PasswordHash}
	}

	dummy, err := HashPassword("geniebridge-timing-dummy")
	if err != nil {
		return nil, err
	}

	return &Service{
		users:     users,
		secret:    cfg.JWT.Secret,
		ttl:       ttl,
		dummyHash: dummy,
	}, nil
}

// Authenticate checks a username and password.
func (s *Service) Authenticate(username, password string) (*User, error) {
	user, ok := s.users[username]
	if !ok {
		_, _ = VerifyPassword(password, s.dummyHash) //nolint:errcheck // timing only
		return nil, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Login authenticates and returns a signed token with its lifetime.
func (s *Service) Login(username, password string) (string, time.Duration, error) {
	user, err := s.Authenticate(username, password)
	if err != nil {
		return "", 0, err
	}
	return s.Issue(user.Username)
}

// Issue signs a token for a configured user without a password check.
// The CLI uses it to mint tokens offline.
func (s *Service) Issue(username string) (string, time.Duration, error) {
	if _, ok := s.users[username]; !ok {
		return "", 0, fmt.Errorf("%w: unknown user %q", ErrInvalidCredentials, username)
	}
	token, err := IssueToken(username, s.secret, s.ttl)
	if err != nil {
		return "", 0, err
	}
	return token, s.ttl, nil
}

// Validate parses a token and checks its subject is still configured.
func (s *Service) Validate(token string) (*Claims, error) {
	claims, err := ParseToken(token, s.secret)
	if err != nil {
		return nil, err
	}
	if _, ok := s.users[claims.Subject]; !ok {
		return nil, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
	}
	return claims, nil
}

// UserCount returns the number of configured users.
func (s *Service) UserCount() int {
	return len(s.users)
}
