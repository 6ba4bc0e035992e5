package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
)

func newTestService(t *testing.T, password string) *Service {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	svc, err := NewService(config.SecurityConfig{
		JWT:   config.JWTConfig{Secret: testSecret},
		Users: []config.UserConfig{{Username: "owner", PasswordHash: hash}},
	}, 8760*time.Hour)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestService_LoginAndValidate(t *testing.T) {
	svc := newTestService(t, "hunter2-but-longer")

	token, ttl, err := svc.Login("owner", "hunter2-but-longer")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if ttl != 8760*time.Hour {
		t.Errorf("ttl = %v", ttl)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != "owner" {
		t.Errorf("Subject = %q", claims.Subject)
	}
}

func TestService_LoginFailures(t *testing.T) {
	svc := newTestService(t, "right-password")

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "owner", "wrong-password"},
		{"unknown user", "guest", "right-password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Login(tt.username, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestService_ValidateRejectsRemovedUser(t *testing.T) {
	svc := newTestService(t, "pw")

	token, err := IssueToken("former-tenant", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Validate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
	}
	if _, _, err := svc.Issue("former-tenant"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Issue() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestNewService_RejectsBadUsers(t *testing.T) {
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		users []config.UserConfig
		want  error
	}{
		{"bad username", []config.UserConfig{{Username: "has space", PasswordHash: hash}}, ErrInvalidCredentials},
		{"bad hash", []config.UserConfig{{Username: "owner", PasswordHash: "$argon2id$broken"}}, ErrInvalidHash},
		{"duplicate", []config.UserConfig{{Username: "owner", PasswordHash: hash}, {Username: "owner", PasswordHash: hash}}, ErrDuplicateUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}, Users: tt.users}, time.Hour)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewService() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		username string
		want     bool
	}{
		{"owner", true},
		{"flat.12_tenant-a", true},
		{"", false},
		{"with space", false},
		{"ünïcode", false},
	}
	for _, tt := range tests {
		if got := IsValidUsername(tt.username); got != tt.want {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tt.username, got, tt.want)
		}
	}
}
