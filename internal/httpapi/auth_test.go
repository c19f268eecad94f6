package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"says/backend/internal/domain"
	"says/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_SALES_PASSWORD", "sales-secret-1")

	repo := memory.NewSeeded()
	return NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo), repo
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "Azlan", Password: "sales-secret-1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleSales || resp.Name != "Azlan Rahim" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.ID != "user-sales-1" || actor.Username != "azlan" || actor.Role != domain.RoleSales || actor.Branch != "Sandakan" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "azlan", Password: "wrong"}); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "nobody", Password: "sales-secret-1"}); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	auth, repo := newTestAuth(t)

	if err := repo.CreateUser(context.Background(), domain.User{
		ID:       "user-sales-3",
		Username: "rosli",
		Password: "pass-for-rosli",
		Name:     "Rosli Hamid",
		Role:     domain.RoleSales,
		Active:   false,
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	_, err := auth.Login(domain.LoginRequest{Username: "rosli", Password: "pass-for-rosli"})
	if err == nil || !strings.Contains(err.Error(), "inactive") {
		t.Fatalf("expected inactive account rejection, got %v", err)
	}
}

func TestPlaintextPasswordUpgradedToHash(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_SALES_PASSWORD", "sales-secret-1")

	repo := memory.NewSeeded()
	if err := repo.CreateUser(context.Background(), domain.User{
		ID:       "user-sales-3",
		Username: "rosli",
		Password: "legacy-plaintext",
		Name:     "Rosli Hamid",
		Role:     domain.RoleSales,
		Active:   true,
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "rosli", Password: "legacy-plaintext"}); err != nil {
		t.Fatalf("login with legacy password failed: %v", err)
	}

	stored, err := repo.GetUserByUsername(context.Background(), "rosli")
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if !isPasswordHash(stored.Password) {
		t.Fatalf("expected stored password to be upgraded to a hash, got %q", stored.Password)
	}
	if stored.Password == "legacy-plaintext" {
		t.Fatalf("plain text password must not survive bootstrap")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth, repo := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "azlan", Password: "sales-secret-1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	other := NewAuthManager("another-secret-key-9876543210zyxw", time.Hour, repo)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}

	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatalf("expected malformed token to be rejected")
	}
}
