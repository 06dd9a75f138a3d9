package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/utils"
)

var testAdmin = config.AdminConfig{UserId: "admin", Email: "Owner@Example.com", Password: "s3cret"}

func TestLoginChecksCredentials(t *testing.T) {
	auth := NewAuthenticator(testAdmin, time.Hour, NewMemorySessionStore())
	ctx := context.Background()

	var ve *ValidationError
	if _, err := auth.Login(ctx, " ", "s3cret"); !errors.As(err, &ve) || ve.Field != "email" {
		t.Fatalf("blank email: err = %v, want email validation error", err)
	}
	if _, err := auth.Login(ctx, "owner@example.com", ""); !errors.As(err, &ve) || ve.Field != "password" {
		t.Fatalf("blank password: err = %v, want password validation error", err)
	}
	if _, err := auth.Login(ctx, "owner@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := auth.Login(ctx, "someone@example.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong email: err = %v, want ErrInvalidCredentials", err)
	}

	// email match ignores case
	info, err := auth.Login(ctx, "OWNER@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if info.UserId != "admin" || info.Token == "" {
		t.Fatalf("info = %+v", info)
	}
	owner, ok, err := auth.Resolve(ctx, info.Token)
	if err != nil || !ok || owner != "admin" {
		t.Fatalf("Resolve = %q, %v, %v; want admin", owner, ok, err)
	}
}

func TestLoginWithPasswordHash(t *testing.T) {
	hash, err := utils.HashPassword("hashed-secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := config.AdminConfig{UserId: "admin", Email: "owner@example.com", PasswordHash: hash}
	auth := NewAuthenticator(admin, time.Hour, NewMemorySessionStore())

	if _, err := auth.Login(context.Background(), "owner@example.com", "hashed-secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := auth.Login(context.Background(), "owner@example.com", hash); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login with the hash itself: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRejectsWhenAdminUnset(t *testing.T) {
	auth := NewAuthenticator(config.AdminConfig{UserId: "admin"}, time.Hour, NewMemorySessionStore())
	if _, err := auth.Login(context.Background(), "a@b.c", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	auth := NewAuthenticator(testAdmin, time.Hour, NewMemorySessionStore())
	ctx := context.Background()
	info, err := auth.Login(ctx, testAdmin.Email, testAdmin.Password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := auth.Logout(ctx, info.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok, _ := auth.Resolve(ctx, info.Token); ok {
		t.Fatal("session still resolves after logout")
	}
	if err := auth.Logout(ctx, ""); err != nil {
		t.Fatalf("Logout without token: %v", err)
	}
}

func TestMemorySessionIdleExpiry(t *testing.T) {
	store := NewMemorySessionStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	token, err := store.Create(ctx, "admin", 10*time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// activity pushes the expiry forward
	now = now.Add(8 * time.Minute)
	if _, ok, _ := store.Resolve(ctx, token, 10*time.Minute); !ok {
		t.Fatal("session expired early")
	}
	now = now.Add(8 * time.Minute)
	if _, ok, _ := store.Resolve(ctx, token, 10*time.Minute); !ok {
		t.Fatal("rolling expiry was not applied")
	}

	now = now.Add(11 * time.Minute)
	if _, ok, _ := store.Resolve(ctx, token, 10*time.Minute); ok {
		t.Fatal("idle session still resolves")
	}
}

func TestRedisSessionStore(t *testing.T) {
	rdb, mr := newTestRedis(t)
	store := NewSessionStore(rdb)
	ctx := context.Background()

	token, err := store.Create(ctx, "admin", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists(utils.SessionKey(token)) {
		t.Fatalf("session key %q not written", utils.SessionKey(token))
	}
	if ok, _ := mr.SIsMember(utils.OwnerSessionsKey("admin"), token); !ok {
		t.Fatal("token missing from owner session set")
	}

	owner, ok, err := store.Resolve(ctx, token, time.Minute)
	if err != nil || !ok || owner != "admin" {
		t.Fatalf("Resolve = %q, %v, %v; want admin", owner, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := store.Resolve(ctx, token, time.Minute); ok {
		t.Fatal("expired session still resolves")
	}

	token, _ = store.Create(ctx, "admin", time.Minute)
	if err := store.Destroy(ctx, token); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if mr.Exists(utils.SessionKey(token)) {
		t.Fatal("session key survived Destroy")
	}
	if _, ok, _ := store.Resolve(ctx, "unknown", time.Minute); ok {
		t.Fatal("unknown token resolved")
	}
}

func TestNewSessionStoreWithoutRedis(t *testing.T) {
	if _, ok := NewSessionStore(nil).(*MemorySessionStore); !ok {
		t.Fatal("want memory store when redis is absent")
	}
}
