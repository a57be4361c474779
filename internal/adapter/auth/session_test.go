package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

func writeSession(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write session file: %v", err)
	}
}

func TestFileProvider_MissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "session.json"))

	_, err := p.CurrentUserID(context.Background())
	if !errors.Is(err, domain.ErrNoCurrentUser) {
		t.Errorf("CurrentUserID() err = %v, want ErrNoCurrentUser", err)
	}
	_, err = p.AccessToken(context.Background())
	if !errors.Is(err, domain.ErrNoCurrentUser) {
		t.Errorf("AccessToken() err = %v, want ErrNoCurrentUser", err)
	}
}

func TestFileProvider_ValidSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writeSession(t, path, `{"user_id":"u1","access_token":"tok-1"}`)
	p := NewFileProvider(path)

	uid, err := p.CurrentUserID(context.Background())
	if err != nil {
		t.Fatalf("CurrentUserID() error = %v", err)
	}
	if uid != "u1" {
		t.Errorf("user id = %q", uid)
	}

	tok, err := p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q", tok)
	}
}

func TestFileProvider_ExpiredSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writeSession(t, path, `{"user_id":"u1","access_token":"tok-1","expires_at":"2020-01-01T00:00:00Z"}`)
	p := NewFileProvider(path)

	// Identity stays readable; only the token is refused.
	if uid, err := p.CurrentUserID(context.Background()); err != nil || uid != "u1" {
		t.Errorf("CurrentUserID() = %q, %v", uid, err)
	}
	_, err := p.AccessToken(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("AccessToken() err = %v, want ErrUnauthorized", err)
	}
}

func TestFileProvider_IncompleteSession(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing user id", body: `{"access_token":"tok-1"}`},
		{name: "missing token", body: `{"user_id":"u1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "session.json")
			writeSession(t, path, tt.body)
			p := NewFileProvider(path)

			_, err := p.CurrentUserID(context.Background())
			if !errors.Is(err, domain.ErrNoCurrentUser) {
				t.Errorf("err = %v, want ErrNoCurrentUser", err)
			}
		})
	}
}

func TestFileProvider_CorruptSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writeSession(t, path, `{not json`)
	p := NewFileProvider(path)

	if _, err := p.CurrentUserID(context.Background()); err == nil {
		t.Error("corrupt session file accepted")
	}
}

func TestFileProvider_PicksUpRewrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writeSession(t, path, `{"user_id":"u1","access_token":"tok-1"}`)
	p := NewFileProvider(path)

	if tok, _ := p.AccessToken(context.Background()); tok != "tok-1" {
		t.Fatalf("token = %q", tok)
	}

	// The host app refreshes the token; a new mtime invalidates the cache.
	writeSession(t, path, `{"user_id":"u1","access_token":"tok-2"}`)
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	tok, err := p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want refreshed tok-2", tok)
	}
}

func TestFileProvider_LogoutDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	writeSession(t, path, `{"user_id":"u1","access_token":"tok-1"}`)
	p := NewFileProvider(path)

	if _, err := p.CurrentUserID(context.Background()); err != nil {
		t.Fatalf("CurrentUserID() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := p.CurrentUserID(context.Background()); !errors.Is(err, domain.ErrNoCurrentUser) {
		t.Errorf("err after logout = %v, want ErrNoCurrentUser", err)
	}
}
