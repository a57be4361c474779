// Package auth provides the session-file credential source. The host
// application owns the login flow and writes the resulting session to a
// JSON file; the sync daemon only reads it.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/port"
)

// session mirrors the on-disk session file layout.
type session struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// FileProvider reads credentials from a session file. The file is
// re-read when its mtime changes, so token refreshes by the host
// application are picked up without restarting the daemon.
type FileProvider struct {
	path string

	mu      sync.Mutex
	cached  *session
	modTime time.Time
}

var _ port.AuthProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider backed by the given session file.
// The file may not exist yet; reads fail with ErrNoCurrentUser until it
// appears.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// CurrentUserID returns the logged-in user's id.
func (p *FileProvider) CurrentUserID(ctx context.Context) (string, error) {
	sess, err := p.load()
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// AccessToken returns the current bearer token.
func (p *FileProvider) AccessToken(ctx context.Context) (string, error) {
	sess, err := p.load()
	if err != nil {
		return "", err
	}
	if !sess.ExpiresAt.IsZero() && !sess.ExpiresAt.After(time.Now()) {
		return "", fmt.Errorf("session expired at %s: %w", sess.ExpiresAt.Format(time.RFC3339), domain.ErrUnauthorized)
	}
	return sess.AccessToken, nil
}

func (p *FileProvider) load() (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if os.IsNotExist(err) {
		p.cached = nil
		return nil, domain.ErrNoCurrentUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	if p.cached != nil && info.ModTime().Equal(p.modTime) {
		return p.cached, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session file: %w", err)
	}
	if sess.UserID == "" || sess.AccessToken == "" {
		return nil, domain.ErrNoCurrentUser
	}

	p.cached = &sess
	p.modTime = info.ModTime()
	return &sess, nil
}
