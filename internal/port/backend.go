package port

import (
	"context"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

// RemoteStore is the backend record store the sync engine reconciles
// against. It is consumed as a generic table API; the backend's own
// schema and business logic stay on the server.
type RemoteStore interface {
	// SelectChangedSince returns the user's records in table changed
	// after since, ordered by the timestamp field ascending.
	SelectChangedSince(ctx context.Context, table, userID, timestampField string, since time.Time, limit int) ([]domain.Record, error)

	// Insert creates a record.
	Insert(ctx context.Context, table string, record domain.Record) error

	// Update patches the record identified by the primary key.
	Update(ctx context.Context, table, pkField, pk string, patch domain.Record) error

	// Delete removes the record (hard delete).
	Delete(ctx context.Context, table, pkField, pk string) error

	// SoftDelete marks the record deleted by setting deleted_at.
	SoftDelete(ctx context.Context, table, pkField, pk string, at time.Time) error
}

// AuthProvider supplies the current user identity and credentials. The
// surrounding application owns authentication; sync cycles abort with an
// explicit error when no user is available.
type AuthProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
	AccessToken(ctx context.Context) (string, error)
}
