package sqlite

import (
	"database/sql"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

const operationColumns = `
	id, type, entity, entity_id, payload, user_id, priority,
	status, attempts, max_attempts, last_error,
	next_attempt_at, created_at, updated_at
`

// Save inserts or replaces an operation by id
func (s *Store) Save(op *domain.SyncOperation) error {
	query := `
		INSERT INTO operations (` + operationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			entity = excluded.entity,
			entity_id = excluded.entity_id,
			payload = excluded.payload,
			user_id = excluded.user_id,
			priority = excluded.priority,
			status = excluded.status,
			attempts = excluded.attempts,
			max_attempts = excluded.max_attempts,
			last_error = excluded.last_error,
			next_attempt_at = excluded.next_attempt_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(
		query,
		op.ID, string(op.Type), string(op.Entity), op.EntityID, []byte(op.Payload),
		op.UserID, int(op.Priority), string(op.Status), op.Attempts, op.MaxAttempts,
		op.LastError, op.NextAttemptAt, op.CreatedAt, op.UpdatedAt,
	)
	return err
}

// Get retrieves an operation by id
func (s *Store) GetOperation(id string) (*domain.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = ?`

	op, err := scanOperation(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// DeleteOperation removes an operation by id
func (s *Store) DeleteOperation(id string) error {
	_, err := s.db.Exec("DELETE FROM operations WHERE id = ?", id)
	return err
}

// ListByStatus returns operations in a given status, oldest first
func (s *Store) ListByStatus(status domain.OperationStatus) ([]*domain.SyncOperation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE status = ?
		ORDER BY created_at ASC
	`
	return s.queryOperations(query, string(status))
}

// ListPendingFor returns pending operations touching one record
func (s *Store) ListPendingFor(entity domain.EntityType, entityID string) ([]*domain.SyncOperation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE entity = ? AND entity_id = ? AND status IN ('pending', 'in_flight')
		ORDER BY created_at ASC
	`
	return s.queryOperations(query, string(entity), entityID)
}

// Due returns pending operations whose backoff delay has elapsed
func (s *Store) Due(now time.Time) ([]*domain.SyncOperation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY priority DESC, created_at ASC
	`
	return s.queryOperations(query, now)
}

// ResetInFlight returns stranded in-flight operations to pending
func (s *Store) ResetInFlight() (int, error) {
	result, err := s.db.Exec("UPDATE operations SET status = 'pending' WHERE status = 'in_flight'")
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// CountByStatus returns per-status operation counts
func (s *Store) CountByStatus() (map[domain.OperationStatus]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM operations GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.OperationStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.OperationStatus(status)] = count
	}

	return counts, rows.Err()
}

// Count returns the total number of stored operations
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM operations").Scan(&count)
	return count, err
}

// TrimLog keeps only the newest keep operations in a terminal status
func (s *Store) TrimLog(status domain.OperationStatus, keep int) (int, error) {
	result, err := s.db.Exec(`
		DELETE FROM operations
		WHERE status = ? AND id NOT IN (
			SELECT id FROM operations
			WHERE status = ?
			ORDER BY updated_at DESC
			LIMIT ?
		)
	`, string(status), string(status), keep)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// PurgeCompletedBefore removes completed operations older than cutoff
func (s *Store) PurgeCompletedBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(
		"DELETE FROM operations WHERE status = 'completed' AND updated_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) queryOperations(query string, args ...any) ([]*domain.SyncOperation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*domain.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

func scanOperation(row rowScanner) (*domain.SyncOperation, error) {
	op := &domain.SyncOperation{}
	var opType, entity, status string
	var priority int
	var payload []byte
	err := row.Scan(
		&op.ID, &opType, &entity, &op.EntityID, &payload, &op.UserID, &priority,
		&status, &op.Attempts, &op.MaxAttempts, &op.LastError,
		&op.NextAttemptAt, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Type = domain.OperationType(opType)
	op.Entity = domain.EntityType(entity)
	op.Status = domain.OperationStatus(status)
	op.Priority = domain.Priority(priority)
	op.Payload = payload
	return op, nil
}
