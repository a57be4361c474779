package sqlite

import (
	"database/sql"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

// Put inserts or replaces a record by key
func (s *Store) Put(rec *domain.StoredRecord) error {
	query := `
		INSERT INTO records (
			key, entity, payload, compressed, encrypted,
			size_bytes, priority, hit_count, created_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			entity = excluded.entity,
			payload = excluded.payload,
			compressed = excluded.compressed,
			encrypted = excluded.encrypted,
			size_bytes = excluded.size_bytes,
			priority = excluded.priority,
			hit_count = excluded.hit_count,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at
	`

	_, err := s.db.Exec(
		query,
		rec.Key, string(rec.Entity), rec.Payload, rec.Compressed, rec.Encrypted,
		rec.SizeBytes, int(rec.Priority), rec.HitCount, rec.CreatedAt, rec.LastAccessedAt,
	)
	return err
}

// Get retrieves a record by key
func (s *Store) Get(key string) (*domain.StoredRecord, error) {
	query := `
		SELECT key, entity, payload, compressed, encrypted,
			   size_bytes, priority, hit_count, created_at, last_accessed_at
		FROM records
		WHERE key = ?
	`

	rec, err := scanRecord(s.db.QueryRow(query, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Touch updates LRU recency and increments the hit count
func (s *Store) Touch(key string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE records SET last_accessed_at = ?, hit_count = hit_count + 1 WHERE key = ?",
		at, key,
	)
	return err
}

// Delete removes a record by key
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM records WHERE key = ?", key)
	return err
}

// DeleteAll removes every record
func (s *Store) DeleteAll() error {
	_, err := s.db.Exec("DELETE FROM records")
	return err
}

// List returns all records without payloads
func (s *Store) List() ([]*domain.StoredRecord, error) {
	query := `
		SELECT key, entity, compressed, encrypted,
			   size_bytes, priority, hit_count, created_at, last_accessed_at
		FROM records
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.StoredRecord
	for rows.Next() {
		rec := &domain.StoredRecord{}
		var entity string
		var priority int
		err := rows.Scan(
			&rec.Key, &entity, &rec.Compressed, &rec.Encrypted,
			&rec.SizeBytes, &priority, &rec.HitCount, &rec.CreatedAt, &rec.LastAccessedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Entity = domain.EntityType(entity)
		rec.Priority = domain.Priority(priority)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// TotalSize returns the summed size of all stored payloads
func (s *Store) TotalSize() (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow("SELECT SUM(size_bytes) FROM records").Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// EvictionCandidates returns records ordered by priority and LRU
func (s *Store) EvictionCandidates(limit int) ([]*domain.StoredRecord, error) {
	query := `
		SELECT key, entity, payload, compressed, encrypted,
			   size_bytes, priority, hit_count, created_at, last_accessed_at
		FROM records
		ORDER BY priority ASC, last_accessed_at ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteOlderThan removes records created before cutoff
func (s *Store) DeleteOlderThan(cutoff time.Time) (int, error) {
	result, err := s.db.Exec("DELETE FROM records WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// rowScanner abstracts sql.Row and sql.Rows for scanRecord
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.StoredRecord, error) {
	rec := &domain.StoredRecord{}
	var entity string
	var priority int
	err := row.Scan(
		&rec.Key, &entity, &rec.Payload, &rec.Compressed, &rec.Encrypted,
		&rec.SizeBytes, &priority, &rec.HitCount, &rec.CreatedAt, &rec.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Entity = domain.EntityType(entity)
	rec.Priority = domain.Priority(priority)
	return rec, nil
}
