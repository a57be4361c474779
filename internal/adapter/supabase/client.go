// Package supabase implements the backend record-store port against a
// PostgREST-style table API: filtered selects, inserts as idempotent
// upserts, patches, and hard or soft deletes.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/port"
)

// Config contains backend client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the backend record store.
type Client struct {
	cfg    *Config
	http   *http.Client
	auth   port.AuthProvider
	logger *zap.Logger
}

// Ensure Client implements port.RemoteStore
var _ port.RemoteStore = (*Client)(nil)

// NewClient creates a new backend client
func NewClient(cfg *Config, auth port.AuthProvider, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		auth:   auth,
		logger: logger,
	}
}

// SelectChangedSince returns the user's records changed after since,
// ordered by the timestamp field ascending.
func (c *Client) SelectChangedSince(ctx context.Context, table, userID, timestampField string, since time.Time, limit int) ([]domain.Record, error) {
	query := url.Values{}
	query.Set("user_id", "eq."+userID)
	if !since.IsZero() {
		query.Set(timestampField, "gt."+since.UTC().Format(time.RFC3339Nano))
	}
	query.Set("order", timestampField+".asc")
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var records []domain.Record
	if err := c.do(ctx, http.MethodGet, table, query, nil, &records, ""); err != nil {
		return nil, err
	}
	return records, nil
}

// Insert creates a record. Duplicate keys merge instead of erroring so
// a retried create after a false-negative network failure stays
// idempotent.
func (c *Client) Insert(ctx context.Context, table string, record domain.Record) error {
	return c.do(ctx, http.MethodPost, table, nil, record, nil,
		"resolution=merge-duplicates,return=minimal")
}

// Update patches the record identified by the primary key.
func (c *Client) Update(ctx context.Context, table, pkField, pk string, patch domain.Record) error {
	query := url.Values{}
	query.Set(pkField, "eq."+pk)
	return c.do(ctx, http.MethodPatch, table, query, patch, nil, "return=minimal")
}

// Delete removes the record (hard delete).
func (c *Client) Delete(ctx context.Context, table, pkField, pk string) error {
	query := url.Values{}
	query.Set(pkField, "eq."+pk)
	return c.do(ctx, http.MethodDelete, table, query, nil, nil, "return=minimal")
}

// SoftDelete marks the record deleted by setting deleted_at.
func (c *Client) SoftDelete(ctx context.Context, table, pkField, pk string, at time.Time) error {
	patch := domain.Record{"deleted_at": at.UTC().Format(time.RFC3339Nano)}
	return c.Update(ctx, table, pkField, pk, patch)
}

// do issues one request against the table API.
func (c *Client) do(ctx context.Context, method, table string, query url.Values, body, out any, prefer string) error {
	endpoint := c.cfg.BaseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("backend request rejected",
			zap.String("method", method),
			zap.String("table", table),
			zap.Int("status", resp.StatusCode))
		return &domain.BackendError{
			StatusCode: resp.StatusCode,
			Message:    string(message),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
