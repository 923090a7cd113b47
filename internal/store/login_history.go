package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/sjson"
)

// Login-history entries are stored as JSON documents keyed by an opaque id,
// mirroring how the upstream user service models them. The geo worker's
// location write is an update-in-place on that document.

// LoginEntryInsert stores a new login-history document under the given id.
func (s *Store) LoginEntryInsert(ctx context.Context, id string, doc []byte) error {
	now := time.Now().UTC()

	if _, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO login_history (id, doc, created_at) VALUES (?, ?, ?)`),
		id, string(doc), millis(now),
	); err != nil {
		return fmt.Errorf("inserting login entry: %w", err)
	}
	return nil
}

// LoginEntryGet returns the login-history document for the given id, or
// ErrNotFound.
func (s *Store) LoginEntryGet(ctx context.Context, id string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT doc FROM login_history WHERE id = ?`), id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching login entry: %w", err)
	}
	return []byte(doc), nil
}

// LoginEntrySetLocation sets the location object on a login-history
// document. Re-running the write with the same id is safe: the location is
// replaced wholesale with the latest values. A missing entry is a no-op so
// that a login record deleted between enqueue and execution doesn't produce
// retry noise.
func (s *Store) LoginEntrySetLocation(ctx context.Context, id, city, region, country string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning location update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var doc string
	if err := tx.QueryRowContext(ctx, s.rebind(`
		SELECT doc FROM login_history WHERE id = ?`), id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("fetching login entry for location update: %w", err)
	}

	updatedDoc, err := sjson.Set(doc, "location", struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
	}{City: city, Region: region, Country: country})
	if err != nil {
		return fmt.Errorf("setting location on login entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE login_history SET doc = ? WHERE id = ?`), updatedDoc, id); err != nil {
		return fmt.Errorf("updating login entry: %w", err)
	}

	return tx.Commit()
}
