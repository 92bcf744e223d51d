package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// GetCachedItem returns the value for key and whether it was present.
func (s *Store) GetCachedItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM settings WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("get cached item", key, fmt.Errorf("query setting: %w", err))
	}
	return value, true, nil
}

// SetCachedItem inserts or replaces the value for key.
func (s *Store) SetCachedItem(ctx context.Context, key, value string) error {
	const op = "set cached item"
	if key == "" {
		return store.NewValidation(op, key, &model.ValidationError{Field: "key", Reason: "must not be empty"})
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`), key, value)
	if err != nil {
		return classify(op, key, fmt.Errorf("write setting: %w", err))
	}
	return nil
}

// DeleteCachedItem removes key. Removing a missing key succeeds.
func (s *Store) DeleteCachedItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM settings WHERE key = ?`), key)
	if err != nil {
		return classify("delete cached item", key, fmt.Errorf("delete setting: %w", err))
	}
	return nil
}
