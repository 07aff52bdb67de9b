package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetSharedState upserts a shared-state value by key. Shared state carries
// cross-process coordination data that must survive restarts, such as the
// kanban cursor and executor cooldown timestamps.
func (s *Store) SetSharedState(ctx context.Context, key, value string) error {
	_, err := s.drv.Exec(ctx, fmt.Sprintf(`
		INSERT INTO shared_state (key, value, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.ph(1), s.ph(2), s.ph(3)),
		key, value, s.timestamp())
	if err != nil {
		return fmt.Errorf("set shared state %s: %w", key, err)
	}
	return nil
}

// GetSharedState reads a shared-state value; a missing key returns "".
func (s *Store) GetSharedState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.drv.QueryRow(ctx,
		"SELECT value FROM shared_state WHERE key = "+s.ph(1), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get shared state %s: %w", key, err)
	}
	return value, nil
}

// DeleteSharedState removes a shared-state key.
func (s *Store) DeleteSharedState(ctx context.Context, key string) error {
	if _, err := s.drv.Exec(ctx,
		"DELETE FROM shared_state WHERE key = "+s.ph(1), key); err != nil {
		return fmt.Errorf("delete shared state %s: %w", key, err)
	}
	return nil
}
