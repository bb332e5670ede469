package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/mediapulse/pulse/internal/storage"
)

const cursorKeyPrefix = "cursor:"

// GetCursor returns the persisted tailer cursor for a dataset. A dataset with
// no cursor yet starts from zero.
func (s *Store) GetCursor(ctx context.Context, dataset string) (int64, error) {
	val, err := s.GetConfig(ctx, cursorKeyPrefix+dataset)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: %w", dataset, err)
	}
	cursor, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: malformed value %q: %w", dataset, val, err)
	}
	return cursor, nil
}

// SetCursor persists a tailer cursor. Called only after the rows up to the
// cursor have been handed off downstream.
func (s *Store) SetCursor(ctx context.Context, dataset string, cursor int64) error {
	if err := s.SetConfig(ctx, cursorKeyPrefix+dataset, strconv.FormatInt(cursor, 10)); err != nil {
		return fmt.Errorf("set cursor %s: %w", dataset, err)
	}
	return nil
}

// SetConfig stores a key/value record.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.execContext(ctx,
		"INSERT INTO kv (`key`, `value`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `value` = VALUES(`value`)",
		key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// GetConfig retrieves a key/value record. Returns storage.ErrNotFound for
// missing keys.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&value)
	}, "SELECT `value` FROM kv WHERE `key` = ?", key)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}
