package store

import (
	"context"
	"strconv"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

// GetConfig reads a single config row. It returns apperr.NotFound if no row
// exists for the key.
func (s *Store) GetConfig(ctx context.Context, key string) (domain.Config, error) {
	var cfg domain.Config
	err := s.db.GetContext(ctx, &cfg, `SELECT key, value FROM config WHERE key = ?`, key)
	if err != nil {
		if isNoRows(err) {
			return domain.Config{}, apperr.Wrapf(apperr.NotFound, "config key %q", key)
		}
		return domain.Config{}, err
	}
	return cfg, nil
}

// ListConfig returns every config row, ordered by key, including keys that
// SetConfig stored without checking them.
func (s *Store) ListConfig(ctx context.Context) ([]domain.Config, error) {
	var rows []domain.Config
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM config ORDER BY key`); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetConfig upserts a config row.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *Store) configInt(ctx context.Context, key string, fallback int) (int, bool, error) {
	cfg, err := s.GetConfig(ctx, key)
	if err != nil {
		return fallback, false, nil
	}
	v, err := strconv.Atoi(cfg.Value)
	if err != nil {
		return fallback, false, nil
	}
	return v, true, nil
}
