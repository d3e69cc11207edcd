// Package sqlxstore keeps credentials in the Postgres "credentials" table.
package sqlxstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/credential"
)

type Store struct {
	db *sqlx.DB
}

var _ credential.Store = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.GetContext(ctx, &val, `SELECT value FROM credentials WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", credential.ErrNotFound
		}
		return "", errors.Wrap(err, "selecting credential")
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO credentials (key, value, updated_at) VALUES (:key, :value, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]interface{}{"key": key, "value": value})
	return errors.Wrap(err, "upserting credential")
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = $1`, key)
	return errors.Wrap(err, "deleting credential")
}
