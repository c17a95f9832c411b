package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/settlecore/internal/models"
)

// SaveIdempotentData stores the outcome of a side-effecting request under its
// idempotency key. The first write wins: a key that already exists is left
// untouched so replays of a previously seen key always observe the same
// stored result. Fingerprint comparison is the caller's job.
func (s *Store) SaveIdempotentData(ctx context.Context, key, inputHash string, status int, body []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, input_hash, response_status, response_body)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		key, inputHash, status, body)
	if err != nil {
		return fmt.Errorf("idempotency insert failed: %w", err)
	}
	return nil
}

// LoadIdempotentData returns the stored outcome for key, or nil if the key
// was never used.
func (s *Store) LoadIdempotentData(ctx context.Context, key string) (*models.IdempotentData, error) {
	data := models.IdempotentData{Key: key}
	err := s.db.QueryRow(ctx,
		"SELECT input_hash, response_status, response_body FROM idempotency_keys WHERE key = $1", key,
	).Scan(&data.InputHash, &data.ResponseStatus, &data.ResponseBody)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &data, nil
}
