package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// claimTTL is how long an unfinished claim blocks its key. A process that dies
// mid-request leaves a claim behind; after this it can be taken again.
const claimTTL = 5 * time.Minute

// IdempotencyRepository stores the first response produced for an Idempotency-Key.
// A row with response_status 0 is a claim for a request still in flight.
type IdempotencyRepository struct {
	db DB
}

func NewIdempotencyRepository(db DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Claim reserves the key. It returns false when another request holds it or
// has already stored a response.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key_id) VALUES ($1)
		ON CONFLICT (key_id) DO UPDATE SET created_at = NOW()
		WHERE idempotency_keys.response_status = 0
		  AND idempotency_keys.created_at < NOW() - make_interval(secs => $2)`,
		key, claimTTL.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IdempotencyRepository) Lookup(ctx context.Context, key string) (status int, body []byte, found bool, err error) {
	err = r.db.QueryRow(ctx,
		"SELECT response_status, response_body FROM idempotency_keys WHERE key_id = $1", key).Scan(&status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return status, body, true, nil
}

func (r *IdempotencyRepository) Save(ctx context.Context, key string, status int, body []byte) error {
	_, err := r.db.Exec(ctx,
		"UPDATE idempotency_keys SET response_status = $2, response_body = $3 WHERE key_id = $1",
		key, status, body)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

// Release drops an unfinished claim so the client can retry.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE key_id = $1 AND response_status = 0", key)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
