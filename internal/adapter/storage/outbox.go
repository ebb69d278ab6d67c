package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

// leaseDuration hides a claimed event from other workers while it is being published.
const leaseDuration = time.Minute

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, q execer, e domain.OutboxEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO payment_events (id, event_type, event_key, payload, status, attempts, next_run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EventType, e.Key, e.Payload, string(e.Status), e.Attempts, e.NextRunAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", e.EventType, err)
	}
	return nil
}

type OutboxRepository struct {
	db DB
}

func NewOutboxRepository(db DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ClaimNext leases the oldest due event. SKIP LOCKED lets several workers poll
// the same table without blocking on each other.
func (r *OutboxRepository) ClaimNext(ctx context.Context) (*domain.OutboxEvent, error) {
	query := `
		UPDATE payment_events SET next_run_at = NOW() + make_interval(secs => $1)
		WHERE id = (
			SELECT id FROM payment_events
			WHERE status = 'PENDING' AND next_run_at <= NOW()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, event_key, payload, status, attempts, next_run_at, created_at
	`
	var (
		e      domain.OutboxEvent
		status string
	)
	err := r.db.QueryRow(ctx, query, leaseDuration.Seconds()).Scan(
		&e.ID, &e.EventType, &e.Key, &e.Payload, &status, &e.Attempts, &e.NextRunAt, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}
	e.Status = domain.OutboxStatus(status)
	return &e, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE payment_events SET status = 'SENT' WHERE id = $1`, id)
	return err
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextRunAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_events SET status = 'PENDING', attempts = $2, next_run_at = $3 WHERE id = $1`,
		id, attempts, nextRunAt)
	return err
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int) error {
	_, err := r.db.Exec(ctx, `UPDATE payment_events SET status = 'FAILED', attempts = $2 WHERE id = $1`, id, attempts)
	return err
}
