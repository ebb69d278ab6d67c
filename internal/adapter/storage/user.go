package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID loads the payment projection of a user. Unknown ids return domain.ErrUserNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var (
		u      domain.User
		status string
	)
	err := r.db.QueryRow(ctx, `SELECT id, email, status, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &status, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	u.Status = domain.AccountStatus(status)
	return &u, nil
}

// HasApprovedPayment reports whether any payment of the user is approved.
func (r *UserRepository) HasApprovedPayment(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE user_id = $1 AND status = 'approved')`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check payments: %w", err)
	}
	return exists, nil
}
