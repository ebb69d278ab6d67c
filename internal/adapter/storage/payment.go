package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const paymentColumns = `id, user_id, ref_command, token, amount::text, currency, status, payment_method, type,
	admin_notes, verified_by, verified_at, refunded_at, created_at, updated_at`

type PaymentRepository struct {
	db DB
}

func NewPaymentRepository(db DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a pending payment. A reused ref_command is reported as
// domain.ErrDuplicateReference.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (id, user_id, ref_command, token, amount, currency, status, payment_method, type, admin_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.RefCommand, p.Token, p.Amount.Amount.String(), string(p.Amount.Currency),
		string(p.Status), string(p.Method), p.Type, p.AdminNotes, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return fmt.Errorf("%w: %s", domain.ErrDuplicateReference, p.RefCommand)
			case pgForeignKeyViolation:
				return domain.ErrUserNotFound
			}
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByRef(ctx context.Context, ref string) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE ref_command = $1`, ref)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// ListByStatus returns the newest payments first. An empty status lists all.
func (r *PaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) SetToken(ctx context.Context, ref, token string) error {
	tag, err := r.db.Exec(ctx, `UPDATE payments SET token = $2, updated_at = NOW() WHERE ref_command = $1`, ref, token)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// ApplyTransition writes a decided transition in one transaction. The status
// update only matches while the payment is still in t.From, so of two concurrent
// writers exactly one gets applied=true; the other changes nothing.
func (r *PaymentRepository) ApplyTransition(ctx context.Context, t domain.Transition) (applied, activated bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Conditional status update
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, verified_by = $3, verified_at = $4, admin_notes = COALESCE($5, admin_notes), updated_at = $4
		WHERE ref_command = $1 AND status = $6`,
		t.RefCommand, string(t.To), t.Actor, t.At, t.Notes, string(t.From))
	if err != nil {
		return false, false, fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, false, nil
	}

	// 2. Account activation
	if t.ActivateAccount {
		tag, err = tx.Exec(ctx, `
			UPDATE users SET status = 'active', updated_at = $2
			WHERE id = (SELECT user_id FROM payments WHERE ref_command = $1) AND status <> 'active'`,
			t.RefCommand, t.At)
		if err != nil {
			return false, false, fmt.Errorf("failed to activate account: %w", err)
		}
		activated = tag.RowsAffected() > 0
	}

	// 3. Outbox
	if t.Event != nil {
		if err := insertEvent(ctx, tx, *t.Event); err != nil {
			return false, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, fmt.Errorf("failed to commit transition: %w", err)
	}
	return true, activated, nil
}

// MarkRefunded stamps refunded_at on an approved payment once.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, ref string, at time.Time, event *domain.OutboxEvent) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payments SET refunded_at = $2, updated_at = $2
		WHERE ref_command = $1 AND status = 'approved' AND refunded_at IS NULL`, ref, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if event != nil {
		if err := insertEvent(ctx, tx, *event); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit refund: %w", err)
	}
	return true, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p                              domain.Payment
		amount, currency, status, meth string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.RefCommand, &p.Token, &amount, &currency, &status, &meth, &p.Type,
		&p.AdminNotes, &p.VerifiedBy, &p.VerifiedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	cur := domain.Currency(currency)
	p.Amount = domain.Money{Amount: value.Round(cur.Scale()), Currency: cur}
	p.Status = domain.PaymentStatus(status)
	p.Method = domain.PaymentMethod(meth)
	return &p, nil
}
