package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func checkExpectations(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func testPayment() *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		RefCommand: "PF-1",
		Amount:     domain.Money{Amount: decimal.NewFromInt(5000), Currency: domain.XOF},
		Status:     domain.PaymentPending,
		Method:     domain.MethodManual,
		Type:       domain.TypeSubscription,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPaymentRepository_CreateDuplicateReference(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	p := testPayment()

	mock.ExpectExec("INSERT INTO payments").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "payments_ref_command_key"})

	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := repo.Create(context.Background(), p)
	if !errors.Is(err, domain.ErrDuplicateReference) {
		t.Errorf("Expected ErrDuplicateReference, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_CreateUnknownUser(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)

	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	if err := repo.Create(context.Background(), testPayment()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func paymentRow(mock pgxmock.PgxPoolIface, p *domain.Payment, status string) *pgxmock.Rows {
	tok := "tok_1"
	return mock.NewRows([]string{
		"id", "user_id", "ref_command", "token", "amount", "currency", "status", "payment_method", "type",
		"admin_notes", "verified_by", "verified_at", "refunded_at", "created_at", "updated_at",
	}).AddRow(
		p.ID, p.UserID, p.RefCommand, &tok, "5000.00", "XOF", status, "paytech", "subscription",
		(*string)(nil), (*string)(nil), (*time.Time)(nil), (*time.Time)(nil), p.CreatedAt, p.UpdatedAt,
	)
}

func TestPaymentRepository_GetByRef(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	p := testPayment()

	mock.ExpectQuery("FROM payments WHERE ref_command").
		WithArgs("PF-1").
		WillReturnRows(paymentRow(mock, p, "approved"))
	mock.ExpectQuery("FROM payments WHERE ref_command").
		WithArgs("PF-404").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByRef(context.Background(), "PF-1")
	if err != nil {
		t.Fatalf("GetByRef failed: %v", err)
	}
	if got.Status != domain.PaymentApproved || got.Method != domain.MethodPayTech || got.Amount.String() != "5000" {
		t.Errorf("Unexpected payment: %+v", got)
	}
	if got.Token == nil || *got.Token != "tok_1" || got.VerifiedAt != nil {
		t.Errorf("Unexpected nullable fields: %+v", got)
	}

	if _, err := repo.GetByRef(context.Background(), "PF-404"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_ListByStatus(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	p := testPayment()

	mock.ExpectQuery("FROM payments").
		WithArgs("pending", 50).
		WillReturnRows(paymentRow(mock, p, "pending"))

	list, err := repo.ListByStatus(context.Background(), domain.PaymentPending, 50)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(list) != 1 || list[0].RefCommand != "PF-1" {
		t.Errorf("Unexpected list: %+v", list)
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_SetTokenNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)

	mock.ExpectExec("UPDATE payments SET token").
		WithArgs("PF-404", "tok").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.SetToken(context.Background(), "PF-404", "tok"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func approveTransition() domain.Transition {
	now := time.Now().UTC()
	return domain.Transition{
		RefCommand:      "PF-1",
		From:            domain.PaymentPending,
		To:              domain.PaymentApproved,
		Actor:           "gateway:paytech",
		At:              now,
		ActivateAccount: true,
		Event: &domain.OutboxEvent{
			ID:        uuid.New(),
			EventType: domain.EventPaymentApproved,
			Key:       "PF-1",
			Payload:   []byte(`{}`),
			Status:    domain.OutboxPending,
			NextRunAt: now,
			CreatedAt: now,
		},
	}
}

func TestPaymentRepository_ApplyTransition(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	tr := approveTransition()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs("PF-1", "approved", "gateway:paytech", tr.At, tr.Notes, "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users SET status = 'active'").
		WithArgs("PF-1", tr.At).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payment_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	applied, activated, err := repo.ApplyTransition(context.Background(), tr)
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}
	if !applied || !activated {
		t.Errorf("Expected applied and activated, got %v %v", applied, activated)
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_ApplyTransitionLostRace(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	tr := approveTransition()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	applied, activated, err := repo.ApplyTransition(context.Background(), tr)
	if err != nil || applied || activated {
		t.Errorf("Expected nothing applied, got %v %v %v", applied, activated, err)
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_ApplyTransitionAlreadyActive(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	tr := approveTransition()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO payment_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	applied, activated, err := repo.ApplyTransition(context.Background(), tr)
	if err != nil || !applied || activated {
		t.Errorf("Expected applied without activation, got %v %v %v", applied, activated, err)
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_ApplyTransitionOutboxFailureRollsBack(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	tr := approveTransition()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payment_events").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, _, err := repo.ApplyTransition(context.Background(), tr); err == nil {
		t.Error("Expected error")
	}
	checkExpectations(t, mock)
}

func TestPaymentRepository_MarkRefunded(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	at := time.Now().UTC()
	ev := approveTransition().Event

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments SET refunded_at").
		WithArgs("PF-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payment_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	marked, err := repo.MarkRefunded(context.Background(), "PF-1", at, ev)
	if err != nil || !marked {
		t.Errorf("Expected refund to be marked, got %v %v", marked, err)
	}
	checkExpectations(t, mock)
}

func TestUserRepository(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT id, email, status, created_at FROM users").
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{"id", "email", "status", "created_at"}).
			AddRow(id, "owner@example.com", "active", now))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT id, email, status, created_at FROM users").
		WillReturnError(pgx.ErrNoRows)

	u, err := repo.GetByID(context.Background(), id)
	if err != nil || u.Status != domain.AccountActive {
		t.Fatalf("Unexpected user: %+v %v", u, err)
	}
	paid, err := repo.HasApprovedPayment(context.Background(), id)
	if err != nil || !paid {
		t.Errorf("Expected approved payment, got %v %v", paid, err)
	}
	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestOutboxRepository(t *testing.T) {
	mock := newMock(t)
	repo := NewOutboxRepository(mock)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("UPDATE payment_events SET next_run_at").
		WillReturnRows(mock.NewRows([]string{"id", "event_type", "event_key", "payload", "status", "attempts", "next_run_at", "created_at"}).
			AddRow(id, "payment.approved", "PF-1", []byte(`{}`), "PENDING", 2, now, now))
	mock.ExpectQuery("UPDATE payment_events SET next_run_at").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE payment_events SET status = 'SENT'").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payment_events SET status = 'PENDING'").
		WithArgs(id, 3, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payment_events SET status = 'FAILED'").
		WithArgs(id, 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	ev, err := repo.ClaimNext(ctx)
	if err != nil || ev == nil || ev.Attempts != 2 || ev.Status != domain.OutboxPending {
		t.Fatalf("Unexpected claim: %+v %v", ev, err)
	}
	if ev, err := repo.ClaimNext(ctx); ev != nil || err != nil {
		t.Errorf("Expected empty claim, got %+v %v", ev, err)
	}
	if err := repo.MarkSent(ctx, id); err != nil {
		t.Error(err)
	}
	if err := repo.Reschedule(ctx, id, 3, now); err != nil {
		t.Error(err)
	}
	if err := repo.MarkFailed(ctx, id, 5); err != nil {
		t.Error(err)
	}
	checkExpectations(t, mock)
}

func TestIdempotencyRepository(t *testing.T) {
	mock := newMock(t)
	repo := NewIdempotencyRepository(mock)

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs("k1", claimTTL.Seconds()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs("k1", claimTTL.Seconds()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT response_status, response_body FROM idempotency_keys").
		WithArgs("k1").
		WillReturnRows(mock.NewRows([]string{"response_status", "response_body"}).AddRow(0, []byte{}))
	mock.ExpectExec("UPDATE idempotency_keys SET response_status").
		WithArgs("k1", 201, []byte(`{"ok":true}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT response_status, response_body FROM idempotency_keys").
		WithArgs("k1").
		WillReturnRows(mock.NewRows([]string{"response_status", "response_body"}).AddRow(201, []byte(`{"ok":true}`)))
	mock.ExpectExec("DELETE FROM idempotency_keys").
		WithArgs("k2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("SELECT response_status, response_body FROM idempotency_keys").
		WithArgs("k2").
		WillReturnError(pgx.ErrNoRows)

	ctx := context.Background()
	if claimed, err := repo.Claim(ctx, "k1"); !claimed || err != nil {
		t.Fatalf("Expected first claim to win, got %v %v", claimed, err)
	}
	if claimed, err := repo.Claim(ctx, "k1"); claimed || err != nil {
		t.Fatalf("Expected second claim to lose, got %v %v", claimed, err)
	}
	if status, _, found, err := repo.Lookup(ctx, "k1"); !found || status != 0 || err != nil {
		t.Fatalf("Expected in-flight claim, got %d %v %v", status, found, err)
	}
	if err := repo.Save(ctx, "k1", 201, []byte(`{"ok":true}`)); err != nil {
		t.Fatal(err)
	}
	status, body, found, err := repo.Lookup(ctx, "k1")
	if err != nil || !found || status != 201 || string(body) != `{"ok":true}` {
		t.Errorf("Unexpected hit: %d %s %v %v", status, body, found, err)
	}
	if err := repo.Release(ctx, "k2"); err != nil {
		t.Fatal(err)
	}
	if _, _, found, err := repo.Lookup(ctx, "k2"); found || err != nil {
		t.Errorf("Expected miss after release, got %v %v", found, err)
	}
	checkExpectations(t, mock)
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := Migrate(context.Background(), mock); err != nil {
		t.Errorf("Migrate failed: %v", err)
	}
	checkExpectations(t, mock)
}
