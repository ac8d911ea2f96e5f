package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	paymentDir = "payment"
)

type paymentRepository struct {
	store *badgerhold.Store
}

func NewPaymentRepository(baseDir string, logger badger.Logger) (domain.PaymentRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, paymentDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open payment store: %s", err)
	}
	return &paymentRepository{store}, nil
}

func (r *paymentRepository) GetAll(ctx context.Context) ([]domain.Payment, error) {
	var payments []domain.Payment
	if err := r.store.Find(&payments, nil); err != nil {
		return nil, fmt.Errorf("failed to get all payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) GetByStatus(
	ctx context.Context, status domain.PaymentStatus,
) ([]domain.Payment, error) {
	var payments []domain.Payment
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")
	if err := r.store.Find(&payments, query); err != nil {
		return nil, fmt.Errorf("failed to get payments with status %s: %w", status, err)
	}
	return payments, nil
}

func (r *paymentRepository) GetSince(ctx context.Context, timestamp int64) ([]domain.Payment, error) {
	var payments []domain.Payment
	query := badgerhold.Where("CreatedAt").Ge(timestamp).SortBy("CreatedAt")
	if err := r.store.Find(&payments, query); err != nil {
		return nil, fmt.Errorf("failed to get payments since %d: %w", timestamp, err)
	}
	return payments, nil
}

func (r *paymentRepository) Get(ctx context.Context, paymentId string) (*domain.Payment, error) {
	var payment domain.Payment
	err := r.store.Get(paymentId, &payment)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.NewError(domain.NotFound, "payment %s not found", paymentId)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Add stores a new Payment in the database. A failed payment is replaced,
// since its invoice can be paid again.
func (r *paymentRepository) Add(ctx context.Context, payment domain.Payment) error {
	now := time.Now().Unix()
	if payment.CreatedAt == 0 {
		payment.CreatedAt = now
	}
	if payment.UpdatedAt == 0 {
		payment.UpdatedAt = payment.CreatedAt
	}

	err := r.store.Insert(payment.Id, payment)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badgerhold.ErrKeyExists) {
		return err
	}

	current, err := r.Get(ctx, payment.Id)
	if err != nil {
		return err
	}
	if current.Status != domain.PaymentFailed {
		return fmt.Errorf("payment %s already exists", payment.Id)
	}
	return r.store.Upsert(payment.Id, payment)
}

// Update rejects transitions out of a terminal status.
func (r *paymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	current, err := r.Get(ctx, payment.Id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(payment.Status) {
		return fmt.Errorf(
			"payment %s cannot move from %s to %s", payment.Id, current.Status, payment.Status,
		)
	}
	payment.CreatedAt = current.CreatedAt
	payment.UpdatedAt = time.Now().Unix()
	return r.store.Update(payment.Id, &payment)
}

func (r *paymentRepository) Close() {
	// nolint:all
	r.store.Close()
}
