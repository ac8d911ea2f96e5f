package domain

import (
	"context"
)

// Payment is the journaled view of an outgoing PaymentAttempt, keyed by
// payment hash.
type Payment struct {
	Id             string
	PaymentRequest string
	AmountSat      int64
	MaxFeeSat      int64
	FeeSat         int64
	Status         PaymentStatus
	FailureReason  FailureReason
	Preimage       string
	CreatedAt      int64
	UpdatedAt      int64
}

// Outbound is the amount the payment counts against the daily limit.
// In-flight payments count with their fee ceiling.
func (p Payment) Outbound() int64 {
	switch p.Status {
	case PaymentSucceeded:
		return p.AmountSat + p.FeeSat
	case PaymentInFlight:
		return p.AmountSat + p.MaxFeeSat
	}
	return 0
}

// PaymentRepository stores the payments issued through the service
type PaymentRepository interface {
	GetAll(ctx context.Context) ([]Payment, error)
	GetByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error)
	GetSince(ctx context.Context, timestamp int64) ([]Payment, error)
	Get(ctx context.Context, paymentId string) (*Payment, error)
	Add(ctx context.Context, payment Payment) error
	Update(ctx context.Context, payment Payment) error
	Close()
}
