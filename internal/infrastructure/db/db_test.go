package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/db"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestRepoManager(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := db.NewService(db.ServiceConfig{DbType: "sqlite"})
		require.ErrorContains(t, err, "unsupported db type")

		_, err = db.NewService(db.ServiceConfig{DbType: "badger", DbConfig: []any{""}})
		require.ErrorContains(t, err, "must have 2 elements")

		_, err = db.NewService(db.ServiceConfig{DbType: "badger", DbConfig: []any{1, nil}})
		require.ErrorContains(t, err, "invalid base directory")
	})

	t.Run("in memory", func(t *testing.T) {
		svc, err := db.NewService(db.ServiceConfig{DbType: "badger", DbConfig: []any{"", nil}})
		require.NoError(t, err)
		defer svc.Close()

		testPaymentRepository(t, svc)
	})

	t.Run("on disk", func(t *testing.T) {
		dir := t.TempDir()
		svc, err := db.NewService(db.ServiceConfig{DbType: "badger", DbConfig: []any{dir, nil}})
		require.NoError(t, err)

		payment := makePayment(domain.PaymentInFlight, time.Now())
		require.NoError(t, svc.Payments().Add(ctx, payment))
		svc.Close()

		svc, err = db.NewService(db.ServiceConfig{DbType: "badger", DbConfig: []any{dir, nil}})
		require.NoError(t, err)
		defer svc.Close()

		got, err := svc.Payments().Get(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, payment.AmountSat, got.AmountSat)
		require.Equal(t, domain.PaymentInFlight, got.Status)
	})
}

func testPaymentRepository(t *testing.T, svc ports.RepoManager) {
	repo := svc.Payments()
	now := time.Now()

	old := makePayment(domain.PaymentSucceeded, now.Add(-48*time.Hour))
	recent := makePayment(domain.PaymentInFlight, now.Add(-time.Hour))
	latest := makePayment(domain.PaymentInFlight, now)

	_, err := repo.Get(ctx, recent.Id)
	require.ErrorIs(t, err, domain.ErrNotFound)

	for _, p := range []domain.Payment{old, recent, latest} {
		require.NoError(t, repo.Add(ctx, p))
	}
	err = repo.Add(ctx, recent)
	require.ErrorContains(t, err, "already exists")

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	inFlight, err := repo.GetByStatus(ctx, domain.PaymentInFlight)
	require.NoError(t, err)
	require.Len(t, inFlight, 2)
	require.Equal(t, recent.Id, inFlight[0].Id)

	since, err := repo.GetSince(ctx, now.Add(-24*time.Hour).Unix())
	require.NoError(t, err)
	require.Len(t, since, 2)

	recent.Status = domain.PaymentSucceeded
	recent.FeeSat = 3
	recent.Preimage = "00"
	require.NoError(t, repo.Update(ctx, recent))

	got, err := repo.Get(ctx, recent.Id)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentSucceeded, got.Status)
	require.Equal(t, int64(3), got.FeeSat)
	require.Equal(t, recent.CreatedAt, got.CreatedAt)
	require.GreaterOrEqual(t, got.UpdatedAt, got.CreatedAt)
	require.Equal(t, recent.AmountSat+3, got.Outbound())

	recent.Status = domain.PaymentFailed
	err = repo.Update(ctx, recent)
	require.ErrorContains(t, err, "cannot move from SUCCEEDED to FAILED")

	err = repo.Update(ctx, makePayment(domain.PaymentFailed, now))
	require.ErrorIs(t, err, domain.ErrNotFound)

	latest.Status = domain.PaymentFailed
	latest.FailureReason = domain.FailureNoRoute
	require.NoError(t, repo.Update(ctx, latest))
	latest.Status = domain.PaymentInFlight
	latest.FailureReason = domain.FailureNone
	require.NoError(t, repo.Add(ctx, latest))

	got, err = repo.Get(ctx, latest.Id)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentInFlight, got.Status)
	require.Empty(t, got.FailureReason)
}

var counter int

func makePayment(status domain.PaymentStatus, createdAt time.Time) domain.Payment {
	counter++
	return domain.Payment{
		Id:             fmt.Sprintf("%064x", counter),
		PaymentRequest: fmt.Sprintf("lnbcrt%d", counter),
		AmountSat:      int64(1000 * counter),
		MaxFeeSat:      30,
		Status:         status,
		CreatedAt:      createdAt.Unix(),
	}
}
