package application

import (
	"math"
	"strings"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
)

// normalizeMaxFee turns the optional fee bounds into an absolute fee in sat,
// rounding percentages down. When both are given the smaller one applies.
func normalizeMaxFee(
	amountSat int64, maxFeeSat *int64, maxFeePercent *float64, defaultPercent float64,
) int64 {
	fromPercent := func(pct float64) int64 {
		return int64(math.Floor(float64(amountSat)*pct/100 + 1e-9))
	}

	switch {
	case maxFeeSat != nil && maxFeePercent != nil:
		return min(*maxFeeSat, fromPercent(*maxFeePercent))
	case maxFeeSat != nil:
		return *maxFeeSat
	case maxFeePercent != nil:
		return fromPercent(*maxFeePercent)
	}
	return fromPercent(defaultPercent)
}

func normalize(err error) error {
	if err == nil {
		return nil
	}
	return domain.AsError(err)
}

// checkAttempt rejects a backend result that does not belong to paymentHash
// or breaks the status invariants, e.g. a preimage not matching the hash.
func checkAttempt(attempt *domain.PaymentAttempt, paymentHash string) error {
	if !strings.EqualFold(attempt.PaymentHash, paymentHash) {
		return domain.NewError(
			domain.Internal, "backend reported payment %s for %s", attempt.PaymentHash, paymentHash,
		)
	}
	if err := attempt.Validate(); err != nil {
		return domain.WrapError(domain.Internal, err, "backend reported an invalid payment %s", paymentHash)
	}
	return nil
}
