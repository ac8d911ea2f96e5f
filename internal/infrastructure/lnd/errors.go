package lnd

import (
	"context"
	"errors"
	"strings"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorFromCode maps a gRPC status onto the error taxonomy. Codes without a
// transport-level meaning fall back to the kind of the calling operation.
func ErrorFromCode(code codes.Code, message, op string, fallback domain.ErrorKind) *domain.Error {
	switch code {
	case codes.DeadlineExceeded:
		return domain.NewError(domain.BackendTimeout, "%s: lnd did not answer in time: %s", op, message)
	case codes.Unavailable, codes.Canceled, codes.Unauthenticated, codes.PermissionDenied:
		return domain.NewError(domain.BackendUnavailable, "%s: %s", op, message)
	case codes.NotFound:
		if fallback == domain.ChannelNotFound {
			return domain.NewError(domain.ChannelNotFound, "%s: %s", op, message)
		}
		return domain.NewError(domain.NotFound, "%s: %s", op, message)
	case codes.InvalidArgument:
		if fallback == domain.MalformedInvoice {
			return domain.NewError(domain.MalformedInvoice, "%s: %s", op, message)
		}
		return domain.NewError(domain.InvalidArgument, "%s: %s", op, message)
	}
	return domain.NewError(fallback, "%s: %s", op, message)
}

func mapError(err error, op string, fallback domain.ErrorKind) error {
	if err == nil {
		return nil
	}
	var dErr *domain.Error
	if errors.As(err, &dErr) {
		return dErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.BackendTimeout, err, "%s", op)
	}
	st, ok := status.FromError(err)
	if !ok {
		return domain.WrapError(fallback, err, "%s", op)
	}
	return ErrorFromCode(st.Code(), st.Message(), op, fallback)
}

// IsPaymentNotFound matches the ways lnd reports a hash it never saw.
func IsPaymentNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "isn't initiated") ||
		strings.Contains(msg, "not initiated") ||
		strings.Contains(msg, "payment not found") ||
		strings.Contains(msg, "unable to find payment")
}

func IsChannelNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "unable to find")
}

// IsMalformedInvoice matches the decoder failures lnd returns for bad payment requests.
func IsMalformedInvoice(msg string) bool {
	msg = strings.ToLower(msg)
	for _, hint := range []string{
		"bech32", "checksum", "invalid payment request", "invalid index of 1",
		"invoice not for current active network", "malformed", "invalid character",
		"failed converting data", "unknown human-readable part", "string not all lowercase",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
