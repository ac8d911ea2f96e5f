package ports

import (
	"context"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
)

// LnService is the capability set every backend variant implements.
//
// Every error returned is a *domain.Error. Routing failures are not errors:
// PayInvoice reports them as a FAILED attempt with a failure reason.
type LnService interface {
	Implementation() domain.Implementation
	GetInfo(ctx context.Context) (*domain.NodeInfo, error)
	CreateInvoice(
		ctx context.Context, amountSat int64, memo string, expirySeconds int64,
	) (*domain.Invoice, error)
	DecodeInvoice(ctx context.Context, paymentRequest string) (*domain.Invoice, error)
	// PayInvoice blocks until the backend reports a result. A nil maxFeeSat
	// leaves the fee ceiling to the backend.
	PayInvoice(
		ctx context.Context, paymentRequest string, maxFeeSat *int64,
	) (*domain.PaymentAttempt, error)
	GetPaymentStatus(ctx context.Context, paymentHash string) (*domain.PaymentAttempt, error)
	GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error)
	GetChannelBalance(ctx context.Context) (*domain.ChannelBalance, error)
	ListChannels(ctx context.Context) ([]domain.Channel, error)
	OpenChannel(
		ctx context.Context, peerPubkey string, localAmtSat, pushAmtSat int64, private bool,
	) (*domain.ChannelOpen, error)
	CloseChannel(ctx context.Context, channelPoint string, force bool) (*domain.ChannelClose, error)
	Close() error
}

// LnServiceFactory builds a connected backend client.
type LnServiceFactory func(ctx context.Context, opts domain.LnConnectionOpts) (LnService, error)
