// Package mockln is an in-memory ports.LnService used by tests of the layers
// above the backend clients. Every method counts its calls.
package mockln

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
)

const prefix = "lnmock"

type invoice struct {
	domain.Invoice
	preimage string
}

type Service struct {
	mu sync.Mutex

	impl     domain.Implementation
	network  domain.Network
	invoices map[string]*invoice
	payments map[string]*domain.PaymentAttempt
	calls    map[string]int
	closed   bool

	// Err, when set, is returned by every call.
	Err error
	// FeeSat is the routing fee charged by successful payments.
	FeeSat int64
	// PayFailure makes payments fail with the given reason.
	PayFailure domain.FailureReason
	// PayInFlight leaves payments in flight until SettlePayment.
	PayInFlight bool
	// PayErr, when set, is returned by PayInvoice before the payment is
	// registered, as if the request never reached the node.
	PayErr error
	// Preimage, when set, replaces the preimage of successful payments.
	Preimage string
	// PayDelay delays payments, honoring the context deadline.
	PayDelay time.Duration
	// MaxFees records the fee limit of every payment.
	MaxFees []*int64

	WalletBalance  domain.WalletBalance
	ChannelBalance domain.ChannelBalance
	Channels       []domain.Channel
}

func New(impl domain.Implementation) *Service {
	return &Service{
		impl:     impl,
		network:  domain.Regtest,
		invoices: make(map[string]*invoice),
		payments: make(map[string]*domain.PaymentAttempt),
		calls:    make(map[string]int),
		FeeSat:   1,
	}
}

// Factory returns a ports.LnServiceFactory handing out svc.
func Factory(svc *Service) ports.LnServiceFactory {
	return func(_ context.Context, opts domain.LnConnectionOpts) (ports.LnService, error) {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		if opts.Network != "" {
			svc.network = opts.Network
		}
		return svc, nil
	}
}

// PaymentRequest encodes amount and hash into an opaque payment request.
func PaymentRequest(amountSat int64, paymentHash string) string {
	return fmt.Sprintf("%s%dn1%s", prefix, amountSat, paymentHash)
}

func (s *Service) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Service) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *Service) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AddInvoice registers an invoice created elsewhere, e.g. an expired one.
func (s *Service) AddInvoice(inv domain.Invoice) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	preimage := randomPreimage()
	if inv.PaymentHash == "" {
		inv.PaymentHash = hashOf(preimage)
	}
	if inv.PaymentRequest == "" {
		inv.PaymentRequest = PaymentRequest(inv.AmountSat, inv.PaymentHash)
	}
	s.invoices[inv.PaymentRequest] = &invoice{inv, preimage}
	return inv.PaymentRequest
}

// SettlePayment resolves an in-flight payment.
func (s *Service) SettlePayment(paymentHash string, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.payments[paymentHash]
	if !ok {
		return
	}
	if !succeeded {
		attempt.Status = domain.PaymentFailed
		attempt.FailureReason = domain.FailureNoRoute
		attempt.FeeSat = 0
		return
	}
	attempt.Status = domain.PaymentSucceeded
	attempt.FeeSat = s.FeeSat
	for _, inv := range s.invoices {
		if inv.PaymentHash == paymentHash {
			attempt.Preimage = inv.preimage
		}
	}
}

func (s *Service) track(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.Err
}

func (s *Service) Implementation() domain.Implementation {
	return s.impl
}

func (s *Service) GetInfo(ctx context.Context) (*domain.NodeInfo, error) {
	if err := s.track("GetInfo"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.NodeInfo{
		Implementation: s.impl,
		Network:        s.network,
		Version:        "mock",
		Pubkey:         "02" + strings.Repeat("00", 32),
		Alias:          "mock",
		NumChannels:    len(s.Channels),
	}, nil
}

func (s *Service) CreateInvoice(
	ctx context.Context, amountSat int64, memo string, expirySeconds int64,
) (*domain.Invoice, error) {
	if err := s.track("CreateInvoice"); err != nil {
		return nil, err
	}
	if amountSat <= 0 {
		return nil, domain.NewError(domain.InvalidArgument, "amount must be positive, got %d", amountSat)
	}
	if expirySeconds <= 0 {
		expirySeconds = domain.DefaultInvoiceExpiry
	}

	inv := domain.Invoice{
		AmountSat:     amountSat,
		Memo:          memo,
		ExpirySeconds: expirySeconds,
		CreatedAt:     time.Now(),
	}
	inv.PaymentRequest = s.AddInvoice(inv)

	s.mu.Lock()
	defer s.mu.Unlock()
	created := s.invoices[inv.PaymentRequest].Invoice
	return &created, nil
}

func (s *Service) DecodeInvoice(ctx context.Context, paymentRequest string) (*domain.Invoice, error) {
	if err := s.track("DecodeInvoice"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv, ok := s.invoices[paymentRequest]; ok {
		decoded := inv.Invoice
		return &decoded, nil
	}
	amount, hash, err := parse(paymentRequest)
	if err != nil {
		return nil, err
	}
	return &domain.Invoice{
		PaymentHash:    hash,
		PaymentRequest: paymentRequest,
		AmountSat:      amount,
		ExpirySeconds:  domain.DefaultInvoiceExpiry,
		CreatedAt:      time.Now(),
	}, nil
}

func (s *Service) PayInvoice(
	ctx context.Context, paymentRequest string, maxFeeSat *int64,
) (*domain.PaymentAttempt, error) {
	if err := s.track("PayInvoice"); err != nil {
		return nil, err
	}
	if err := s.payErr(); err != nil {
		return nil, err
	}
	if s.PayDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, domain.WrapError(domain.BackendTimeout, ctx.Err(), "payment timed out")
		case <-time.After(s.PayDelay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxFees = append(s.MaxFees, maxFeeSat)

	inv, ok := s.invoices[paymentRequest]
	if !ok {
		amount, hash, err := parse(paymentRequest)
		if err != nil {
			return nil, err
		}
		inv = &invoice{domain.Invoice{PaymentHash: hash, AmountSat: amount}, ""}
	}

	attempt := &domain.PaymentAttempt{
		PaymentHash: inv.PaymentHash,
		AmountSat:   inv.AmountSat,
		CreatedAt:   time.Now(),
	}
	switch {
	case s.PayFailure != domain.FailureNone:
		attempt.Status = domain.PaymentFailed
		attempt.FailureReason = s.PayFailure
	case s.PayInFlight:
		attempt.Status = domain.PaymentInFlight
	case maxFeeSat != nil && *maxFeeSat < s.FeeSat:
		attempt.Status = domain.PaymentFailed
		attempt.FailureReason = domain.FailureNoRoute
	default:
		attempt.Status = domain.PaymentSucceeded
		attempt.FeeSat = s.FeeSat
		attempt.Preimage = inv.preimage
		if s.Preimage != "" {
			attempt.Preimage = s.Preimage
		}
	}

	stored := *attempt
	s.payments[attempt.PaymentHash] = &stored
	return attempt, nil
}

func (s *Service) payErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PayErr
}

func (s *Service) GetPaymentStatus(ctx context.Context, paymentHash string) (*domain.PaymentAttempt, error) {
	if err := s.track("GetPaymentStatus"); err != nil {
		return nil, err
	}
	if !domain.IsValidPaymentHash(paymentHash) {
		return nil, domain.NewError(domain.InvalidArgument, "invalid payment hash %q", paymentHash)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.payments[paymentHash]
	if !ok {
		return nil, domain.NewError(domain.NotFound, "payment %s not found", paymentHash)
	}
	found := *attempt
	return &found, nil
}

func (s *Service) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	if err := s.track("GetWalletBalance"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.NewWalletBalance(s.WalletBalance.Confirmed, s.WalletBalance.Unconfirmed), nil
}

func (s *Service) GetChannelBalance(ctx context.Context) (*domain.ChannelBalance, error) {
	if err := s.track("GetChannelBalance"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := s.ChannelBalance
	return &balance, nil
}

func (s *Service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	if err := s.track("ListChannels"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Channel{}, s.Channels...), nil
}

func (s *Service) OpenChannel(
	ctx context.Context, peerPubkey string, localAmtSat, pushAmtSat int64, private bool,
) (*domain.ChannelOpen, error) {
	if err := s.track("OpenChannel"); err != nil {
		return nil, err
	}
	if localAmtSat <= 0 || pushAmtSat < 0 || pushAmtSat >= localAmtSat {
		return nil, domain.NewError(domain.InvalidArgument, "invalid channel amounts")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if localAmtSat > s.WalletBalance.Confirmed {
		return nil, domain.NewError(domain.ChannelOpenFailed, "not enough funds to open channel")
	}
	open := &domain.ChannelOpen{FundingTxid: hashOf(randomPreimage()), OutputIndex: 0}
	s.WalletBalance.Confirmed -= localAmtSat
	s.Channels = append(s.Channels, domain.Channel{
		ChannelPoint:  open.ChannelPoint(),
		ChanId:        strconv.Itoa(len(s.Channels) + 1),
		RemotePubkey:  peerPubkey,
		Capacity:      localAmtSat,
		LocalBalance:  localAmtSat - pushAmtSat,
		RemoteBalance: pushAmtSat,
		Private:       private,
	})
	return open, nil
}

func (s *Service) CloseChannel(
	ctx context.Context, channelPoint string, force bool,
) (*domain.ChannelClose, error) {
	if err := s.track("CloseChannel"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.Channels {
		if ch.ChannelPoint == channelPoint {
			s.Channels = append(s.Channels[:i], s.Channels[i+1:]...)
			return &domain.ChannelClose{
				ClosingTxid: hashOf(randomPreimage()),
				Status:      domain.CloseStatusFor(force),
			}, nil
		}
	}
	return nil, domain.NewError(domain.ChannelNotFound, "channel %s not found", channelPoint)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func parse(paymentRequest string) (int64, string, error) {
	rest, ok := strings.CutPrefix(paymentRequest, prefix)
	if !ok {
		return 0, "", domain.NewError(domain.MalformedInvoice, "unknown payment request %q", paymentRequest)
	}
	amount, hash, ok := strings.Cut(rest, "n1")
	if !ok || !domain.IsValidPaymentHash(hash) {
		return 0, "", domain.NewError(domain.MalformedInvoice, "malformed payment request %q", paymentRequest)
	}
	amountSat, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return 0, "", domain.NewError(domain.MalformedInvoice, "malformed amount in %q", paymentRequest)
	}
	return amountSat, hash, nil
}

func randomPreimage() string {
	buf := make([]byte, 32)
	// nolint
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

func hashOf(preimage string) string {
	buf, _ := hex.DecodeString(preimage)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
