package cln

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	clnGetInfoCmd          = "getinfo"
	clnCreateInvoiceCmd    = "invoice"
	clnDecodePayCmd        = "decodepay"
	clnPayInvoiceCmd       = "pay"
	clnListPaysCmd         = "listpays"
	clnListFundsCmd        = "listfunds"
	clnListPeerChannelsCmd = "listpeerchannels"
	clnFundChannelCmd      = "fundchannel"
	clnCloseCmd            = "close"

	stateNormal = "CHANNELD_NORMAL"
	// Seconds lightningd waits for a cooperative close before going unilateral.
	forceCloseTimeout = 1
)

var pendingOpenStates = map[string]bool{
	"OPENINGD":                  true,
	"CHANNELD_AWAITING_LOCKIN":  true,
	"DUALOPEND_OPEN_INIT":       true,
	"DUALOPEND_OPEN_COMMITTED":  true,
	"DUALOPEND_AWAITING_LOCKIN": true,
}

type service struct {
	opts domain.LnConnectionOpts
	rpc  *rpcClient
}

// NewService checks the socket path points at a unix socket and that
// lightningd answers on it.
func NewService(ctx context.Context, opts domain.LnConnectionOpts) (ports.LnService, error) {
	if len(opts.SocketPath) == 0 {
		return nil, fmt.Errorf("missing lightningd socket path")
	}
	fi, err := os.Stat(opts.SocketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("socket %s does not exist", opts.SocketPath)
		}
		return nil, fmt.Errorf("failed to stat socket %s: %w", opts.SocketPath, err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("%s is not a unix socket", opts.SocketPath)
	}

	if opts.Implementation == "" {
		opts.Implementation = domain.CLightning
	}
	svc := &service{opts, &rpcClient{opts.SocketPath}}

	info := GetInfoResponse{}
	if err := svc.rpc.call(ctx, clnGetInfoCmd, nil, &info); err != nil {
		return nil, fmt.Errorf("unable to get info: %w", err)
	}
	if len(info.Id) == 0 {
		return nil, fmt.Errorf("something went wrong, pubkey is empty")
	}

	log.Infof("connected to c-lightning version %s with pubkey %s", info.Version, info.Id)
	return svc, nil
}

func (s *service) Implementation() domain.Implementation {
	return s.opts.Implementation
}

func (s *service) GetInfo(ctx context.Context) (*domain.NodeInfo, error) {
	info := GetInfoResponse{}
	if err := s.rpc.call(ctx, clnGetInfoCmd, nil, &info); err != nil {
		return nil, mapError(err, "failed to get node info", domain.Internal)
	}

	network := s.opts.Network
	if n := networkFromCln(info.Network); n.IsValid() {
		network = n
	}
	return &domain.NodeInfo{
		Implementation: s.opts.Implementation,
		Network:        network,
		Version:        info.Version,
		Pubkey:         info.Id,
		Alias:          info.Alias,
		NumChannels:    info.NumActiveChannels + info.NumInactiveChannels + info.NumPendingChannels,
	}, nil
}

func (s *service) CreateInvoice(
	ctx context.Context, amountSat int64, memo string, expirySeconds int64,
) (*domain.Invoice, error) {
	if amountSat <= 0 {
		return nil, domain.NewError(domain.InvalidArgument, "amount must be positive, got %d", amountSat)
	}
	if expirySeconds <= 0 {
		expirySeconds = domain.DefaultInvoiceExpiry
	}

	resp := CreateInvoiceResponse{}
	req := CreateInvoiceRequest{
		AmountMsat:  amountSat * 1000,
		Label:       uuid.New().String(),
		Description: memo,
		Expiry:      expirySeconds,
	}
	if err := s.rpc.call(ctx, clnCreateInvoiceCmd, req, &resp); err != nil {
		return nil, mapError(err, "failed to create invoice", domain.Internal)
	}

	createdAt := time.Now()
	if resp.ExpiresAt > 0 {
		createdAt = time.Unix(resp.ExpiresAt-expirySeconds, 0)
	}
	return &domain.Invoice{
		PaymentHash:    resp.PaymentHash,
		PaymentRequest: resp.Bolt11,
		AmountSat:      amountSat,
		Memo:           memo,
		ExpirySeconds:  expirySeconds,
		CreatedAt:      createdAt,
	}, nil
}

func (s *service) DecodeInvoice(ctx context.Context, paymentRequest string) (*domain.Invoice, error) {
	if len(paymentRequest) == 0 {
		return nil, domain.NewError(domain.MalformedInvoice, "empty payment request")
	}

	resp := DecodePayResponse{}
	params := map[string]any{"bolt11": paymentRequest}
	if err := s.rpc.call(ctx, clnDecodePayCmd, params, &resp); err != nil {
		return nil, mapError(err, "failed to decode invoice", domain.MalformedInvoice)
	}

	return &domain.Invoice{
		PaymentHash:    resp.PaymentHash,
		PaymentRequest: paymentRequest,
		AmountSat:      resp.AmountMsat.Sat(),
		Memo:           resp.Description,
		Destination:    resp.Payee,
		ExpirySeconds:  resp.Expiry,
		CreatedAt:      time.Unix(resp.CreatedAt, 0),
	}, nil
}

func (s *service) PayInvoice(
	ctx context.Context, paymentRequest string, maxFeeSat *int64,
) (*domain.PaymentAttempt, error) {
	req := PayRequest{Bolt11: paymentRequest}
	if maxFeeSat != nil {
		maxFeeMsat := *maxFeeSat * 1000
		req.MaxFee = &maxFeeMsat
	}

	resp := PayInvoiceResponse{}
	if err := s.rpc.call(ctx, clnPayInvoiceCmd, req, &resp); err != nil {
		return payFailure(err)
	}
	return attemptFromPay(resp), nil
}

func payFailure(err error) (*domain.PaymentAttempt, error) {
	rErr, ok := err.(*rpcError)
	if !ok {
		return nil, domain.AsError(err)
	}

	hash := rErr.paymentHash()
	switch rErr.Code {
	case codeInvalidParams:
		return nil, domain.NewError(domain.MalformedInvoice, "failed to pay invoice: %s", rErr.Message)
	case codePayInProgress:
		return &domain.PaymentAttempt{
			PaymentHash: hash,
			Status:      domain.PaymentInFlight,
			CreatedAt:   time.Now(),
		}, nil
	case codePayRhashAlreadyUsed:
		return nil, domain.NewError(domain.InvalidArgument, "invoice already paid: %s", rErr.Message)
	case codePayRouteNotFound, codePayRouteTooExpensive, codePayStoppedRetrying, codePayUnparsableOnion:
		reason := domain.FailureNoRoute
		if strings.Contains(strings.ToLower(rErr.Message), "insufficient") {
			reason = domain.FailureInsufficientBalance
		}
		return domain.NewFailedAttempt(hash, reason), nil
	case codePayInvoiceExpired:
		return domain.NewFailedAttempt(hash, domain.FailureExpired), nil
	}
	if strings.Contains(strings.ToLower(rErr.Message), "insufficient") {
		return domain.NewFailedAttempt(hash, domain.FailureInsufficientBalance), nil
	}
	return nil, domain.NewError(domain.Internal, "failed to pay invoice: %s", rErr.Message)
}

func attemptFromPay(resp PayInvoiceResponse) *domain.PaymentAttempt {
	attempt := &domain.PaymentAttempt{
		PaymentHash: resp.PaymentHash,
		AmountSat:   resp.AmountMsat.Sat(),
		CreatedAt:   time.Unix(int64(resp.CreatedAt), 0),
	}
	switch resp.Status {
	case "complete":
		attempt.Status = domain.PaymentSucceeded
		attempt.Preimage = resp.PaymentPreimage
		attempt.FeeSat = (resp.AmountSentMsat - resp.AmountMsat).Sat()
	case "failed":
		attempt.Status = domain.PaymentFailed
		attempt.FailureReason = domain.FailureUnknown
	default:
		attempt.Status = domain.PaymentInFlight
	}
	return attempt
}

func (s *service) GetPaymentStatus(ctx context.Context, paymentHash string) (*domain.PaymentAttempt, error) {
	if !domain.IsValidPaymentHash(paymentHash) {
		return nil, domain.NewError(domain.InvalidArgument, "invalid payment hash %q", paymentHash)
	}

	resp := ListPaysResponse{}
	params := map[string]any{"payment_hash": paymentHash}
	if err := s.rpc.call(ctx, clnListPaysCmd, params, &resp); err != nil {
		return nil, mapError(err, "failed to get payment status", domain.Internal)
	}
	if len(resp.Pays) == 0 {
		return nil, domain.NewError(domain.NotFound, "payment %s not found", paymentHash)
	}

	// A hash may have several pay attempts. One completed attempt settles it,
	// one pending attempt keeps it in flight.
	attempt := &domain.PaymentAttempt{
		PaymentHash:   paymentHash,
		Status:        domain.PaymentFailed,
		FailureReason: domain.FailureUnknown,
	}
	for _, pay := range resp.Pays {
		attempt.AmountSat = pay.AmountMsat.Sat()
		attempt.CreatedAt = time.Unix(pay.CreatedAt, 0)
		switch pay.Status {
		case "complete":
			attempt.Status = domain.PaymentSucceeded
			attempt.FailureReason = domain.FailureNone
			attempt.Preimage = pay.Preimage
			attempt.FeeSat = (pay.AmountSentMsat - pay.AmountMsat).Sat()
			return attempt, nil
		case "pending":
			attempt.Status = domain.PaymentInFlight
			attempt.FailureReason = domain.FailureNone
		}
	}
	return attempt, nil
}

func (s *service) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	resp := ListFundsResponse{}
	if err := s.rpc.call(ctx, clnListFundsCmd, nil, &resp); err != nil {
		return nil, mapError(err, "failed to get wallet balance", domain.Internal)
	}

	var confirmed, unconfirmed int64
	for _, out := range resp.Outputs {
		if out.Reserved {
			continue
		}
		switch out.Status {
		case "confirmed":
			confirmed += out.AmountMsat.Sat()
		case "unconfirmed":
			unconfirmed += out.AmountMsat.Sat()
		}
	}
	return domain.NewWalletBalance(confirmed, unconfirmed), nil
}

func (s *service) listPeerChannels(ctx context.Context) ([]PeerChannel, error) {
	resp := ListPeerChannelsResponse{}
	if err := s.rpc.call(ctx, clnListPeerChannelsCmd, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

func (s *service) GetChannelBalance(ctx context.Context) (*domain.ChannelBalance, error) {
	channels, err := s.listPeerChannels(ctx)
	if err != nil {
		return nil, mapError(err, "failed to get channel balance", domain.Internal)
	}

	balance := &domain.ChannelBalance{}
	for _, ch := range channels {
		switch {
		case ch.State == stateNormal:
			balance.Balance += ch.ToUsMsat.Sat()
		case pendingOpenStates[ch.State]:
			balance.PendingOpenBalance += ch.ToUsMsat.Sat()
		}
	}
	return balance, nil
}

func (s *service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	peerChannels, err := s.listPeerChannels(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list channels", domain.Internal)
	}

	channels := make([]domain.Channel, 0, len(peerChannels))
	for _, ch := range peerChannels {
		if ch.State != stateNormal {
			continue
		}
		capacity := ch.TotalMsat.Sat()
		local := ch.ToUsMsat.Sat()
		channels = append(channels, domain.Channel{
			ChannelPoint:  fmt.Sprintf("%s:%d", ch.FundingTxid, ch.FundingOutnum),
			ChanId:        ch.ShortChannelId,
			RemotePubkey:  ch.PeerId,
			Capacity:      capacity,
			LocalBalance:  local,
			RemoteBalance: capacity - local,
			Active:        ch.PeerConnected,
			Private:       ch.Private,
		})
	}
	return channels, nil
}

func (s *service) OpenChannel(
	ctx context.Context, peerPubkey string, localAmtSat, pushAmtSat int64, private bool,
) (*domain.ChannelOpen, error) {
	if !isValidPubkey(peerPubkey) {
		return nil, domain.NewError(domain.InvalidArgument, "invalid peer pubkey %q", peerPubkey)
	}
	if localAmtSat <= 0 {
		return nil, domain.NewError(domain.InvalidArgument, "local amount must be positive, got %d", localAmtSat)
	}
	if pushAmtSat < 0 || pushAmtSat >= localAmtSat {
		return nil, domain.NewError(
			domain.InvalidArgument, "push amount must be in [0, %d), got %d", localAmtSat, pushAmtSat,
		)
	}

	resp := FundChannelResponse{}
	req := FundChannelRequest{
		Id:       peerPubkey,
		Amount:   localAmtSat,
		PushMsat: pushAmtSat * 1000,
		Announce: !private,
	}
	if err := s.rpc.call(ctx, clnFundChannelCmd, req, &resp); err != nil {
		return nil, mapError(err, "failed to open channel", domain.ChannelOpenFailed)
	}
	return &domain.ChannelOpen{FundingTxid: resp.Txid, OutputIndex: resp.Outnum}, nil
}

func (s *service) CloseChannel(
	ctx context.Context, channelPoint string, force bool,
) (*domain.ChannelClose, error) {
	txid, index, err := splitChannelPoint(channelPoint)
	if err != nil {
		return nil, err
	}

	// close addresses channels by id, so resolve the funding outpoint first.
	channels, err := s.listPeerChannels(ctx)
	if err != nil {
		return nil, mapError(err, "failed to close channel", domain.Internal)
	}
	var channelId string
	for _, ch := range channels {
		if ch.FundingTxid == txid && ch.FundingOutnum == index {
			channelId = ch.ChannelId
			break
		}
	}
	if channelId == "" {
		return nil, domain.NewError(domain.ChannelNotFound, "channel %s not found", channelPoint)
	}

	req := CloseRequest{Id: channelId}
	if force {
		timeout := forceCloseTimeout
		req.UnilateralTimeout = &timeout
	}
	resp := CloseResponse{}
	if err := s.rpc.call(ctx, clnCloseCmd, req, &resp); err != nil {
		return nil, mapError(err, "failed to close channel", domain.Internal)
	}

	return &domain.ChannelClose{
		ClosingTxid: resp.Txid,
		Status:      domain.CloseStatusFor(force || resp.Type == "unilateral"),
	}, nil
}

func (s *service) Close() error {
	return nil
}
