package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	"github.com/ArkLabsHQ/lightning-mcp/pkg/macaroon"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

const maxMsgRecvSize = 200 * 1024 * 1024

type service struct {
	opts   domain.LnConnectionOpts
	conn   *grpc.ClientConn
	client lnrpc.LightningClient
	router routerrpc.RouterClient
}

// NewService dials the lnd gRPC interface and verifies the connection with
// a GetInfo call before handing the client out.
func NewService(ctx context.Context, opts domain.LnConnectionOpts) (ports.LnService, error) {
	if len(opts.RpcServer) == 0 {
		return nil, fmt.Errorf("missing lnd rpc server address")
	}

	creds, err := credentials.NewClientTLSFromFile(opts.TlsCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load tls cert at path %s: %w", opts.TlsCertPath, err)
	}
	mac, err := macaroon.Load(opts.MacaroonPath)
	if err != nil {
		return nil, err
	}

	dialOpts := append(
		clientInterceptors(mac),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgRecvSize)),
	)
	conn, err := grpc.NewClient(opts.RpcServer, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create lnd client: %w", err)
	}

	svc := newService(opts, conn)
	if err := svc.connect(ctx); err != nil {
		// nolint
		conn.Close()
		return nil, err
	}
	return svc, nil
}

func newService(opts domain.LnConnectionOpts, conn *grpc.ClientConn) *service {
	if opts.Implementation == "" {
		opts.Implementation = domain.LND
	}
	return &service{
		opts:   opts,
		conn:   conn,
		client: lnrpc.NewLightningClient(conn),
		router: routerrpc.NewRouterClient(conn),
	}
}

func clientInterceptors(mac *macaroon.Credential) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(
			unaryMacaroonInterceptor(mac), unaryLogger,
		)),
		grpc.WithStreamInterceptor(grpc_middleware.ChainStreamClient(
			streamMacaroonInterceptor(mac), streamLogger,
		)),
	}
}

func (s *service) connect(ctx context.Context) error {
	info, err := s.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return fmt.Errorf("unable to get info: %w", err)
	}
	if len(info.GetVersion()) == 0 {
		return fmt.Errorf("something went wrong, version is empty")
	}
	if len(info.GetIdentityPubkey()) == 0 {
		return fmt.Errorf("something went wrong, pubkey is empty")
	}

	log.Infof(
		"connected to LND version %s with pubkey %s", info.GetVersion(), info.GetIdentityPubkey(),
	)
	return nil
}

func (s *service) Implementation() domain.Implementation {
	return s.opts.Implementation
}

func (s *service) GetInfo(ctx context.Context) (*domain.NodeInfo, error) {
	info, err := s.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, mapError(err, "failed to get node info", domain.Internal)
	}
	return NodeInfoFromRPC(info, s.opts.Implementation, s.opts.Network), nil
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

	resp, err := s.client.AddInvoice(ctx, &lnrpc.Invoice{
		Value:  amountSat,
		Memo:   memo,
		Expiry: expirySeconds,
	})
	if err != nil {
		return nil, mapError(err, "failed to create invoice", domain.Internal)
	}

	return &domain.Invoice{
		PaymentHash:    hex.EncodeToString(resp.GetRHash()),
		PaymentRequest: resp.GetPaymentRequest(),
		AmountSat:      amountSat,
		Memo:           memo,
		ExpirySeconds:  expirySeconds,
		CreatedAt:      time.Now(),
	}, nil
}

func (s *service) DecodeInvoice(ctx context.Context, paymentRequest string) (*domain.Invoice, error) {
	if len(paymentRequest) == 0 {
		return nil, domain.NewError(domain.MalformedInvoice, "empty payment request")
	}

	payReq, err := s.client.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: paymentRequest})
	if err != nil {
		if st, ok := status.FromError(err); ok && IsMalformedInvoice(st.Message()) {
			return nil, domain.NewError(domain.MalformedInvoice, "failed to decode invoice: %s", st.Message())
		}
		return nil, mapError(err, "failed to decode invoice", domain.MalformedInvoice)
	}
	return InvoiceFromPayReq(paymentRequest, payReq), nil
}

func (s *service) PayInvoice(
	ctx context.Context, paymentRequest string, maxFeeSat *int64,
) (*domain.PaymentAttempt, error) {
	req := &lnrpc.SendRequest{PaymentRequest: paymentRequest}
	if maxFeeSat != nil {
		req.FeeLimit = &lnrpc.FeeLimit{Limit: &lnrpc.FeeLimit_Fixed{Fixed: *maxFeeSat}}
	}

	resp, err := s.client.SendPaymentSync(ctx, req)
	if err != nil {
		if st, ok := status.FromError(err); ok {
			if IsMalformedInvoice(st.Message()) {
				return nil, domain.NewError(domain.MalformedInvoice, "failed to pay invoice: %s", st.Message())
			}
			if reason := FailureFromMessage(st.Message()); reason == domain.FailureExpired ||
				reason == domain.FailureInsufficientBalance {
				return domain.NewFailedAttempt("", reason), nil
			}
		}
		return nil, mapError(err, "failed to pay invoice", domain.Internal)
	}
	return AttemptFromSendResponse(resp), nil
}

func (s *service) GetPaymentStatus(ctx context.Context, paymentHash string) (*domain.PaymentAttempt, error) {
	hash, err := decodePaymentHash(paymentHash)
	if err != nil {
		return nil, err
	}

	// The first update of the stream carries the current state.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.router.TrackPaymentV2(ctx, &routerrpc.TrackPaymentRequest{PaymentHash: hash})
	if err != nil {
		return nil, s.mapPaymentError(err, paymentHash)
	}
	payment, err := stream.Recv()
	if err != nil {
		return nil, s.mapPaymentError(err, paymentHash)
	}
	return AttemptFromPayment(payment), nil
}

func (s *service) mapPaymentError(err error, paymentHash string) error {
	if st, ok := status.FromError(err); ok && IsPaymentNotFound(st.Message()) {
		return domain.NewError(domain.NotFound, "payment %s not found", paymentHash)
	}
	return mapError(err, "failed to get payment status", domain.Internal)
}

func (s *service) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	resp, err := s.client.WalletBalance(ctx, &lnrpc.WalletBalanceRequest{})
	if err != nil {
		return nil, mapError(err, "failed to get wallet balance", domain.Internal)
	}
	return domain.NewWalletBalance(
		nonNegative(resp.GetConfirmedBalance()), nonNegative(resp.GetUnconfirmedBalance()),
	), nil
}

func (s *service) GetChannelBalance(ctx context.Context) (*domain.ChannelBalance, error) {
	resp, err := s.client.ChannelBalance(ctx, &lnrpc.ChannelBalanceRequest{})
	if err != nil {
		return nil, mapError(err, "failed to get channel balance", domain.Internal)
	}
	return &domain.ChannelBalance{
		Balance:            int64(resp.GetLocalBalance().GetSat()),
		PendingOpenBalance: int64(resp.GetPendingOpenLocalBalance().GetSat()),
	}, nil
}

func (s *service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	resp, err := s.client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, mapError(err, "failed to list channels", domain.Internal)
	}
	channels := make([]domain.Channel, 0, len(resp.GetChannels()))
	for _, ch := range resp.GetChannels() {
		channels = append(channels, ChannelFromRPC(ch))
	}
	return channels, nil
}

func (s *service) OpenChannel(
	ctx context.Context, peerPubkey string, localAmtSat, pushAmtSat int64, private bool,
) (*domain.ChannelOpen, error) {
	pubkey, err := ValidateNodePubkey(peerPubkey)
	if err != nil {
		return nil, err
	}
	if err := ValidateChannelAmounts(localAmtSat, pushAmtSat); err != nil {
		return nil, err
	}

	cp, err := s.client.OpenChannelSync(ctx, &lnrpc.OpenChannelRequest{
		NodePubkey:         pubkey,
		LocalFundingAmount: localAmtSat,
		PushSat:            pushAmtSat,
		Private:            private,
	})
	if err != nil {
		return nil, mapError(err, "failed to open channel", domain.ChannelOpenFailed)
	}
	return &domain.ChannelOpen{
		FundingTxid: FundingTxid(cp),
		OutputIndex: cp.GetOutputIndex(),
	}, nil
}

func (s *service) CloseChannel(
	ctx context.Context, channelPoint string, force bool,
) (*domain.ChannelClose, error) {
	cp, err := ParseChannelPoint(channelPoint)
	if err != nil {
		return nil, err
	}

	// The close keeps going on lnd's side once it is pending.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.client.CloseChannel(ctx, &lnrpc.CloseChannelRequest{
		ChannelPoint: cp,
		Force:        force,
	})
	if err != nil {
		return nil, s.mapCloseError(err, channelPoint)
	}

	for {
		update, err := stream.Recv()
		if err == io.EOF {
			return nil, domain.NewError(
				domain.Internal, "close stream for %s ended without a closing tx", channelPoint,
			)
		}
		if err != nil {
			return nil, s.mapCloseError(err, channelPoint)
		}

		var txid []byte
		switch u := update.GetUpdate().(type) {
		case *lnrpc.CloseStatusUpdate_ClosePending:
			txid = u.ClosePending.GetTxid()
		case *lnrpc.CloseStatusUpdate_ChanClose:
			txid = u.ChanClose.GetClosingTxid()
		default:
			continue
		}
		return &domain.ChannelClose{
			ClosingTxid: TxidFromBytes(txid),
			Status:      domain.CloseStatusFor(force),
		}, nil
	}
}

func (s *service) mapCloseError(err error, channelPoint string) error {
	if st, ok := status.FromError(err); ok && IsChannelNotFound(st.Message()) {
		return domain.NewError(domain.ChannelNotFound, "channel %s not found", channelPoint)
	}
	return mapError(err, "failed to close channel", domain.ChannelNotFound)
}

func (s *service) Close() error {
	return s.conn.Close()
}
