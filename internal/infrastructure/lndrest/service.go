package lndrest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/lnd"
	"github.com/ArkLabsHQ/lightning-mcp/pkg/macaroon"
	"github.com/lightningnetwork/lnd/lnrpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

type service struct {
	opts domain.LnConnectionOpts
	*client
}

// NewService connects to the REST proxy of a remote lnd. Only the
// certificate at TlsCertPath is trusted.
func NewService(ctx context.Context, opts domain.LnConnectionOpts) (ports.LnService, error) {
	if len(opts.Host) == 0 {
		return nil, fmt.Errorf("missing rest host")
	}
	if opts.Port == 0 {
		return nil, fmt.Errorf("missing rest port")
	}

	httpClient, err := newHTTPClient(opts.TlsCertPath)
	if err != nil {
		return nil, err
	}
	mac, err := macaroon.Load(opts.MacaroonPath)
	if err != nil {
		return nil, err
	}

	baseURL := fmt.Sprintf(
		"https://%s", net.JoinHostPort(opts.Host, strconv.FormatUint(uint64(opts.Port), 10)),
	)
	svc := newService(opts, baseURL, httpClient, mac)
	if err := svc.connect(ctx); err != nil {
		svc.httpClient.CloseIdleConnections()
		return nil, err
	}
	return svc, nil
}

func newHTTPClient(tlsCertPath string) (*http.Client, error) {
	certPEM, err := os.ReadFile(tlsCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tls cert at path %s: %w", tlsCertPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("invalid tls cert at path %s", tlsCertPath)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		},
		IdleConnTimeout: 90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}
	return &http.Client{Transport: transport}, nil
}

func newService(
	opts domain.LnConnectionOpts, baseURL string, httpClient *http.Client, mac *macaroon.Credential,
) *service {
	if opts.Implementation == "" {
		opts.Implementation = domain.External
	}
	return &service{opts, &client{baseURL, httpClient, mac}}
}

func (s *service) connect(ctx context.Context) error {
	info := &lnrpc.GetInfoResponse{}
	if err := s.call(ctx, http.MethodGet, "/v1/getinfo", nil, info); err != nil {
		return fmt.Errorf("unable to get info: %w", err)
	}
	if len(info.GetIdentityPubkey()) == 0 {
		return fmt.Errorf("something went wrong, pubkey is empty")
	}

	log.Infof(
		"connected to LND REST version %s with pubkey %s", info.GetVersion(), info.GetIdentityPubkey(),
	)
	return nil
}

func (s *service) Implementation() domain.Implementation {
	return s.opts.Implementation
}

func (s *service) GetInfo(ctx context.Context) (*domain.NodeInfo, error) {
	info := &lnrpc.GetInfoResponse{}
	if err := s.call(ctx, http.MethodGet, "/v1/getinfo", nil, info); err != nil {
		return nil, mapError(err, "failed to get node info", domain.Internal)
	}
	return lnd.NodeInfoFromRPC(info, s.opts.Implementation, s.opts.Network), nil
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

	resp := &lnrpc.AddInvoiceResponse{}
	req := &lnrpc.Invoice{Value: amountSat, Memo: memo, Expiry: expirySeconds}
	if err := s.call(ctx, http.MethodPost, "/v1/invoices", req, resp); err != nil {
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

	payReq := &lnrpc.PayReq{}
	path := "/v1/payreq/" + url.PathEscape(paymentRequest)
	if err := s.call(ctx, http.MethodGet, path, nil, payReq); err != nil {
		if msg, ok := errorMessage(err); ok && lnd.IsMalformedInvoice(msg) {
			return nil, domain.NewError(domain.MalformedInvoice, "failed to decode invoice: %s", msg)
		}
		return nil, mapError(err, "failed to decode invoice", domain.MalformedInvoice)
	}
	return lnd.InvoiceFromPayReq(paymentRequest, payReq), nil
}

func (s *service) PayInvoice(
	ctx context.Context, paymentRequest string, maxFeeSat *int64,
) (*domain.PaymentAttempt, error) {
	req := &lnrpc.SendRequest{PaymentRequest: paymentRequest}
	if maxFeeSat != nil {
		req.FeeLimit = &lnrpc.FeeLimit{Limit: &lnrpc.FeeLimit_Fixed{Fixed: *maxFeeSat}}
	}

	resp := &lnrpc.SendResponse{}
	if err := s.call(ctx, http.MethodPost, "/v1/channels/transactions", req, resp); err != nil {
		if msg, ok := errorMessage(err); ok {
			if lnd.IsMalformedInvoice(msg) {
				return nil, domain.NewError(domain.MalformedInvoice, "failed to pay invoice: %s", msg)
			}
			if reason := lnd.FailureFromMessage(msg); reason == domain.FailureExpired ||
				reason == domain.FailureInsufficientBalance {
				return domain.NewFailedAttempt("", reason), nil
			}
		}
		return nil, mapError(err, "failed to pay invoice", domain.Internal)
	}
	return lnd.AttemptFromSendResponse(resp), nil
}

func (s *service) GetPaymentStatus(ctx context.Context, paymentHash string) (*domain.PaymentAttempt, error) {
	if !domain.IsValidPaymentHash(paymentHash) {
		return nil, domain.NewError(domain.InvalidArgument, "invalid payment hash %q", paymentHash)
	}
	hash, _ := hex.DecodeString(paymentHash)

	payment := &lnrpc.Payment{}
	path := "/v2/router/track/" + base64.URLEncoding.EncodeToString(hash)
	err := s.stream(ctx, http.MethodGet, path, nil, func(result json.RawMessage) (bool, error) {
		return true, unmarshaler.Unmarshal(result, payment)
	})
	if err != nil {
		if msg, ok := errorMessage(err); ok && lnd.IsPaymentNotFound(msg) {
			return nil, domain.NewError(domain.NotFound, "payment %s not found", paymentHash)
		}
		return nil, mapError(err, "failed to get payment status", domain.Internal)
	}
	return lnd.AttemptFromPayment(payment), nil
}

func (s *service) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	resp := &lnrpc.WalletBalanceResponse{}
	if err := s.call(ctx, http.MethodGet, "/v1/balance/blockchain", nil, resp); err != nil {
		return nil, mapError(err, "failed to get wallet balance", domain.Internal)
	}
	return domain.NewWalletBalance(
		max(resp.GetConfirmedBalance(), 0), max(resp.GetUnconfirmedBalance(), 0),
	), nil
}

func (s *service) GetChannelBalance(ctx context.Context) (*domain.ChannelBalance, error) {
	resp := &lnrpc.ChannelBalanceResponse{}
	if err := s.call(ctx, http.MethodGet, "/v1/balance/channels", nil, resp); err != nil {
		return nil, mapError(err, "failed to get channel balance", domain.Internal)
	}
	return &domain.ChannelBalance{
		Balance:            int64(resp.GetLocalBalance().GetSat()),
		PendingOpenBalance: int64(resp.GetPendingOpenLocalBalance().GetSat()),
	}, nil
}

func (s *service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	resp := &lnrpc.ListChannelsResponse{}
	if err := s.call(ctx, http.MethodGet, "/v1/channels", nil, resp); err != nil {
		return nil, mapError(err, "failed to list channels", domain.Internal)
	}
	channels := make([]domain.Channel, 0, len(resp.GetChannels()))
	for _, ch := range resp.GetChannels() {
		channels = append(channels, lnd.ChannelFromRPC(ch))
	}
	return channels, nil
}

func (s *service) OpenChannel(
	ctx context.Context, peerPubkey string, localAmtSat, pushAmtSat int64, private bool,
) (*domain.ChannelOpen, error) {
	pubkey, err := lnd.ValidateNodePubkey(peerPubkey)
	if err != nil {
		return nil, err
	}
	if err := lnd.ValidateChannelAmounts(localAmtSat, pushAmtSat); err != nil {
		return nil, err
	}

	cp := &lnrpc.ChannelPoint{}
	req := &lnrpc.OpenChannelRequest{
		NodePubkey:         pubkey,
		LocalFundingAmount: localAmtSat,
		PushSat:            pushAmtSat,
		Private:            private,
	}
	if err := s.call(ctx, http.MethodPost, "/v1/channels", req, cp); err != nil {
		return nil, mapError(err, "failed to open channel", domain.ChannelOpenFailed)
	}
	return &domain.ChannelOpen{
		FundingTxid: lnd.FundingTxid(cp),
		OutputIndex: cp.GetOutputIndex(),
	}, nil
}

func (s *service) CloseChannel(
	ctx context.Context, channelPoint string, force bool,
) (*domain.ChannelClose, error) {
	cp, err := lnd.ParseChannelPoint(channelPoint)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf(
		"/v1/channels/%s/%d?force=%t", cp.GetFundingTxidStr(), cp.GetOutputIndex(), force,
	)
	var closingTxid string
	err = s.stream(ctx, http.MethodDelete, path, nil, func(result json.RawMessage) (bool, error) {
		update := &lnrpc.CloseStatusUpdate{}
		if err := unmarshaler.Unmarshal(result, update); err != nil {
			return false, err
		}
		switch u := update.GetUpdate().(type) {
		case *lnrpc.CloseStatusUpdate_ClosePending:
			closingTxid = lnd.TxidFromBytes(u.ClosePending.GetTxid())
		case *lnrpc.CloseStatusUpdate_ChanClose:
			closingTxid = lnd.TxidFromBytes(u.ChanClose.GetClosingTxid())
		default:
			return false, nil
		}
		return true, nil
	})
	if err == io.EOF {
		return nil, domain.NewError(
			domain.Internal, "close stream for %s ended without a closing tx", channelPoint,
		)
	}
	if err != nil {
		if msg, ok := errorMessage(err); ok && lnd.IsChannelNotFound(msg) {
			return nil, domain.NewError(domain.ChannelNotFound, "channel %s not found", channelPoint)
		}
		return nil, mapError(err, "failed to close channel", domain.ChannelNotFound)
	}
	return &domain.ChannelClose{
		ClosingTxid: closingTxid,
		Status:      domain.CloseStatusFor(force),
	}, nil
}

func (s *service) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
