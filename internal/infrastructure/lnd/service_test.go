package lnd

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	mk "github.com/ArkLabsHQ/lightning-mcp/pkg/macaroon"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gopkg.in/macaroon.v2"
)

type fakeInvoice struct {
	hash     []byte
	preimage []byte
	amount   int64
	memo     string
	expiry   int64
	created  int64
}

type fakeLnd struct {
	lnrpc.UnimplementedLightningServer

	mu        sync.Mutex
	invoices  map[string]*fakeInvoice
	payments  map[string]*lnrpc.Payment
	macaroons []string
	feeLimits []int64
	balance   int64
}

func (f *fakeLnd) recorded() ([]string, []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.macaroons...), append([]int64{}, f.feeLimits...)
}

func newFakeLnd() *fakeLnd {
	return &fakeLnd{
		invoices: make(map[string]*fakeInvoice),
		payments: make(map[string]*lnrpc.Payment),
		balance:  100_000,
	}
}

func (f *fakeLnd) record(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.macaroons = append(f.macaroons, md.Get(mk.MetadataKey)...)
}

func (f *fakeLnd) GetInfo(ctx context.Context, _ *lnrpc.GetInfoRequest) (*lnrpc.GetInfoResponse, error) {
	f.record(ctx)
	return &lnrpc.GetInfoResponse{
		Version:            "0.18.3-beta",
		IdentityPubkey:     "02" + hex.EncodeToString(make([]byte, 32)),
		Alias:              "alice",
		NumActiveChannels:  2,
		NumPendingChannels: 1,
		Chains:             []*lnrpc.Chain{{Chain: "bitcoin", Network: "regtest"}},
	}, nil
}

func (f *fakeLnd) AddInvoice(ctx context.Context, in *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
	f.record(ctx)
	preimage := make([]byte, 32)
	// nolint
	rand.Read(preimage)
	hash := sha256.Sum256(preimage)
	payReq := fmt.Sprintf("lnbcrt%d1p%x", in.GetValue(), hash[:8])

	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices[payReq] = &fakeInvoice{
		hash:     hash[:],
		preimage: preimage,
		amount:   in.GetValue(),
		memo:     in.GetMemo(),
		expiry:   in.GetExpiry(),
		created:  time.Now().Unix(),
	}
	return &lnrpc.AddInvoiceResponse{RHash: hash[:], PaymentRequest: payReq}, nil
}

func (f *fakeLnd) DecodePayReq(ctx context.Context, in *lnrpc.PayReqString) (*lnrpc.PayReq, error) {
	f.record(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[in.GetPayReq()]
	if !ok {
		return nil, status.Error(codes.Unknown, "invalid bech32 string length 5")
	}
	return &lnrpc.PayReq{
		Destination: "03" + hex.EncodeToString(make([]byte, 32)),
		PaymentHash: hex.EncodeToString(inv.hash),
		NumSatoshis: inv.amount,
		Description: inv.memo,
		Expiry:      inv.expiry,
		Timestamp:   inv.created,
	}, nil
}

func (f *fakeLnd) SendPaymentSync(ctx context.Context, in *lnrpc.SendRequest) (*lnrpc.SendResponse, error) {
	f.record(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[in.GetPaymentRequest()]
	if !ok {
		return nil, status.Error(codes.Unknown, "invalid bech32 string length 5")
	}
	f.feeLimits = append(f.feeLimits, in.GetFeeLimit().GetFixed())

	hash := hex.EncodeToString(inv.hash)
	if inv.amount > f.balance {
		f.payments[hash] = &lnrpc.Payment{
			PaymentHash:   hash,
			ValueSat:      inv.amount,
			Status:        lnrpc.Payment_FAILED,
			FailureReason: lnrpc.PaymentFailureReason_FAILURE_REASON_INSUFFICIENT_BALANCE,
		}
		return &lnrpc.SendResponse{PaymentHash: inv.hash, PaymentError: "insufficient_balance"}, nil
	}

	f.balance -= inv.amount + 1
	f.payments[hash] = &lnrpc.Payment{
		PaymentHash:     hash,
		ValueSat:        inv.amount,
		FeeSat:          1,
		PaymentPreimage: hex.EncodeToString(inv.preimage),
		Status:          lnrpc.Payment_SUCCEEDED,
		CreationTimeNs:  time.Now().UnixNano(),
	}
	return &lnrpc.SendResponse{
		PaymentHash:     inv.hash,
		PaymentPreimage: inv.preimage,
		PaymentRoute: &lnrpc.Route{
			TotalAmtMsat:  (inv.amount + 1) * 1000,
			TotalFeesMsat: 1000,
		},
	}, nil
}

type fakeRouter struct {
	routerrpc.UnimplementedRouterServer
	lnd *fakeLnd
}

func (r *fakeRouter) TrackPaymentV2(
	in *routerrpc.TrackPaymentRequest, stream routerrpc.Router_TrackPaymentV2Server,
) error {
	f := r.lnd
	f.record(stream.Context())
	f.mu.Lock()
	payment, ok := f.payments[hex.EncodeToString(in.GetPaymentHash())]
	f.mu.Unlock()
	if !ok {
		return status.Error(codes.NotFound, "payment isn't initiated")
	}
	return stream.Send(payment)
}

func (f *fakeLnd) WalletBalance(
	ctx context.Context, _ *lnrpc.WalletBalanceRequest,
) (*lnrpc.WalletBalanceResponse, error) {
	f.record(ctx)
	return &lnrpc.WalletBalanceResponse{
		TotalBalance:       1500,
		ConfirmedBalance:   1000,
		UnconfirmedBalance: 500,
	}, nil
}

func (f *fakeLnd) ChannelBalance(
	ctx context.Context, _ *lnrpc.ChannelBalanceRequest,
) (*lnrpc.ChannelBalanceResponse, error) {
	f.record(ctx)
	return &lnrpc.ChannelBalanceResponse{
		LocalBalance:            &lnrpc.Amount{Sat: 7000, Msat: 7_000_000},
		PendingOpenLocalBalance: &lnrpc.Amount{Sat: 300, Msat: 300_000},
	}, nil
}

func (f *fakeLnd) ListChannels(
	ctx context.Context, _ *lnrpc.ListChannelsRequest,
) (*lnrpc.ListChannelsResponse, error) {
	f.record(ctx)
	return &lnrpc.ListChannelsResponse{
		Channels: []*lnrpc.Channel{
			{
				ChannelPoint:  "aa:0",
				ChanId:        123,
				Capacity:      100_000,
				LocalBalance:  60_000,
				RemoteBalance: 37_000,
				CommitFee:     3_000,
				Initiator:     true,
				Active:        true,
			},
			{
				ChannelPoint:  "bb:1",
				ChanId:        456,
				Capacity:      50_000,
				LocalBalance:  10_000,
				RemoteBalance: 38_000,
				CommitFee:     2_000,
				Private:       true,
			},
		},
	}, nil
}

func (f *fakeLnd) OpenChannelSync(
	ctx context.Context, in *lnrpc.OpenChannelRequest,
) (*lnrpc.ChannelPoint, error) {
	f.record(ctx)
	if in.GetLocalFundingAmount() > f.balance {
		return nil, status.Error(codes.Unknown, "not enough witness outputs to create funding transaction")
	}
	return &lnrpc.ChannelPoint{
		FundingTxid: &lnrpc.ChannelPoint_FundingTxidBytes{FundingTxidBytes: []byte{0x01, 0x02, 0x03}},
		OutputIndex: 1,
	}, nil
}

func (f *fakeLnd) CloseChannel(
	in *lnrpc.CloseChannelRequest, stream lnrpc.Lightning_CloseChannelServer,
) error {
	f.record(stream.Context())
	if in.GetChannelPoint().GetFundingTxidStr() != hex.EncodeToString(make([]byte, 32)) {
		return status.Error(codes.Unknown, "unable to find channel")
	}
	return stream.Send(&lnrpc.CloseStatusUpdate{
		Update: &lnrpc.CloseStatusUpdate_ClosePending{
			ClosePending: &lnrpc.PendingUpdate{Txid: []byte{0x0a, 0x0b}},
		},
	})
}

func newTestService(t *testing.T) (*service, *fakeLnd, *grpc.Server) {
	t.Helper()

	fake := newFakeLnd()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	lnrpc.RegisterLightningServer(srv, fake)
	routerrpc.RegisterRouterServer(srv, &fakeRouter{lnd: fake})
	go func() {
		// nolint
		srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	mac, err := macaroon.New([]byte("root-key"), []byte("id"), "lnd", macaroon.LatestVersion)
	require.NoError(t, err)
	buf, err := mac.MarshalBinary()
	require.NoError(t, err)
	cred, err := mk.Parse(buf)
	require.NoError(t, err)

	dialOpts := append(
		clientInterceptors(cred),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	conn, err := grpc.NewClient("passthrough:///bufnet", dialOpts...)
	require.NoError(t, err)

	svc := newService(domain.LnConnectionOpts{Network: domain.Regtest}, conn)
	t.Cleanup(func() {
		// nolint
		svc.Close()
	})
	require.NoError(t, svc.connect(context.Background()))
	return svc, fake, srv
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("invoice round trip", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		invoice, err := svc.CreateInvoice(ctx, 1000, "test", 0)
		require.NoError(t, err)
		require.Equal(t, domain.DefaultInvoiceExpiry, invoice.ExpirySeconds)
		require.True(t, domain.IsValidPaymentHash(invoice.PaymentHash))

		decoded, err := svc.DecodeInvoice(ctx, invoice.PaymentRequest)
		require.NoError(t, err)
		require.Equal(t, invoice.PaymentHash, decoded.PaymentHash)
		require.Equal(t, int64(1000), decoded.AmountSat)
		require.Equal(t, "test", decoded.Memo)
		require.Equal(t, domain.DefaultInvoiceExpiry, decoded.ExpirySeconds)

		again, err := svc.DecodeInvoice(ctx, invoice.PaymentRequest)
		require.NoError(t, err)
		require.Equal(t, decoded, again)
	})

	t.Run("invalid invoice amount", func(t *testing.T) {
		svc, fake, _ := newTestService(t)
		before, _ := fake.recorded()

		_, err := svc.CreateInvoice(ctx, 0, "", 0)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
		after, _ := fake.recorded()
		require.Len(t, after, len(before))
	})

	t.Run("malformed invoice", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.DecodeInvoice(ctx, "not-an-invoice")
		require.ErrorIs(t, err, domain.ErrMalformedInvoice)

		_, err = svc.DecodeInvoice(ctx, "")
		require.ErrorIs(t, err, domain.ErrMalformedInvoice)
	})

	t.Run("pay and track", func(t *testing.T) {
		svc, fake, _ := newTestService(t)

		invoice, err := svc.CreateInvoice(ctx, 1000, "test", 600)
		require.NoError(t, err)

		maxFee := int64(30)
		attempt, err := svc.PayInvoice(ctx, invoice.PaymentRequest, &maxFee)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentSucceeded, attempt.Status)
		require.Equal(t, invoice.PaymentHash, attempt.PaymentHash)
		require.Equal(t, int64(1000), attempt.AmountSat)
		require.Equal(t, int64(1), attempt.FeeSat)
		require.NoError(t, attempt.Validate())
		_, feeLimits := fake.recorded()
		require.Equal(t, []int64{30}, feeLimits)

		tracked, err := svc.GetPaymentStatus(ctx, invoice.PaymentHash)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentSucceeded, tracked.Status)
		require.Equal(t, attempt.Preimage, tracked.Preimage)
	})

	t.Run("failed payment", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		invoice, err := svc.CreateInvoice(ctx, 1_000_000, "", 0)
		require.NoError(t, err)

		attempt, err := svc.PayInvoice(ctx, invoice.PaymentRequest, nil)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentFailed, attempt.Status)
		require.Equal(t, domain.FailureInsufficientBalance, attempt.FailureReason)
		require.Empty(t, attempt.Preimage)

		tracked, err := svc.GetPaymentStatus(ctx, invoice.PaymentHash)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentFailed, tracked.Status)
		require.Equal(t, domain.FailureInsufficientBalance, tracked.FailureReason)
	})

	t.Run("unknown payment", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.GetPaymentStatus(ctx, hex.EncodeToString(make([]byte, 32)))
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = svc.GetPaymentStatus(ctx, "abc")
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("balances", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		wallet, err := svc.GetWalletBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, wallet.Confirmed+wallet.Unconfirmed, wallet.Total)
		require.Equal(t, int64(1500), wallet.Total)

		channel, err := svc.GetChannelBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(7000), channel.Balance)
		require.Equal(t, int64(300), channel.PendingOpenBalance)
	})

	t.Run("channels", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		channels, err := svc.ListChannels(ctx)
		require.NoError(t, err)
		require.Len(t, channels, 2)
		for _, ch := range channels {
			require.Equal(t, ch.Capacity, ch.LocalBalance+ch.RemoteBalance)
		}
		require.Equal(t, int64(63_000), channels[0].LocalBalance)
		require.Equal(t, "123", channels[0].ChanId)
		require.Equal(t, int64(40_000), channels[1].RemoteBalance)
		require.True(t, channels[1].Private)
	})

	t.Run("open channel", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		peer := "02" + hex.EncodeToString(make([]byte, 32))

		open, err := svc.OpenChannel(ctx, peer, 20_000, 0, false)
		require.NoError(t, err)
		require.Equal(t, "030201", open.FundingTxid)
		require.Equal(t, "030201:1", open.ChannelPoint())

		_, err = svc.OpenChannel(ctx, peer, 10_000_000, 0, false)
		require.ErrorIs(t, err, domain.ErrChannelOpenFailed)

		_, err = svc.OpenChannel(ctx, "zz", 20_000, 0, false)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)

		_, err = svc.OpenChannel(ctx, peer, 20_000, 20_000, false)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("close channel", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		txid := hex.EncodeToString(make([]byte, 32))

		closed, err := svc.CloseChannel(ctx, txid+":0", true)
		require.NoError(t, err)
		require.Equal(t, "0b0a", closed.ClosingTxid)
		require.Equal(t, domain.PendingForceClose, closed.Status)

		other := hex.EncodeToString(sha256.New().Sum(nil))
		_, err = svc.CloseChannel(ctx, other+":0", false)
		require.ErrorIs(t, err, domain.ErrChannelNotFound)

		_, err = svc.CloseChannel(ctx, "nope", false)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("node info", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		info, err := svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.LND, info.Implementation)
		require.Equal(t, domain.Regtest, info.Network)
		require.Equal(t, 3, info.NumChannels)
	})

	t.Run("macaroon attached to every call", func(t *testing.T) {
		svc, fake, _ := newTestService(t)

		_, err := svc.GetWalletBalance(ctx)
		require.NoError(t, err)
		_, err = svc.GetPaymentStatus(ctx, hex.EncodeToString(make([]byte, 32)))
		require.Error(t, err)

		macaroons, _ := fake.recorded()
		require.Len(t, macaroons, 3)
		for _, m := range macaroons {
			require.NotEmpty(t, m)
			require.Equal(t, macaroons[0], m)
		}
	})

	t.Run("backend down", func(t *testing.T) {
		svc, _, srv := newTestService(t)
		srv.Stop()

		_, err := svc.GetWalletBalance(ctx)
		require.ErrorIs(t, err, domain.ErrBackendUnavailable)
	})
}

func TestErrorFromCode(t *testing.T) {
	testCases := []struct {
		code     codes.Code
		fallback domain.ErrorKind
		expected domain.ErrorKind
	}{
		{codes.DeadlineExceeded, domain.Internal, domain.BackendTimeout},
		{codes.Unavailable, domain.Internal, domain.BackendUnavailable},
		{codes.PermissionDenied, domain.Internal, domain.BackendUnavailable},
		{codes.NotFound, domain.Internal, domain.NotFound},
		{codes.NotFound, domain.ChannelNotFound, domain.ChannelNotFound},
		{codes.InvalidArgument, domain.Internal, domain.InvalidArgument},
		{codes.InvalidArgument, domain.MalformedInvoice, domain.MalformedInvoice},
		{codes.Unknown, domain.ChannelOpenFailed, domain.ChannelOpenFailed},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%s/%s", tc.code, tc.fallback), func(t *testing.T) {
			err := ErrorFromCode(tc.code, "boom", "op", tc.fallback)
			require.Equal(t, tc.expected, err.Kind)
		})
	}
}

func TestFailureFromMessage(t *testing.T) {
	require.Equal(t, domain.FailureNoRoute, FailureFromMessage("no_route"))
	require.Equal(t, domain.FailureNoRoute, FailureFromMessage("unable to find a path to destination"))
	require.Equal(t, domain.FailureInsufficientBalance, FailureFromMessage("insufficient_balance"))
	require.Equal(t, domain.FailureExpired, FailureFromMessage("invoice expired"))
	require.Equal(t, domain.FailureTimeout, FailureFromMessage("timeout"))
	require.Equal(t, domain.FailureUnknown, FailureFromMessage("something else"))
}
