package lnd

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/lightningnetwork/lnd/lnrpc"
)

// The converters below are shared by the gRPC and the REST clients, both of
// which speak lnrpc messages.

func InvoiceFromPayReq(paymentRequest string, payReq *lnrpc.PayReq) *domain.Invoice {
	amount := payReq.GetNumSatoshis()
	if amount == 0 && payReq.GetNumMsat() > 0 {
		amount = payReq.GetNumMsat() / 1000
	}
	return &domain.Invoice{
		PaymentHash:    payReq.GetPaymentHash(),
		PaymentRequest: paymentRequest,
		AmountSat:      amount,
		Memo:           payReq.GetDescription(),
		Destination:    payReq.GetDestination(),
		ExpirySeconds:  payReq.GetExpiry(),
		CreatedAt:      time.Unix(payReq.GetTimestamp(), 0),
	}
}

func AttemptFromSendResponse(resp *lnrpc.SendResponse) *domain.PaymentAttempt {
	hash := hex.EncodeToString(resp.GetPaymentHash())
	if paymentErr := resp.GetPaymentError(); paymentErr != "" {
		return domain.NewFailedAttempt(hash, FailureFromMessage(paymentErr))
	}

	route := resp.GetPaymentRoute()
	feeMsat := route.GetTotalFeesMsat()
	amtMsat := route.GetTotalAmtMsat() - feeMsat
	return &domain.PaymentAttempt{
		PaymentHash: hash,
		Status:      domain.PaymentSucceeded,
		Preimage:    hex.EncodeToString(resp.GetPaymentPreimage()),
		AmountSat:   amtMsat / 1000,
		FeeSat:      feeMsat / 1000,
		CreatedAt:   time.Now(),
	}
}

func AttemptFromPayment(payment *lnrpc.Payment) *domain.PaymentAttempt {
	attempt := &domain.PaymentAttempt{
		PaymentHash: payment.GetPaymentHash(),
		AmountSat:   payment.GetValueSat(),
		FeeSat:      payment.GetFeeSat(),
		CreatedAt:   time.Unix(0, payment.GetCreationTimeNs()),
	}

	switch payment.GetStatus() {
	case lnrpc.Payment_SUCCEEDED:
		attempt.Status = domain.PaymentSucceeded
		attempt.Preimage = payment.GetPaymentPreimage()
	case lnrpc.Payment_FAILED:
		attempt.Status = domain.PaymentFailed
		attempt.FeeSat = 0
		attempt.FailureReason = failureFromReason(payment.GetFailureReason())
	default:
		attempt.Status = domain.PaymentInFlight
	}
	return attempt
}

func failureFromReason(reason lnrpc.PaymentFailureReason) domain.FailureReason {
	switch reason {
	case lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE:
		return domain.FailureNoRoute
	case lnrpc.PaymentFailureReason_FAILURE_REASON_INSUFFICIENT_BALANCE:
		return domain.FailureInsufficientBalance
	case lnrpc.PaymentFailureReason_FAILURE_REASON_TIMEOUT:
		return domain.FailureTimeout
	case lnrpc.PaymentFailureReason_FAILURE_REASON_INCORRECT_PAYMENT_DETAILS:
		return domain.FailureIncorrectPaymentDetails
	default:
		return domain.FailureUnknown
	}
}

// FailureFromMessage classifies the free-form failure text daemons report for
// payments that did not go through.
func FailureFromMessage(msg string) domain.FailureReason {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "no_route"), strings.Contains(msg, "no route"),
		strings.Contains(msg, "unable to find a path"), strings.Contains(msg, "ran out of routes"):
		return domain.FailureNoRoute
	case strings.Contains(msg, "insufficient"):
		return domain.FailureInsufficientBalance
	case strings.Contains(msg, "expired"):
		return domain.FailureExpired
	case strings.Contains(msg, "incorrect_payment_details"), strings.Contains(msg, "incorrect payment details"):
		return domain.FailureIncorrectPaymentDetails
	case strings.Contains(msg, "timeout"):
		return domain.FailureTimeout
	default:
		return domain.FailureUnknown
	}
}

// ChannelFromRPC keeps local+remote equal to capacity by folding what lnd
// reserves for commitment fees into the balance of the side that pays them.
func ChannelFromRPC(ch *lnrpc.Channel) domain.Channel {
	local := ch.GetLocalBalance()
	remote := ch.GetRemoteBalance()
	if reserved := ch.GetCapacity() - local - remote; reserved > 0 {
		if ch.GetInitiator() {
			local += reserved
		} else {
			remote += reserved
		}
	}
	return domain.Channel{
		ChannelPoint:  ch.GetChannelPoint(),
		ChanId:        strconv.FormatUint(ch.GetChanId(), 10),
		RemotePubkey:  ch.GetRemotePubkey(),
		Capacity:      ch.GetCapacity(),
		LocalBalance:  local,
		RemoteBalance: remote,
		Active:        ch.GetActive(),
		Private:       ch.GetPrivate(),
	}
}

func FundingTxid(cp *lnrpc.ChannelPoint) string {
	switch txid := cp.GetFundingTxid().(type) {
	case *lnrpc.ChannelPoint_FundingTxidStr:
		return txid.FundingTxidStr
	case *lnrpc.ChannelPoint_FundingTxidBytes:
		return TxidFromBytes(txid.FundingTxidBytes)
	}
	return ""
}

// TxidFromBytes renders a txid given in internal byte order.
func TxidFromBytes(buf []byte) string {
	reversed := make([]byte, len(buf))
	for i, b := range buf {
		reversed[len(buf)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

func ParseChannelPoint(channelPoint string) (*lnrpc.ChannelPoint, error) {
	parts := strings.Split(channelPoint, ":")
	if len(parts) != 2 {
		return nil, domain.NewError(
			domain.InvalidArgument, "invalid channel point %q, expected txid:index", channelPoint,
		)
	}
	if txid, err := hex.DecodeString(parts[0]); err != nil || len(txid) != 32 {
		return nil, domain.NewError(domain.InvalidArgument, "invalid funding txid %q", parts[0])
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, domain.NewError(domain.InvalidArgument, "invalid output index %q", parts[1])
	}
	return &lnrpc.ChannelPoint{
		FundingTxid: &lnrpc.ChannelPoint_FundingTxidStr{FundingTxidStr: parts[0]},
		OutputIndex: uint32(index),
	}, nil
}

func NodeInfoFromRPC(info *lnrpc.GetInfoResponse, impl domain.Implementation, network domain.Network) *domain.NodeInfo {
	for _, chain := range info.GetChains() {
		if n := domain.Network(chain.GetNetwork()); n.IsValid() {
			network = n
			break
		}
	}
	numChannels := info.GetNumActiveChannels() + info.GetNumInactiveChannels() + info.GetNumPendingChannels()
	return &domain.NodeInfo{
		Implementation: impl,
		Network:        network,
		Version:        info.GetVersion(),
		Pubkey:         info.GetIdentityPubkey(),
		Alias:          info.GetAlias(),
		NumChannels:    int(numChannels),
	}
}

func ValidateNodePubkey(pubkey string) ([]byte, error) {
	buf, err := hex.DecodeString(pubkey)
	if err != nil || len(buf) != 33 {
		return nil, domain.NewError(domain.InvalidArgument, "invalid peer pubkey %q", pubkey)
	}
	return buf, nil
}

func ValidateChannelAmounts(localAmtSat, pushAmtSat int64) error {
	if localAmtSat <= 0 {
		return domain.NewError(domain.InvalidArgument, "local amount must be positive, got %d", localAmtSat)
	}
	if pushAmtSat < 0 || pushAmtSat >= localAmtSat {
		return domain.NewError(
			domain.InvalidArgument, "push amount must be in [0, %d), got %d", localAmtSat, pushAmtSat,
		)
	}
	return nil
}

func decodePaymentHash(paymentHash string) ([]byte, error) {
	if !domain.IsValidPaymentHash(paymentHash) {
		return nil, domain.NewError(domain.InvalidArgument, "invalid payment hash %q", paymentHash)
	}
	buf, _ := hex.DecodeString(paymentHash)
	return buf, nil
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
