package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const DefaultInvoiceExpiry int64 = 3600

type Implementation string

const (
	LND        Implementation = "lnd"
	CLightning Implementation = "c-lightning"
	Eclair     Implementation = "eclair"
	External   Implementation = "external"
)

var Implementations = []Implementation{LND, CLightning, Eclair, External}

func (i Implementation) IsValid() bool {
	for _, impl := range Implementations {
		if i == impl {
			return true
		}
	}
	return false
}

type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
	Signet  Network = "signet"
)

func (n Network) IsValid() bool {
	switch n {
	case Mainnet, Testnet, Regtest, Signet:
		return true
	}
	return false
}

// Invoice is immutable once created; a new request for payment is a new Invoice.
type Invoice struct {
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	AmountSat      int64     `json:"amount_sat"`
	Memo           string    `json:"memo"`
	Destination    string    `json:"destination,omitempty"`
	ExpirySeconds  int64     `json:"expiry_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

func (i Invoice) ExpiresAt() time.Time {
	return i.CreatedAt.Add(time.Duration(i.ExpirySeconds) * time.Second)
}

func (i Invoice) IsExpired(now time.Time) bool {
	if i.CreatedAt.IsZero() || i.ExpirySeconds <= 0 {
		return false
	}
	return !now.Before(i.ExpiresAt())
}

type PaymentStatus string

const (
	PaymentInFlight  PaymentStatus = "IN_FLIGHT"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

// CanTransition enforces that SUCCEEDED and FAILED are terminal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if s == next {
		return true
	}
	return !s.IsTerminal()
}

type FailureReason string

const (
	FailureNone                    FailureReason = ""
	FailureNoRoute                 FailureReason = "NO_ROUTE"
	FailureInsufficientBalance     FailureReason = "INSUFFICIENT_BALANCE"
	FailureExpired                 FailureReason = "EXPIRED"
	FailureTimeout                 FailureReason = "TIMEOUT"
	FailureIncorrectPaymentDetails FailureReason = "INCORRECT_PAYMENT_DETAILS"
	FailureUnknown                 FailureReason = "UNKNOWN"
)

// PaymentAttempt is one act of paying an invoice.
type PaymentAttempt struct {
	PaymentHash   string        `json:"payment_hash"`
	Status        PaymentStatus `json:"status"`
	Preimage      string        `json:"preimage,omitempty"`
	AmountSat     int64         `json:"amount_sat"`
	FeeSat        int64         `json:"fee_sat"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func NewFailedAttempt(paymentHash string, reason FailureReason) *PaymentAttempt {
	return &PaymentAttempt{
		PaymentHash:   paymentHash,
		Status:        PaymentFailed,
		FailureReason: reason,
		CreatedAt:     time.Now(),
	}
}

// Validate checks the field invariants tied to the attempt status.
func (p PaymentAttempt) Validate() error {
	switch p.Status {
	case PaymentSucceeded:
		if p.FailureReason != FailureNone {
			return fmt.Errorf("succeeded payment carries failure reason %s", p.FailureReason)
		}
		if p.FeeSat < 0 {
			return fmt.Errorf("negative fee %d", p.FeeSat)
		}
		if p.Preimage == "" {
			return fmt.Errorf("succeeded payment without preimage")
		}
		return VerifyPreimage(p.Preimage, p.PaymentHash)
	case PaymentFailed:
		if p.Preimage != "" {
			return fmt.Errorf("failed payment carries a preimage")
		}
		if p.FailureReason == FailureNone {
			return fmt.Errorf("failed payment without failure reason")
		}
	case PaymentInFlight:
		if p.Preimage != "" {
			return fmt.Errorf("in-flight payment carries a preimage")
		}
	default:
		return fmt.Errorf("unknown payment status %q", p.Status)
	}
	return nil
}

func VerifyPreimage(preimage, paymentHash string) error {
	buf, err := hex.DecodeString(preimage)
	if err != nil {
		return fmt.Errorf("invalid preimage: %w", err)
	}
	sum := sha256.Sum256(buf)
	if hex.EncodeToString(sum[:]) != paymentHash {
		return fmt.Errorf("preimage does not hash to %s", paymentHash)
	}
	return nil
}

func IsValidPaymentHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

type WalletBalance struct {
	Total       int64 `json:"total_balance"`
	Confirmed   int64 `json:"confirmed_balance"`
	Unconfirmed int64 `json:"unconfirmed_balance"`
}

func NewWalletBalance(confirmed, unconfirmed int64) *WalletBalance {
	return &WalletBalance{
		Total:       confirmed + unconfirmed,
		Confirmed:   confirmed,
		Unconfirmed: unconfirmed,
	}
}

type ChannelBalance struct {
	Balance            int64 `json:"balance"`
	PendingOpenBalance int64 `json:"pending_open_balance"`
}

type Channel struct {
	ChannelPoint  string `json:"channel_point"`
	ChanId        string `json:"chan_id"`
	RemotePubkey  string `json:"remote_pubkey"`
	Capacity      int64  `json:"capacity"`
	LocalBalance  int64  `json:"local_balance"`
	RemoteBalance int64  `json:"remote_balance"`
	Active        bool   `json:"active"`
	Private       bool   `json:"private"`
}

type ChannelOpen struct {
	FundingTxid string `json:"funding_txid"`
	OutputIndex uint32 `json:"output_index"`
}

func (c ChannelOpen) ChannelPoint() string {
	return fmt.Sprintf("%s:%d", c.FundingTxid, c.OutputIndex)
}

type CloseStatus string

const (
	PendingClose      CloseStatus = "PENDING_CLOSE"
	PendingForceClose CloseStatus = "PENDING_FORCE_CLOSE"
)

func CloseStatusFor(force bool) CloseStatus {
	if force {
		return PendingForceClose
	}
	return PendingClose
}

type ChannelClose struct {
	ClosingTxid string      `json:"closing_txid"`
	Status      CloseStatus `json:"status"`
}

type NodeInfo struct {
	Implementation Implementation `json:"implementation"`
	Network        Network        `json:"network"`
	Version        string         `json:"version"`
	Pubkey         string         `json:"pubkey"`
	Alias          string         `json:"alias,omitempty"`
	NumChannels    int            `json:"channels"`
}

type PaymentLimits struct {
	MinPaymentSat         int64
	MaxPaymentSat         int64
	DailyOutboundLimitSat int64
}

// Check rejects amounts outside [min, max]. A zero bound is not enforced.
func (l PaymentLimits) Check(amountSat int64) error {
	if l.MinPaymentSat > 0 && amountSat < l.MinPaymentSat {
		return NewLimitError(LimitBoundMin, amountSat, l.MinPaymentSat)
	}
	if l.MaxPaymentSat > 0 && amountSat > l.MaxPaymentSat {
		return NewLimitError(LimitBoundMax, amountSat, l.MaxPaymentSat)
	}
	return nil
}
