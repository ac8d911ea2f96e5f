package cln

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const jsonRpcVersion = "2.0"

// Error codes of the lightningd JSON-RPC interface.
const (
	codeInvalidParams        = -32602
	codePayInProgress        = 200
	codePayRhashAlreadyUsed  = 201
	codePayUnparsableOnion   = 202
	codePayRouteNotFound     = 205
	codePayRouteTooExpensive = 206
	codePayInvoiceExpired    = 207
	codePayStoppedRetrying   = 210
)

type rpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	Id      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Id     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("lightningd error %d: %s", e.Code, e.Message)
}

// paymentHash extracts the hash some pay failures carry in their data.
func (e *rpcError) paymentHash() string {
	var data struct {
		PaymentHash string `json:"payment_hash"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &data) != nil {
		return ""
	}
	return data.PaymentHash
}

// rpcClient opens one connection to the lightningd socket per call.
type rpcClient struct {
	socketPath string
}

func (c *rpcClient) call(ctx context.Context, method string, params, out any) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return domain.WrapError(domain.BackendUnavailable, err, "failed to connect to lightningd")
	}
	// nolint
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		// nolint
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		// nolint
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if params == nil {
		params = map[string]any{}
	}
	req := rpcRequest{
		JsonRpc: jsonRpcVersion,
		Id:      fmt.Sprintf("lightning-mcp:%s#%s", method, uuid.New().String()),
		Method:  method,
		Params:  params,
	}

	start := time.Now()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return transportError(ctx, err, method)
	}
	var resp rpcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return transportError(ctx, err, method)
	}
	log.WithFields(log.Fields{
		"method": method, "elapsed": time.Since(start),
	}).Debug("lightningd call")

	if resp.Id != req.Id {
		return domain.NewError(domain.Internal, "response id %q does not match request %q", resp.Id, req.Id)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return domain.WrapError(domain.Internal, err, "failed to decode %s response", method)
	}
	return nil
}

func transportError(ctx context.Context, err error, method string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(domain.BackendTimeout, err, "%s timed out", method)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
		return domain.WrapError(domain.BackendTimeout, err, "%s timed out", method)
	}
	return domain.WrapError(domain.BackendUnavailable, err, "%s failed", method)
}

// mapError turns a lightningd error into the taxonomy. Transport failures
// are already typed by call.
func mapError(err error, op string, fallback domain.ErrorKind) error {
	var rErr *rpcError
	if !errors.As(err, &rErr) {
		return domain.AsError(err)
	}
	if rErr.Code == codeInvalidParams && fallback == domain.Internal {
		return domain.NewError(domain.InvalidArgument, "%s: %s", op, rErr.Message)
	}
	return domain.NewError(fallback, "%s: %s", op, rErr.Message)
}

// Msat decodes both the numeric and the legacy "123msat" amount encodings.
type Msat int64

func (m *Msat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	s = strings.TrimSuffix(s, "msat")
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid msat amount %s: %w", b, err)
	}
	*m = Msat(v)
	return nil
}

func (m Msat) Sat() int64 {
	return int64(m) / 1000
}
