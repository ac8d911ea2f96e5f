package lndrest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/lnd"
	"github.com/ArkLabsHQ/lightning-mcp/pkg/macaroon"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	marshaler   = protojson.MarshalOptions{UseProtoNames: true}
	unmarshaler = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// restError is the error body of the REST proxy. Unary calls fill code and
// message, streaming calls may use grpc_code.
type restError struct {
	Code     int    `json:"code"`
	GrpcCode int    `json:"grpc_code"`
	Message  string `json:"message"`
	Error    string `json:"error"`

	httpStatus int
}

func (e *restError) grpcCode() codes.Code {
	if e.Code != 0 {
		return codes.Code(e.Code)
	}
	if e.GrpcCode != 0 {
		return codes.Code(e.GrpcCode)
	}
	switch e.httpStatus {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable, http.StatusBadGateway:
		return codes.Unavailable
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusBadRequest:
		return codes.InvalidArgument
	}
	return codes.Unknown
}

func (e *restError) message() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Error != "" {
		return e.Error
	}
	return http.StatusText(e.httpStatus)
}

type callError struct {
	code    codes.Code
	message string
}

func (e *callError) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.code, e.message)
}

type streamChunk struct {
	Result json.RawMessage `json:"result"`
	Error  *restError      `json:"error"`
}

type client struct {
	baseURL    string
	httpClient *http.Client
	mac        *macaroon.Credential
}

func (c *client) newRequest(
	ctx context.Context, method, path string, in proto.Message,
) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		buf, err := marshaler.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(macaroon.HeaderKey, c.mac.Hex())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *client) send(req *http.Request) (*http.Response, error) {
	log.WithFields(log.Fields{"method": req.Method, "path": req.URL.Path}).Debug("lnd rest call")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		// nolint
		defer resp.Body.Close()
		restErr := &restError{httpStatus: resp.StatusCode}
		buf, _ := io.ReadAll(resp.Body)
		// nolint
		json.Unmarshal(buf, restErr)
		return nil, &callError{restErr.grpcCode(), restErr.message()}
	}
	return resp, nil
}

// call performs a unary request and decodes the body into out.
func (c *client) call(ctx context.Context, method, path string, in, out proto.Message) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := unmarshaler.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// stream reads newline-delimited chunks until handle reports it is done.
func (c *client) stream(
	ctx context.Context, method, path string, in proto.Message,
	handle func(result json.RawMessage) (bool, error),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	// nolint
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			chunk.Error.httpStatus = http.StatusOK
			return &callError{chunk.Error.grpcCode(), chunk.Error.message()}
		}
		done, err := handle(chunk.Result)
		if err != nil || done {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func mapError(err error, op string, fallback domain.ErrorKind) error {
	if err == nil {
		return nil
	}
	var dErr *domain.Error
	if errors.As(err, &dErr) {
		return dErr
	}
	var cErr *callError
	if errors.As(err, &cErr) {
		return lnd.ErrorFromCode(cErr.code, cErr.message, op, fallback)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.BackendTimeout, err, "%s", op)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.WrapError(domain.BackendTimeout, err, "%s", op)
		}
		return domain.WrapError(domain.BackendUnavailable, err, "%s", op)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.WrapError(domain.BackendUnavailable, err, "%s", op)
	}
	return domain.WrapError(fallback, err, "%s", op)
}

func errorMessage(err error) (string, bool) {
	var cErr *callError
	if errors.As(err, &cErr) {
		return cErr.message, true
	}
	return "", false
}
