package mcp_interface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/application"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrorResult is what a failed tool call serializes to.
type ErrorResult struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	// Retryable tells the caller the same call may succeed after a backoff.
	Retryable bool `json:"retryable"`
}

func NewErrorResult(err error) ErrorResult {
	e := domain.AsError(err)
	return ErrorResult{ErrorBody{
		Kind:      e.Kind,
		Message:   e.Error(),
		Retryable: e.Kind.Retryable(),
	}}
}

// Tool is a registered operation with the JSON schema of its arguments.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any

	schema  *jsonschema.Schema
	handler func(ctx context.Context, args json.RawMessage) (any, error)
}

// newTool derives the argument schema from T. Arguments are validated against
// it before being decoded into T.
func newTool[T any](
	name, description string, fn func(ctx context.Context, args T) (any, error),
) (*Tool, error) {
	reflector := invopop.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var zero T
	buf, err := json.Marshal(reflector.Reflect(zero))
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema of %s: %w", name, err)
	}

	schema, err := jsonschema.CompileString(name+".json", string(buf))
	if err != nil {
		return nil, fmt.Errorf("invalid schema of %s: %w", name, err)
	}
	inputSchema := map[string]any{}
	if err := json.Unmarshal(buf, &inputSchema); err != nil {
		return nil, err
	}

	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		schema:      schema,
		handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, domain.WrapError(domain.InvalidArgument, err, "invalid arguments")
			}
			return fn(ctx, args)
		},
	}, nil
}

func (t *Tool) validate(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args any
	if err := dec.Decode(&args); err != nil {
		return domain.WrapError(domain.InvalidArgument, err, "arguments are not valid JSON")
	}

	err := t.schema.Validate(args)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return domain.WrapError(domain.InvalidArgument, err, "invalid arguments")
	}
	return domain.NewError(
		domain.InvalidArgument, "invalid arguments for %s: %s", t.Name, strings.Join(leafErrors(ve), "; "),
	)
}

func leafErrors(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		location := ve.InstanceLocation
		if location == "" {
			location = "/"
		}
		return []string{fmt.Sprintf("%s %s", location, ve.Message)}
	}
	msgs := make([]string, 0, len(ve.Causes))
	for _, cause := range ve.Causes {
		msgs = append(msgs, leafErrors(cause)...)
	}
	return msgs
}

// Dispatcher routes named tool calls to the application service. Failures
// never escape as Go errors from Call: they become an ErrorResult.
type Dispatcher struct {
	tools   map[string]*Tool
	limiter *rate.Limiter
}

// NewDispatcher registers every tool. maxCallsPerSecond <= 0 disables
// throttling.
func NewDispatcher(appSvc *application.Service, maxCallsPerSecond float64) (*Dispatcher, error) {
	tools, err := newTools(appSvc)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if _, ok := d.tools[t.Name]; ok {
			return nil, fmt.Errorf("duplicated tool %s", t.Name)
		}
		d.tools[t.Name] = t
	}
	if maxCallsPerSecond > 0 {
		burst := int(math.Ceil(maxCallsPerSecond))
		d.limiter = rate.NewLimiter(rate.Limit(maxCallsPerSecond), burst)
	}
	return d, nil
}

// Tools returns the registered tools sorted by name.
func (d *Dispatcher) Tools() []*Tool {
	tools := make([]*Tool, 0, len(d.tools))
	for _, t := range d.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Call runs the named tool with args and returns either its JSON-compatible
// result or an ErrorResult.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) any {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewErrorResult(domain.WrapError(domain.InvalidArgument, err, "invalid arguments"))
	}
	result, err := d.Dispatch(ctx, name, raw)
	if err != nil {
		return NewErrorResult(err)
	}
	return result
}

// Dispatch runs the named tool with raw JSON arguments. The returned error is
// always a *domain.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, domain.NewError(domain.InvalidArgument, "unknown tool %q", name)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, domain.WrapError(domain.BackendUnavailable, err, "too many calls")
		}
	}

	start := time.Now()
	if err := t.validate(raw); err != nil {
		return nil, err
	}
	result, err := t.handler(ctx, raw)
	fields := log.Fields{"tool": name, "elapsed": time.Since(start)}
	if err != nil {
		e := domain.AsError(err)
		log.WithFields(fields).WithField("kind", e.Kind).Debug(e.Error())
		return nil, e
	}
	log.WithFields(fields).Debug("tool call")
	return result, nil
}
