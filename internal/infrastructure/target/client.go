// Package target implements the write side of the pipeline: an XML-RPC
// client for the shop platform's legacy product API. Every port operation is
// one synchronous method call scoped to the configured shop; the platform
// answers with per-call result structs rather than faults, so a fault or a
// non-2xx status always means the call never took effect.
//
// The XML-RPC layer has no context support, so cancellation and the per-call
// timeout are enforced underneath it, on the HTTP transport.
package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/infrastructure/telemetry"
	"github.com/erp/shopsync/internal/infrastructure/transport"
)

// maxErrorBody bounds how much of an error response body is kept for logs.
const maxErrorBody = 4 * 1024

// defaultTimeout bounds one RPC round trip when none is configured.
const defaultTimeout = 30 * time.Second

// Result statuses of the legacy product API.
const (
	statusSuccessNew    = "SuccessNew"
	statusSuccessUpdate = "SuccessUpdate"
	statusSuccess       = "Success"
	statusNotFound      = "NotFound"
)

// ErrTargetNotConfigured indicates missing or unusable target settings.
var ErrTargetNotConfigured = errors.New("target: not configured")

// Config holds the target endpoint, credentials and shop scope.
type Config struct {
	Endpoint string // XML-RPC endpoint URL
	Username string
	Password string

	// ShopID scopes every call; it is the first parameter of each method.
	ShopID string

	// TemplateID is applied when the platform creates a product on first
	// AddUpdate. Empty leaves the platform default in place.
	TemplateID string

	Timeout time.Duration
	Retry   transport.RetryPolicy
}

// Validate checks that the endpoint, credentials and shop scope are present.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrTargetNotConfigured)
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: credentials are required", ErrTargetNotConfigured)
	}
	if c.ShopID == "" {
		return fmt.Errorf("%w: shop id is required", ErrTargetNotConfigured)
	}
	return nil
}

// Client writes products to the target over XML-RPC. It implements
// sync.Target and is safe for concurrent use.
type Client struct {
	config  Config
	rt      *rpcTransport
	retrier *transport.Retrier
	logger  *zap.Logger
}

// NewClient validates the configuration and builds a target client.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = transport.DefaultRetryPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		config: cfg,
		rt: &rpcTransport{
			base:     http.DefaultTransport,
			username: cfg.Username,
			password: cfg.Password,
		},
		retrier: transport.NewRetrier(cfg.Retry, log),
		logger:  log,
	}, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// rpcTransport authenticates requests and turns non-2xx responses into typed
// errors before the XML-RPC codec sees them. The codec treats a bad status as
// a connection-level failure and shuts the whole client down; classifying
// here keeps the failure scoped to one call and lets the retrier tell a 503
// from a 401.
type rpcTransport struct {
	base     http.RoundTripper
	username string
	password string
}

// RoundTrip implements http.RoundTripper.
func (t *rpcTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	creq := req.Clone(req.Context())
	creq.SetBasicAuth(t.username, t.password)

	resp, err := t.base.RoundTrip(creq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, transport.NewHTTPError(resp.StatusCode, resp.Status, body)
	}
	return resp, nil
}

// callTransport binds one call's context to the requests the XML-RPC codec
// builds, which otherwise carry context.Background().
type callTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

// ---------------------------------------------------------------------------
// Call plumbing
// ---------------------------------------------------------------------------

// call performs one XML-RPC method call with the shop id prepended, retrying
// transient failures. A fresh codec client per call keeps a poisoned
// connection from outliving the attempt; the pooled HTTP transport underneath
// is shared.
func (c *Client) call(ctx context.Context, method string, payload interface{}, reply interface{}) error {
	ctx, span := telemetry.StartClientSpan(ctx, "target", method)
	defer span.End()

	err := c.retrier.Do(ctx, "target."+method, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		rpc, err := xmlrpc.NewClient(c.config.Endpoint, &callTransport{ctx: callCtx, next: c.rt})
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer rpc.Close()

		return rpc.Call(method, []interface{}{c.config.ShopID, payload}, reply)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("target: %s: %w", method, err)
	}
	return nil
}

// rejected builds the error for a call the platform executed and turned down.
func rejected(method, productNo, detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "no reason given"
	}
	return fmt.Errorf("target: %s: product %s rejected: %s", method, productNo, detail)
}
