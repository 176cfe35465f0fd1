// Package feed implements the read side of the pipeline: an authenticated
// client for the feed's paged product export and base64 media endpoint, the
// iterator that turns export pages into SourceProducts, and the BLAKE2b
// content fingerprinter built on top of the media fetch.
//
// The feed authenticates with OAuth client credentials. The access token is
// cached and shared by all callers until shortly before it expires, so a run
// spanning many pages and media fetches performs one token round trip.
package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/telemetry"
	"github.com/erp/shopsync/internal/infrastructure/transport"
)

// maxResponseSize is the maximum allowed response size from the feed (10MB)
const maxResponseSize = 10 * 1024 * 1024

// tokenExpirySlack refreshes the cached token this long before it expires,
// so a token never goes stale in the middle of a paged export.
const tokenExpirySlack = 60 * time.Second

// defaultTokenLifetime applies when the token response omits expires_in.
const defaultTokenLifetime = 3600 * time.Second

const (
	defaultPageSize = 100
	defaultTimeout  = 30 * time.Second

	// defaultOrderLanguage orders export rows when no feed language is
	// configured.
	defaultOrderLanguage = "nb"
)

// ErrFeedNotConfigured indicates missing or unusable feed settings.
var ErrFeedNotConfigured = errors.New("feed: not configured")

// ErrTokenMissing indicates a token response without an access_token field.
var ErrTokenMissing = errors.New("feed: token response missing access_token")

// Config holds the feed endpoints and credentials.
type Config struct {
	TokenURL     string // OAuth client-credentials token endpoint
	ClientID     string
	ClientSecret string
	ExportURL    string // Product export endpoint; a trailing /full segment is tolerated
	PageSize     int    // Products per export page

	// Language is the feed's primary language code, e.g. "sv". It is
	// stamped on decoded records and orders export rows.
	Language string

	Timeout time.Duration
	Retry   transport.RetryPolicy
}

// Validate checks that the endpoints and credentials are present.
func (c *Config) Validate() error {
	if c.TokenURL == "" || c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("%w: token endpoint and client credentials are required", ErrFeedNotConfigured)
	}
	if c.ExportURL == "" {
		return fmt.Errorf("%w: export URL is required", ErrFeedNotConfigured)
	}
	return nil
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// Client talks to the feed export API. It implements sync.ProductFeed and
// sync.MediaFetcher and is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	retrier    *transport.Retrier
	logger     *zap.Logger

	// exportURL is the page endpoint; baseURL hosts the media export.
	exportURL string
	baseURL   string

	mu    stdsync.Mutex
	token *cachedToken
}

// NewClient validates the configuration and builds a feed client.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
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

	// Some deployments configure the full-export variant of the endpoint;
	// the paged export lives one segment up.
	exportURL := strings.TrimRight(cfg.ExportURL, "/")
	exportURL = strings.TrimSuffix(exportURL, "/full")

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retrier:    transport.NewRetrier(cfg.Retry, log),
		logger:     log,
		exportURL:  exportURL,
		baseURL:    deriveBaseURL(cfg.ExportURL),
	}, nil
}

// deriveBaseURL reduces the export URL to scheme://host, the root the media
// export endpoint hangs off.
func deriveBaseURL(exportURL string) string {
	u, err := url.Parse(exportURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(exportURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// ---------------------------------------------------------------------------
// Token handling
// ---------------------------------------------------------------------------

// bearer returns a valid access token, refreshing it when the cached one is
// within tokenExpirySlack of expiry. The lock spans the refresh so concurrent
// fetchers share one token round trip.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && time.Now().Before(c.token.expiresAt.Add(-tokenExpirySlack)) {
		return c.token.accessToken, nil
	}

	ctx, span := telemetry.StartClientSpan(ctx, "feed", "token")
	defer span.End()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := c.retrier.Do(ctx, "feed.token", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.doJSON(req, &payload)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", fmt.Errorf("feed: acquire token: %w", err)
	}
	if payload.AccessToken == "" {
		telemetry.RecordError(ctx, ErrTokenMissing)
		return "", ErrTokenMissing
	}

	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	c.token = &cachedToken{
		accessToken: payload.AccessToken,
		expiresAt:   time.Now().Add(lifetime),
	}
	c.logger.Debug("Feed access token refreshed",
		zap.Duration("lifetime", lifetime),
	)
	return c.token.accessToken, nil
}

// ---------------------------------------------------------------------------
// Media export
// ---------------------------------------------------------------------------

// Fetch retrieves the binary content behind a media reference through the
// feed's base64 media export. It implements sync.MediaFetcher.
func (c *Client) Fetch(ctx context.Context, ref catalog.MediaRef) ([]byte, error) {
	if ref.Code == "" {
		return nil, errors.New("feed: media reference has no code")
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartClientSpan(ctx, "feed", "media.export",
		telemetry.WithAttributes(attribute.String("media.code", ref.Code)),
	)
	defer span.End()

	params := url.Values{"mediaCode": {ref.Code}}
	endpoint := c.baseURL + "/media/export/base64/mediaCode?" + params.Encode()

	var body []byte
	err = c.retrier.Do(ctx, "feed.media", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "text/plain")
		b, err := c.doRaw(req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("feed: media %s: %w", ref.Code, err)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("feed: media %s: decode base64: %w", ref.Code, err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

// doRaw executes the request and returns the response body. Responses with
// status >= 400 become HTTPErrors so the retrier can classify them.
func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, transport.NewHTTPError(resp.StatusCode, resp.Status, body)
	}
	return body, nil
}

// doJSON executes the request and decodes the JSON response body into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	body, err := c.doRaw(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	_ sync.ProductFeed  = (*Client)(nil)
	_ sync.MediaFetcher = (*Client)(nil)
)
