package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/logger"
	"github.com/erp/shopsync/internal/infrastructure/telemetry"
)

// Export opens a paged pull over the export endpoint. It implements
// sync.ProductFeed; the returned iterator fetches pages on demand. Re-issuing
// the same query restarts the pull from the same lower bound.
func (c *Client) Export(ctx context.Context, query sync.FeedQuery) (sync.ProductIterator, error) {
	// Fail on auth problems before handing out an iterator.
	if _, err := c.bearer(ctx); err != nil {
		return nil, err
	}
	return &exportIterator{client: c, query: query}, nil
}

// ---------------------------------------------------------------------------
// Page envelope
// ---------------------------------------------------------------------------

// exportPage is the feed's page envelope.
type exportPage struct {
	Content          []json.RawMessage `json:"content"`
	TotalPages       int               `json:"totalPages"`
	Last             bool              `json:"last"`
	NumberOfElements int               `json:"numberOfElements"`
	Pageable         exportPageable    `json:"pageable"`
}

type exportPageable struct {
	Paged   *bool `json:"paged"`
	Unpaged bool  `json:"unpaged"`
}

// paged defaults to true when the envelope omits the flag.
func (p exportPageable) paged() bool {
	return (p.Paged == nil || *p.Paged) && !p.Unpaged
}

// ---------------------------------------------------------------------------
// Iterator
// ---------------------------------------------------------------------------

// exportIterator walks export pages and yields one decoded record per Next
// call. It is not safe for concurrent use; the orchestrator drains it from a
// single goroutine.
type exportIterator struct {
	client *Client
	query  sync.FeedQuery

	buf    []*catalog.SourceProduct
	page   int
	done   bool
	closed bool
}

// Next returns the next feed record, or io.EOF after the last one.
func (it *exportIterator) Next(ctx context.Context) (*catalog.SourceProduct, error) {
	for len(it.buf) == 0 {
		if it.closed || it.done {
			return nil, io.EOF
		}
		if err := it.fill(ctx); err != nil {
			return nil, err
		}
	}
	src := it.buf[0]
	it.buf = it.buf[1:]
	return src, nil
}

// Close releases the buffered records. Subsequent Next calls return io.EOF.
func (it *exportIterator) Close() error {
	it.closed = true
	it.buf = nil
	return nil
}

// fill fetches the next page, decodes its records into the buffer and works
// out whether another page follows.
func (it *exportIterator) fill(ctx context.Context) error {
	page, err := it.client.fetchPage(ctx, it.query, it.page)
	if err != nil {
		it.done = true
		return err
	}

	log := logger.WithLogger(ctx, it.client.logger)
	for _, raw := range page.Content {
		src, err := decodeProduct(raw, it.client.config.Language)
		if err != nil {
			// One malformed record must not abort the pull.
			log.Warn("Skipping undecodable export record",
				zap.Int("page", it.page),
				zap.Error(err),
			)
			continue
		}
		it.buf = append(it.buf, src)
	}
	log.Debug("Feed export page fetched",
		zap.Int("page", it.page),
		zap.Int("records", len(page.Content)),
	)

	elements := page.NumberOfElements
	if elements == 0 {
		elements = len(page.Content)
	}

	switch {
	case page.Last:
		it.done = true
	case page.TotalPages > 0 && it.page >= page.TotalPages-1:
		it.done = true
	case !page.Pageable.paged():
		it.done = true
	case elements == 0:
		it.done = true
	default:
		it.page++
	}
	return nil
}

// ---------------------------------------------------------------------------
// Page fetch
// ---------------------------------------------------------------------------

func (c *Client) fetchPage(ctx context.Context, query sync.FeedQuery, page int) (*exportPage, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartClientSpan(ctx, "feed", "export",
		telemetry.WithAttributes(
			attribute.Int("feed.page", page),
			attribute.Int("feed.page_size", c.config.PageSize),
		),
	)
	defer span.End()

	endpoint := c.exportURL + "?" + c.exportParams(query, page).Encode()
	var payload exportPage
	err = c.retrier.Do(ctx, "feed.export", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return c.doJSON(req, &payload)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("feed: export page %d: %w", page, err)
	}
	return &payload, nil
}

// exportParams assembles the fixed export parameter set plus the per-query
// bounds. The export is change-driven only when a since bound is given.
func (c *Client) exportParams(query sync.FeedQuery, page int) url.Values {
	orderLang := c.config.Language
	if orderLang == "" {
		orderLang = defaultOrderLanguage
	}
	params := url.Values{
		"showInactive":                 {"true"},
		"orderByLanguageCode":          {orderLang},
		"dateFormat":                   {"SHORT"},
		"page":                         {strconv.Itoa(page)},
		"size":                         {strconv.Itoa(c.config.PageSize)},
		"includeDeleted":               {strconv.FormatBool(query.IncludeDeleted)},
		"includeModifiedByBasedata":    {"true"},
		"productHeadOnly":              {"false"},
		"includeOptions":               {"true"},
		"includeLastModifiedTimestamp": {"false"},
	}
	if query.Since.IsZero() {
		params.Set("changesOnly", "false")
	} else {
		params.Set("changesOnly", "true")
		params.Set("exportFrom", query.Since.UTC().Format(time.RFC3339))
	}
	if query.ProductNo != "" {
		params.Set("productNo", query.ProductNo)
	}
	return params
}
