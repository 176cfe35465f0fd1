package target

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/logger"
)

// Method names of the legacy product API.
const (
	methodProductAddUpdate = "Product.AddUpdate"
	methodTextUpdate       = "ProductText.Update"
	methodImageUpload      = "ProductImage.Upload"
	methodImageSetOrder    = "ProductImage.SetOrder"
	methodPriceUpdate      = "PriceList.UpdateArticle"
	methodProductDelete    = "Product.Delete"
)

// discountClearSentinel removes a published discount. The platform treats an
// empty discounted price as leave-as-is, so clearing needs an explicit value.
const discountClearSentinel = "-1"

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// fieldValue is one field assignment. Kind tells the platform how to parse
// Value, which is always the field's canonical string rendering.
type fieldValue struct {
	Name  string `xmlrpc:"Name"`
	Kind  string `xmlrpc:"Kind"`
	Value string `xmlrpc:"Value"`
}

type productPayload struct {
	ArticleNumber string       `xmlrpc:"ArticleNumber"`
	TemplateID    string       `xmlrpc:"TemplateId"`
	Fields        []fieldValue `xmlrpc:"Fields"`
	Clear         []string     `xmlrpc:"Clear"`
}

type productResult struct {
	Status  string `xmlrpc:"Status"`
	Message string `xmlrpc:"Message"`
}

type textPayload struct {
	ArticleNumber string       `xmlrpc:"ArticleNumber"`
	Culture       string       `xmlrpc:"Culture"`
	Fields        []fieldValue `xmlrpc:"Fields"`
	Clear         []string     `xmlrpc:"Clear"`
}

// textResult reports one field of a text update; the platform applies the
// accepted fields and rejects the rest individually.
type textResult struct {
	Key     string `xmlrpc:"Key"`
	Success bool   `xmlrpc:"Success"`
	Message string `xmlrpc:"Message"`
}

type textUpdateResult struct {
	Results []textResult `xmlrpc:"Results"`
}

type imagePayload struct {
	ArticleNumber string `xmlrpc:"ArticleNumber"`
	MediaCode     string `xmlrpc:"MediaCode"`
	Fingerprint   string `xmlrpc:"Fingerprint"`
	Position      int    `xmlrpc:"Position"`
	Data          []byte `xmlrpc:"Data"`
}

type imageUploadResult struct {
	Handle  string `xmlrpc:"Handle"`
	Message string `xmlrpc:"Message"`
}

// imageSlot references one image of the final ordered list. Handle is set
// for images uploaded this run; an empty handle means the platform already
// knows the fingerprint.
type imageSlot struct {
	Fingerprint string `xmlrpc:"Fingerprint"`
	Handle      string `xmlrpc:"Handle"`
}

type imageOrderPayload struct {
	ArticleNumber string      `xmlrpc:"ArticleNumber"`
	Images        []imageSlot `xmlrpc:"Images"`
}

type pricePayload struct {
	ArticleNumber         string `xmlrpc:"ArticleNumber"`
	Culture               string `xmlrpc:"Culture"`
	PriceListID           string `xmlrpc:"PriceListId"`
	PriceIncVat           string `xmlrpc:"PriceIncVat"`
	DiscountedPriceIncVat string `xmlrpc:"DiscountedPriceIncVat"`
	UseDiscountDateSpan   bool   `xmlrpc:"UseDiscountDateSpan"`
	DiscountStartDate     string `xmlrpc:"DiscountStartDate"`
	DiscountEndDate       string `xmlrpc:"DiscountEndDate"`
	HideProduct           bool   `xmlrpc:"HideProduct"`
	Remove                bool   `xmlrpc:"Remove"`
}

type deletePayload struct {
	ArticleNumber string `xmlrpc:"ArticleNumber"`
	AddRedirect   bool   `xmlrpc:"AddRedirect"`
}

type ackResult struct {
	Success bool   `xmlrpc:"Success"`
	Message string `xmlrpc:"Message"`
}

// ---------------------------------------------------------------------------
// Target operations
// ---------------------------------------------------------------------------

// UpdateCore upserts a product's scalar fields. The platform creates the
// product on first sight, applying the configured template.
func (c *Client) UpdateCore(ctx context.Context, update sync.CoreUpdate) error {
	payload := productPayload{
		ArticleNumber: update.ProductNo,
		TemplateID:    c.config.TemplateID,
		Fields:        fieldValues(update.Set),
		Clear:         sortedPaths(update.Clear),
	}

	var res productResult
	if err := c.call(ctx, methodProductAddUpdate, payload, &res); err != nil {
		return err
	}
	switch res.Status {
	case statusSuccessNew, statusSuccessUpdate:
	default:
		return rejected(methodProductAddUpdate, update.ProductNo, res.Status+" "+res.Message)
	}

	logger.WithLogger(ctx, c.logger).Debug("Product core update applied",
		zap.String("product_no", update.ProductNo),
		zap.String("status", res.Status),
	)
	return nil
}

// UpdateTexts upserts a product's localized fields for one culture. The
// platform answers per field; any rejected field fails the whole update so
// the next run replays it.
func (c *Client) UpdateTexts(ctx context.Context, update sync.TextUpdate) error {
	payload := textPayload{
		ArticleNumber: update.ProductNo,
		Culture:       update.Culture,
		Fields:        fieldValues(update.Set),
		Clear:         sortedPaths(update.Clear),
	}

	var res textUpdateResult
	if err := c.call(ctx, methodTextUpdate, payload, &res); err != nil {
		return err
	}

	var failed []string
	for _, r := range res.Results {
		if !r.Success {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Key, r.Message))
		}
	}
	if len(failed) > 0 {
		detail := fmt.Sprintf("culture %s: %s", update.Culture, strings.Join(failed, "; "))
		return rejected(methodTextUpdate, update.ProductNo, detail)
	}
	return nil
}

// UploadImage pushes one image's bytes and returns the platform's handle for
// the association update.
func (c *Client) UploadImage(ctx context.Context, upload sync.ImageUpload) (string, error) {
	payload := imagePayload{
		ArticleNumber: upload.ProductNo,
		MediaCode:     upload.MediaCode,
		Fingerprint:   upload.Fingerprint,
		Position:      upload.Position,
		Data:          upload.Data,
	}

	var res imageUploadResult
	if err := c.call(ctx, methodImageUpload, payload, &res); err != nil {
		return "", err
	}
	if res.Handle == "" {
		return "", rejected(methodImageUpload, upload.ProductNo, res.Message)
	}

	logger.WithLogger(ctx, c.logger).Debug("Product image uploaded",
		zap.String("product_no", upload.ProductNo),
		zap.String("media_code", upload.MediaCode),
		zap.Int("size", len(upload.Data)),
	)
	return res.Handle, nil
}

// UpdateImageAssociations rewrites the product's image list to the given
// fingerprint order; associations not listed are dropped by the platform.
func (c *Client) UpdateImageAssociations(ctx context.Context, assoc sync.ImageAssociation) error {
	slots := make([]imageSlot, 0, len(assoc.Fingerprints))
	for _, fp := range assoc.Fingerprints {
		slots = append(slots, imageSlot{Fingerprint: fp, Handle: assoc.Handles[fp]})
	}
	payload := imageOrderPayload{ArticleNumber: assoc.ProductNo, Images: slots}

	var res ackResult
	if err := c.call(ctx, methodImageSetOrder, payload, &res); err != nil {
		return err
	}
	if !res.Success {
		return rejected(methodImageSetOrder, assoc.ProductNo, res.Message)
	}
	return nil
}

// UpdatePrice upserts or removes one (culture, price list) entry.
func (c *Client) UpdatePrice(ctx context.Context, update sync.PriceUpdate) error {
	entry := update.Entry
	payload := pricePayload{
		ArticleNumber: update.ProductNo,
		Culture:       entry.Culture,
		PriceListID:   entry.PriceList,
	}

	if update.Remove {
		payload.Remove = true
	} else {
		payload.PriceIncVat = entry.Price.StringFixed(4)
		payload.HideProduct = entry.HideProduct
		switch {
		case entry.DiscountPrice != nil:
			payload.DiscountedPriceIncVat = entry.DiscountPrice.StringFixed(4)
		case entry.ClearDiscount:
			payload.DiscountedPriceIncVat = discountClearSentinel
		}
		payload.UseDiscountDateSpan = entry.DiscountFrom != nil || entry.DiscountTo != nil
		payload.DiscountStartDate = formatDate(entry.DiscountFrom)
		payload.DiscountEndDate = formatDate(entry.DiscountTo)
	}

	var res ackResult
	if err := c.call(ctx, methodPriceUpdate, payload, &res); err != nil {
		return err
	}
	if !res.Success {
		detail := fmt.Sprintf("price list %s/%s: %s", entry.Culture, entry.PriceList, res.Message)
		return rejected(methodPriceUpdate, update.ProductNo, detail)
	}
	return nil
}

// DeleteProduct removes the product downstream. Deleting a product the
// platform no longer has succeeds; the feed may replay a deletion the target
// already saw.
func (c *Client) DeleteProduct(ctx context.Context, productNo string) error {
	payload := deletePayload{ArticleNumber: productNo, AddRedirect: false}

	var res productResult
	if err := c.call(ctx, methodProductDelete, payload, &res); err != nil {
		return err
	}
	switch res.Status {
	case statusSuccess:
	case statusNotFound:
		logger.WithLogger(ctx, c.logger).Info("Product already absent from the target",
			zap.String("product_no", productNo),
		)
	default:
		return rejected(methodProductDelete, productNo, res.Status+" "+res.Message)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payload helpers
// ---------------------------------------------------------------------------

// fieldValues renders a change set partition for the wire, sorted by field
// name so identical updates serialize identically.
func fieldValues(set map[string]catalog.Value) []fieldValue {
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]fieldValue, 0, len(names))
	for _, name := range names {
		v := set[name]
		out = append(out, fieldValue{Name: name, Kind: v.Kind().String(), Value: v.String()})
	}
	return out
}

func sortedPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var _ sync.Target = (*Client)(nil)
