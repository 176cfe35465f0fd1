package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// errMissingIdentity marks an export record without a product number. The
// iterator skips such records instead of aborting the pull.
var errMissingIdentity = errors.New("feed: export record missing identifier.productNo")

// mediaTypeImage selects the media entries the image pipeline consumes.
const mediaTypeImage = "IMAGE"

// changedAtLayouts are the timestamp shapes the export has been seen to emit.
var changedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ---------------------------------------------------------------------------
// Record envelope
// ---------------------------------------------------------------------------

type exportProduct struct {
	Identifier   exportIdentifier  `json:"identifier"`
	Action       string            `json:"action"`
	Deleted      looseBool         `json:"deleted"`
	LanguageCode string            `json:"languageCode"`
	LastModified string            `json:"lastModified"`
	ProductHead  exportProductHead `json:"productHead"`
	Attributes   []exportAttribute `json:"attributes"`
	Texts        []exportText      `json:"texts"`
	Media        []exportMedia     `json:"media"`
}

type exportIdentifier struct {
	ProductNo string `json:"productNo"`
}

type exportProductHead struct {
	Deleted looseBool `json:"deleted"`
}

type exportAttribute struct {
	ImportCode string                       `json:"importCode"`
	DataType   string                       `json:"dataType"`
	Value      any                          `json:"value"`
	Options    map[string]map[string]string `json:"options"`
}

type exportText struct {
	ImportCode string `json:"importCode"`
	Value      any    `json:"value"`
}

type exportMedia struct {
	MediaCode string `json:"mediaCode"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	SortNo    int    `json:"sortNo"`
	Version   string `json:"version"`
}

// looseBool accepts the export's two deletion encodings, JSON true and the
// string "true".
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = looseBool(t)
	case string:
		*b = looseBool(strings.EqualFold(strings.TrimSpace(t), "true"))
	default:
		*b = false
	}
	return nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// decodeProduct turns one export record into a SourceProduct. The record is
// decoded twice: once into the typed envelope for attributes, texts and
// media, and once into a generic map so mapping rules can address any
// top-level field by dotted path.
func decodeProduct(raw json.RawMessage, language string) (*catalog.SourceProduct, error) {
	var env exportProduct
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode export record: %w", err)
	}
	if env.Identifier.ProductNo == "" {
		return nil, errMissingIdentity
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode export record fields: %w", err)
	}

	if env.LanguageCode != "" {
		language = env.LanguageCode
	}

	return &catalog.SourceProduct{
		ProductNo:  env.Identifier.ProductNo,
		Action:     env.Action,
		Deleted:    bool(env.Deleted) || bool(env.ProductHead.Deleted),
		Language:   language,
		ChangedAt:  parseChangedAt(env.LastModified),
		Fields:     fields,
		Attributes: decodeAttributes(env.Attributes),
		Texts:      decodeTexts(env.Texts, language),
		Media:      decodeMedia(env.Media),
	}, nil
}

func decodeAttributes(attrs []exportAttribute) map[string]catalog.Attribute {
	out := make(map[string]catalog.Attribute, len(attrs))
	for _, a := range attrs {
		if a.ImportCode == "" {
			continue
		}
		out[a.ImportCode] = catalog.Attribute{
			Code:    a.ImportCode,
			Type:    normalizeAttrType(a.DataType),
			Value:   a.Value,
			Options: a.Options,
		}
	}
	return out
}

// normalizeAttrType folds the export's alternate spellings onto the
// canonical attribute type identifiers.
func normalizeAttrType(dataType string) string {
	if dataType == "BOOLEAN" {
		return catalog.AttrTypeBool
	}
	return dataType
}

// decodeTexts converts export text blocks. A per-language object keeps its
// languages; a bare string is filed under the record's primary language.
func decodeTexts(texts []exportText, language string) map[string]catalog.LocalizedText {
	out := make(map[string]catalog.LocalizedText, len(texts))
	for _, t := range texts {
		if t.ImportCode == "" {
			continue
		}
		values := make(map[string]string)
		switch v := t.Value.(type) {
		case map[string]any:
			for lang, item := range v {
				if s, ok := item.(string); ok {
					values[lang] = s
				}
			}
		case string:
			values[language] = v
		}
		out[t.ImportCode] = catalog.LocalizedText{Code: t.ImportCode, Values: values}
	}
	return out
}

// decodeMedia keeps the image entries in feed order. Non-image media types
// (documents, videos) have no downstream representation and are dropped.
func decodeMedia(media []exportMedia) []catalog.MediaRef {
	refs := make([]catalog.MediaRef, 0, len(media))
	for _, m := range media {
		if m.MediaCode == "" || m.MediaType != mediaTypeImage {
			continue
		}
		refs = append(refs, catalog.MediaRef{
			Code:     m.MediaCode,
			URL:      m.URL,
			Position: m.SortNo,
			Version:  m.Version,
		})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Position < refs[j].Position })
	if len(refs) == 0 {
		return nil
	}
	return refs
}

func parseChangedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range changedAtLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
