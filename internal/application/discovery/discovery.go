// Package discovery scans a sample of feed records for attribute and text
// codes the active mapping does not cover, infers a target kind for each by
// majority vote over the observed values, and renders suggested mapping
// entries the operator can paste into the mapping file. It never mutates the
// active mapping and is not part of the sync path.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/mapping"
	"github.com/erp/shopsync/internal/domain/sync"
)

const (
	// defaultSampleSize bounds how many feed records one discovery pass reads.
	defaultSampleSize = 25

	// sampleValueCap is how many distinct observed values a suggestion keeps.
	sampleValueCap = 3

	// sampleValueWidth truncates rendered sample values for readability.
	sampleValueWidth = 60
)

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Options wires the discovery service.
type Options struct {
	Spec   *mapping.Spec
	Feed   sync.ProductFeed
	Logger *zap.Logger

	// SampleSize overrides how many records are scanned; zero keeps the
	// default. A product filter naturally narrows the sample to one.
	SampleSize int
}

// Service implements mapping discovery over the product feed.
type Service struct {
	spec       *mapping.Spec
	feed       sync.ProductFeed
	logger     *zap.Logger
	sampleSize int
}

// NewService validates the wiring and builds a discovery service.
func NewService(opts Options) (*Service, error) {
	if opts.Spec == nil {
		return nil, errors.New("discovery: service requires a mapping spec")
	}
	if opts.Feed == nil {
		return nil, errors.New("discovery: service requires a product feed")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.SampleSize
	if size <= 0 {
		size = defaultSampleSize
	}
	return &Service{spec: opts.Spec, feed: opts.Feed, logger: logger, sampleSize: size}, nil
}

// Query selects the records to sample.
type Query struct {
	// Since is the lower bound passed to the feed export.
	Since time.Time

	// ProductNo restricts the sample to a single product when set.
	ProductNo string
}

// Suggestion is one proposed mapping entry for an unmapped source field.
type Suggestion struct {
	// Source is the selector the entry would use, e.g. "attributes[tech_weight]".
	Source string

	// Target is a suggested target field path derived from the source code.
	Target string

	// Kind is the majority-voted target kind across the sampled values.
	Kind catalog.Kind

	// Multi marks multi-valued register attributes.
	Multi bool

	// Transforms lists recommended transforms for the inferred kind.
	Transforms []string

	// Cultures lists the per-culture keys observed on localized values.
	Cultures []string

	// Samples holds up to a few distinct observed values, rendered short.
	Samples []string

	// Seen counts how many sampled records carried the field.
	Seen int
}

// Report is the outcome of one discovery pass.
type Report struct {
	// Sampled is how many feed records were scanned.
	Sampled int

	// Attributes and Texts hold the suggestions per source family, each
	// sorted by source code.
	Attributes []Suggestion
	Texts      []Suggestion
}

// Empty reports whether the sample contained no unmapped fields.
func (r *Report) Empty() bool {
	return len(r.Attributes) == 0 && len(r.Texts) == 0
}

// ---------------------------------------------------------------------------
// Discover
// ---------------------------------------------------------------------------

// Discover samples the feed and reports unmapped fields with inferred kinds.
func (s *Service) Discover(ctx context.Context, q Query) (*Report, error) {
	products, err := s.sample(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, errors.New("discovery: feed returned no products to sample")
	}

	mappedAttrs := s.spec.MappedAttributeCodes()
	mappedTexts := s.spec.MappedTextCodes()

	attrs := make(map[string]*fieldStats)
	texts := make(map[string]*fieldStats)
	for _, p := range products {
		for code, attr := range p.Attributes {
			if code == "" || mappedAttrs[code] {
				continue
			}
			stats := statsFor(attrs, code)
			stats.observeAttribute(attr)
		}
		for code, text := range p.Texts {
			if code == "" || mappedTexts[code] {
				continue
			}
			stats := statsFor(texts, code)
			stats.observeText(text)
		}
	}

	report := &Report{
		Sampled:    len(products),
		Attributes: suggestionsFrom(attrs, "attributes"),
		Texts:      suggestionsFrom(texts, "texts"),
	}
	s.logger.Info("mapping discovery finished",
		zap.Int("sampled", report.Sampled),
		zap.Int("unmapped_attributes", len(report.Attributes)),
		zap.Int("unmapped_texts", len(report.Texts)),
	)
	return report, nil
}

// sample drains up to sampleSize live records from the feed.
func (s *Service) sample(ctx context.Context, q Query) ([]*catalog.SourceProduct, error) {
	it, err := s.feed.Export(ctx, sync.FeedQuery{Since: q.Since, ProductNo: q.ProductNo})
	if err != nil {
		return nil, fmt.Errorf("discovery: feed export: %w", err)
	}
	defer it.Close()

	var products []*catalog.SourceProduct
	for len(products) < s.sampleSize {
		src, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("discovery: feed read: %w", err)
		}
		if src.IsDeletion() {
			continue
		}
		products = append(products, src)
	}
	return products, nil
}

// ---------------------------------------------------------------------------
// Kind inference
// ---------------------------------------------------------------------------

// fieldStats accumulates per-code observations across the sample.
type fieldStats struct {
	votes    map[catalog.Kind]int
	multi    int
	seen     int
	newlines bool
	cultures map[string]bool
	samples  []string
}

func statsFor(m map[string]*fieldStats, code string) *fieldStats {
	stats, ok := m[code]
	if !ok {
		stats = &fieldStats{votes: make(map[catalog.Kind]int), cultures: make(map[string]bool)}
		m[code] = stats
	}
	return stats
}

func (s *fieldStats) observeAttribute(attr catalog.Attribute) {
	s.seen++
	kind, multi, ok := mapping.KindForAttributeType(attr.Type)
	if !ok {
		kind, multi = inferKind(attr.Value)
	}
	s.votes[kind]++
	if multi {
		s.multi++
	}
	s.observeValue(attr.Value)
}

func (s *fieldStats) observeText(text catalog.LocalizedText) {
	s.seen++
	s.votes[catalog.KindLocalizedText]++
	for lang, v := range text.Values {
		s.cultures[lang] = true
		if strings.Contains(v, "\n") {
			s.newlines = true
		}
		s.addSample(v)
	}
}

// observeValue records cultures and samples from a raw attribute value,
// descending into per-culture maps and multi-value lists.
func (s *fieldStats) observeValue(v any) {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.cultures[k] = true
			s.addSample(renderSample(vv[k]))
		}
	case []any:
		for _, item := range vv {
			s.addSample(renderSample(item))
		}
	default:
		s.addSample(renderSample(v))
	}
}

func (s *fieldStats) addSample(rendered string) {
	if rendered == "" || len(s.samples) >= sampleValueCap {
		return
	}
	for _, existing := range s.samples {
		if existing == rendered {
			return
		}
	}
	s.samples = append(s.samples, rendered)
}

// kindPrecedence breaks majority ties: the more specific kind wins so a
// 50/50 sample suggests the stricter coercion, which the operator can relax.
var kindPrecedence = []catalog.Kind{
	catalog.KindBoolean,
	catalog.KindNumber,
	catalog.KindDate,
	catalog.KindEnum,
	catalog.KindLocalizedText,
	catalog.KindText,
}

func (s *fieldStats) majorityKind() catalog.Kind {
	best := catalog.KindText
	bestVotes := -1
	for _, kind := range kindPrecedence {
		if v := s.votes[kind]; v > bestVotes {
			best, bestVotes = kind, v
		}
	}
	return best
}

// inferKind classifies a raw value when the feed declares no attribute type.
// Strings vote for the most specific kind they parse as.
func inferKind(v any) (kind catalog.Kind, multi bool) {
	switch vv := v.(type) {
	case bool:
		return catalog.KindBoolean, false
	case json.Number, int, int64, float64:
		return catalog.KindNumber, false
	case time.Time:
		return catalog.KindDate, false
	case string:
		return inferStringKind(vv), false
	case []any:
		if len(vv) > 0 {
			kind, _ = inferKind(vv[0])
			return kind, true
		}
		return catalog.KindText, true
	case map[string]any:
		for _, inner := range vv {
			kind, _ = inferKind(inner)
			return kind, false
		}
		return catalog.KindText, false
	default:
		return catalog.KindText, false
	}
}

func inferStringKind(s string) catalog.Kind {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return catalog.KindText
	}
	switch strings.ToLower(trimmed) {
	case "true", "false", "yes", "no":
		return catalog.KindBoolean
	}
	if _, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return catalog.KindDate
	}
	if _, err := time.Parse("2006-01-02", trimmed); err == nil {
		return catalog.KindDate
	}
	if _, err := json.Number(trimmed).Float64(); err == nil {
		return catalog.KindNumber
	}
	return catalog.KindText
}

// suggestionsFrom turns accumulated stats into sorted suggestions for one
// source family ("attributes" or "texts").
func suggestionsFrom(stats map[string]*fieldStats, family string) []Suggestion {
	codes := make([]string, 0, len(stats))
	for code := range stats {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]Suggestion, 0, len(codes))
	for _, code := range codes {
		st := stats[code]
		sg := Suggestion{
			Source:   fmt.Sprintf("%s[%s]", family, code),
			Target:   suggestTarget(code),
			Kind:     st.majorityKind(),
			Multi:    st.multi*2 > st.seen,
			Cultures: sortedKeys(st.cultures),
			Samples:  st.samples,
			Seen:     st.seen,
		}
		if sg.Kind == catalog.KindEnum {
			sg.Transforms = append(sg.Transforms, "label_lookup")
		}
		if st.newlines {
			sg.Transforms = append(sg.Transforms, "newline_to_br")
		}
		out = append(out, sg)
	}
	return out
}

// suggestTarget derives a target field path from a feed code:
// "tech_weight" becomes "TechWeight".
func suggestTarget(code string) string {
	parts := strings.FieldsFunc(code, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	if b.Len() == 0 {
		return code
	}
	return b.String()
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// renderSample renders one observed value for the suggestion comment,
// flattened to a single short line.
func renderSample(v any) string {
	if v == nil {
		return ""
	}
	s := fmt.Sprintf("%v", v)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > sampleValueWidth {
		s = s[:sampleValueWidth] + "..."
	}
	return s
}
