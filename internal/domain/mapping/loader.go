package mapping

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Document schema
// ---------------------------------------------------------------------------

// document is the YAML shape of a mapping specification before compilation.
type document struct {
	Version          int               `yaml:"version" validate:"required,min=1"`
	Cultures         []string          `yaml:"cultures" validate:"required,min=1,dive,required"`
	CultureFallbacks map[string]string `yaml:"culture_fallbacks"`
	CultureLanguages map[string]string `yaml:"culture_languages"`
	FallbackLanguage string            `yaml:"fallback_language"`
	Images           imagesDoc         `yaml:"images"`
	Fields           []fieldDoc        `yaml:"fields" validate:"dive"`
	PriceLists       []priceListDoc    `yaml:"price_lists" validate:"dive"`
	DynamicFields    dynamicFieldsDoc  `yaml:"dynamic_fields"`
}

type imagesDoc struct {
	Enabled bool `yaml:"enabled"`
}

type fieldDoc struct {
	Source          string            `yaml:"source"`
	SourceByCulture map[string]string `yaml:"source_by_culture"`
	Target          string            `yaml:"target"`
	Kind            string            `yaml:"kind" validate:"required"`
	Mode            string            `yaml:"mode" validate:"omitempty,oneof=strict coerce skip-on-error"`
	Allow           *bool             `yaml:"allow"`
	Default         any               `yaml:"default"`
	Multi           bool              `yaml:"multi"`
	Cultures        []string          `yaml:"cultures"`
	Transforms      []string          `yaml:"transforms"`
	Constraints     *constraintsDoc   `yaml:"constraints"`
	AllowEmpty      bool              `yaml:"allow_empty"`

	// Price-list kind entries only.
	List           string `yaml:"list"`
	Culture        string `yaml:"culture"`
	DiscountSource string `yaml:"discount_source"`
	DiscountFrom   string `yaml:"discount_from"`
	DiscountTo     string `yaml:"discount_to"`
	Show           string `yaml:"show"`
}

type constraintsDoc struct {
	MaxLength int    `yaml:"max_length" validate:"omitempty,min=1"`
	Min       any    `yaml:"min"`
	Max       any    `yaml:"max"`
	Regex     string `yaml:"regex"`
}

type priceListDoc struct {
	List           string   `yaml:"list" validate:"required"`
	Culture        string   `yaml:"culture" validate:"required"`
	Source         string   `yaml:"source" validate:"required"`
	DiscountSource string   `yaml:"discount_source"`
	DiscountFrom   string   `yaml:"discount_from"`
	DiscountTo     string   `yaml:"discount_to"`
	Show           string   `yaml:"show"`
	ClearSentinel  *float64 `yaml:"clear_sentinel"`
}

type dynamicFieldsDoc struct {
	AutoMap      bool     `yaml:"auto_map"`
	Allowlist    []string `yaml:"allowlist"`
	TargetPrefix string   `yaml:"target_prefix"`
}

// defaultClearSentinel marks "remove the published discount" in price sources.
var defaultClearSentinel = decimal.NewFromInt(-1)

// structValidator checks document-level structure; cross-field rules are
// collected manually during compilation.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// Load reads and compiles a mapping specification from disk. On structural
// problems it returns a *ValidationError carrying every violation found.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mapping: %s: %w", path, err)
	}
	return spec, nil
}

// Parse compiles a mapping document from raw YAML. Unknown document keys are
// violations, not silent no-ops: a typoed rule must never quietly drop a
// field from the sync.
func Parse(data []byte) (*Spec, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		ve := &ValidationError{}
		ve.add("document", "not parseable as YAML: %v", err)
		return nil, ve
	}
	return compile(&doc)
}

// compile validates the document and builds the immutable Spec. All
// violations are collected before returning.
func compile(doc *document) (*Spec, error) {
	ve := &ValidationError{}

	if err := structValidator.Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := asValidationErrors(err, &fieldErrs); ok {
			for _, fe := range fieldErrs {
				ve.add(docPath(fe.Namespace()), "fails %q constraint", fe.Tag())
			}
		} else {
			ve.add("document", "structural validation failed: %v", err)
		}
	}

	spec := &Spec{
		Version:     doc.Version,
		cultureByID: make(map[string]*Culture),
	}

	compileCultures(doc, spec, ve)
	compileFields(doc, spec, ve)
	compilePriceLists(doc, spec, ve)
	compileDynamicFields(doc, spec, ve)

	if doc.Images.Enabled {
		spec.ImagesEnabled = true
	}

	if err := ve.orNil(); err != nil {
		return nil, err
	}
	return spec, nil
}

func compileCultures(doc *document, spec *Spec, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, id := range doc.Cultures {
		path := fmt.Sprintf("cultures[%d]", i)
		if seen[id] {
			ve.add(path, "duplicate culture %q", id)
			continue
		}
		seen[id] = true

		tag, err := language.Parse(id)
		if err != nil {
			ve.add(path, "invalid culture tag %q: %v", id, err)
			continue
		}

		lang := doc.CultureLanguages[id]
		if lang == "" {
			base, _ := tag.Base()
			lang = base.String()
		}

		spec.Cultures = append(spec.Cultures, Culture{
			ID:       id,
			Tag:      tag,
			Language: lang,
			Fallback: doc.CultureFallbacks[id],
		})
	}

	for i := range spec.Cultures {
		spec.cultureByID[spec.Cultures[i].ID] = &spec.Cultures[i]
	}

	for id, fb := range doc.CultureFallbacks {
		if !seen[id] {
			ve.add("culture_fallbacks", "fallback declared for unconfigured culture %q", id)
		}
		if !seen[fb] {
			ve.add("culture_fallbacks", "culture %q falls back to unconfigured culture %q", id, fb)
		}
	}
	for id := range doc.CultureLanguages {
		if !seen[id] {
			ve.add("culture_languages", "language declared for unconfigured culture %q", id)
		}
	}

	spec.FallbackLanguage = doc.FallbackLanguage
	if spec.FallbackLanguage == "" && len(spec.Cultures) > 0 {
		spec.FallbackLanguage = spec.Cultures[0].Language
	}
}

func compileFields(doc *document, spec *Spec, ve *ValidationError) {
	coreTargets := make(map[string]bool)
	localizedTargets := make(map[string]bool)

	for i := range doc.Fields {
		f := &doc.Fields[i]
		path := fmt.Sprintf("fields[%d]", i)

		kind := catalog.Kind(f.Kind)
		if !kind.IsValid() {
			ve.add(path+".kind", "unknown kind %q", f.Kind)
			continue
		}

		if f.Allow == nil {
			ve.add(path+".allow", "allowlist flag must be explicit")
		}

		switch kind {
		case catalog.KindImageList:
			if f.Source != "" && f.Source != "media" {
				ve.add(path+".source", "image-list entries read the media list; source must be omitted or %q", "media")
			}
			spec.ImagesEnabled = true
			continue

		case catalog.KindPriceList:
			pr, ok := compilePriceEntry(path, f.Source, f.List, f.Culture,
				f.DiscountSource, f.DiscountFrom, f.DiscountTo, f.Show, nil, spec, ve)
			if ok && (f.Allow == nil || *f.Allow) {
				spec.PriceRules = append(spec.PriceRules, pr)
			}
			continue
		}

		rule := FieldRule{
			Target:     f.Target,
			Kind:       kind,
			Mode:       CoercionMode(f.Mode),
			Multi:      f.Multi,
			Cultures:   f.Cultures,
			AllowEmpty: f.AllowEmpty,
		}
		if rule.Mode == "" {
			rule.Mode = ModeCoerce
		}
		if f.Allow != nil {
			rule.Allowed = *f.Allow
		}

		if f.Target == "" {
			ve.add(path+".target", "target field path is required")
		}
		if f.Multi && kind != catalog.KindEnum {
			ve.add(path+".multi", "multi is only valid for enum rules")
		}

		if f.Source == "" {
			ve.add(path+".source", "source selector is required")
		} else if sel, err := ParseSelector(f.Source); err != nil {
			ve.add(path+".source", "%v", err)
		} else {
			rule.Source = sel
			if root, ok := sel.FieldRoot(); ok && root == "price" {
				ve.add(path+".source", "the top-level price field can only feed price-list entries")
			}
		}

		if len(f.SourceByCulture) > 0 {
			rule.SourceByCulture = make(map[string]Selector, len(f.SourceByCulture))
			for cultureID, raw := range f.SourceByCulture {
				if _, ok := spec.cultureByID[cultureID]; !ok {
					ve.add(path+".source_by_culture", "unconfigured culture %q", cultureID)
					continue
				}
				sel, err := ParseSelector(raw)
				if err != nil {
					ve.add(path+".source_by_culture", "culture %q: %v", cultureID, err)
					continue
				}
				rule.SourceByCulture[cultureID] = sel
			}
		}

		for _, cultureID := range f.Cultures {
			if _, ok := spec.cultureByID[cultureID]; !ok {
				ve.add(path+".cultures", "unconfigured culture %q", cultureID)
			}
		}
		if len(f.Cultures) > 0 && kind != catalog.KindLocalizedText {
			ve.add(path+".cultures", "culture restriction is only valid for localized-text rules")
		}

		if f.Default != nil {
			if rule.Mode == ModeStrict {
				ve.add(path+".default", "strict mode requires no default")
			} else if dv, reason := convert(f.Default, &rule, true); reason != "" {
				ve.add(path+".default", "default value: %s", reason)
			} else {
				rule.Default = dv
			}
		}

		for _, name := range f.Transforms {
			fn, ok := TransformByName(name)
			if !ok {
				ve.add(path+".transforms", "unknown transform %q", name)
				continue
			}
			rule.TransformNames = append(rule.TransformNames, name)
			rule.Transforms = append(rule.Transforms, fn)
		}

		if f.Constraints != nil {
			rule.Constraints = compileConstraints(path, f.Constraints, ve)
		}

		targets := coreTargets
		if kind == catalog.KindLocalizedText {
			targets = localizedTargets
		}
		if rule.Target != "" {
			if targets[rule.Target] {
				ve.add(path+".target", "duplicate target path %q", rule.Target)
			}
			targets[rule.Target] = true
		}

		spec.Rules = append(spec.Rules, rule)
	}
}

func compileConstraints(path string, doc *constraintsDoc, ve *ValidationError) Constraints {
	c := Constraints{MaxLength: doc.MaxLength}

	parseBound := func(name string, raw any) *decimal.Decimal {
		if raw == nil {
			return nil
		}
		d, reason := numberFrom(raw, true)
		if reason != "" {
			ve.add(path+".constraints."+name, "%s", reason)
			return nil
		}
		return &d
	}
	c.Min = parseBound("min", doc.Min)
	c.Max = parseBound("max", doc.Max)
	if c.Min != nil && c.Max != nil && c.Min.GreaterThan(*c.Max) {
		ve.add(path+".constraints", "min %s exceeds max %s", c.Min.String(), c.Max.String())
	}

	if doc.Regex != "" {
		re, err := regexp.Compile(doc.Regex)
		if err != nil {
			ve.add(path+".constraints.regex", "invalid pattern: %v", err)
		} else {
			c.Regex = re
		}
	}
	return c
}

func compilePriceLists(doc *document, spec *Spec, ve *ValidationError) {
	for i := range doc.PriceLists {
		p := &doc.PriceLists[i]
		path := fmt.Sprintf("price_lists[%d]", i)
		pr, ok := compilePriceEntry(path, p.Source, p.List, p.Culture,
			p.DiscountSource, p.DiscountFrom, p.DiscountTo, p.Show, p.ClearSentinel, spec, ve)
		if ok {
			spec.PriceRules = append(spec.PriceRules, pr)
		}
	}

	seen := make(map[catalog.PriceKey]bool)
	for _, pr := range spec.PriceRules {
		if seen[pr.Key()] {
			ve.add("price_lists", "duplicate price rule for culture %q list %q", pr.Culture, pr.List)
		}
		seen[pr.Key()] = true
	}
}

// compilePriceEntry builds one PriceRule from either a price_lists entry or a
// fields entry of kind price-list.
func compilePriceEntry(path, source, list, culture, discountSource, discountFrom, discountTo, show string,
	sentinel *float64, spec *Spec, ve *ValidationError) (PriceRule, bool) {

	ok := true
	pr := PriceRule{List: list, Culture: culture, ClearSentinel: defaultClearSentinel}
	if sentinel != nil {
		pr.ClearSentinel = decimal.NewFromFloat(*sentinel)
	}

	if list == "" {
		ve.add(path+".list", "price-list entries require a list identifier")
		ok = false
	}
	if culture == "" {
		ve.add(path+".culture", "price-list entries require a culture")
		ok = false
	} else if _, found := spec.cultureByID[culture]; !found {
		ve.add(path+".culture", "unconfigured culture %q", culture)
		ok = false
	}

	parse := func(name, raw string, required bool) Selector {
		if raw == "" {
			if required {
				ve.add(path+"."+name, "price-list entries require a source")
				ok = false
			}
			return Selector{}
		}
		sel, err := ParseSelector(raw)
		if err != nil {
			ve.add(path+"."+name, "%v", err)
			ok = false
			return Selector{}
		}
		return sel
	}

	pr.Source = parse("source", source, true)
	pr.DiscountSource = parse("discount_source", discountSource, false)
	pr.DiscountFromSource = parse("discount_from", discountFrom, false)
	pr.DiscountToSource = parse("discount_to", discountTo, false)
	pr.ShowSource = parse("show", show, false)

	return pr, ok
}

func compileDynamicFields(doc *document, spec *Spec, ve *ValidationError) {
	d := doc.DynamicFields
	spec.AutoMap = AutoMapRule{
		Enabled:      d.AutoMap,
		Allowlist:    d.Allowlist,
		TargetPrefix: d.TargetPrefix,
	}
	if d.AutoMap && len(d.Allowlist) == 0 {
		ve.add("dynamic_fields.allowlist", "auto_map requires an explicit allowlist")
	}
	seen := make(map[string]bool)
	for i, code := range d.Allowlist {
		if code == "" {
			ve.add(fmt.Sprintf("dynamic_fields.allowlist[%d]", i), "empty attribute code")
		}
		if seen[code] {
			ve.add(fmt.Sprintf("dynamic_fields.allowlist[%d]", i), "duplicate attribute code %q", code)
		}
		seen[code] = true
	}
}

// docPath rewrites a validator namespace like "document.fields[2].kind" into
// the document-relative "fields[2].kind".
func docPath(namespace string) string {
	if _, rest, found := strings.Cut(namespace, "."); found {
		return rest
	}
	return namespace
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if errs, ok := err.(validator.ValidationErrors); ok {
		*target = errs
		return true
	}
	return false
}
