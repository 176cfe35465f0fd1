package sync

import (
	"slices"
	"sort"

	"github.com/erp/shopsync/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Diff engine
// ---------------------------------------------------------------------------

// Diff computes the minimal change set between the current resolution of a
// product and its prior committed snapshot. prior is nil on first sync, which
// makes every present field, image and price an addition.
//
// Comparison is by typed value equality, never by raw string equality, so
// formatting differences the coercion layer already normalized produce no
// deltas. Removals are only ever produced for entries present in prior:
// nothing this engine never committed can be fabricated into a removal.
func Diff(current *catalog.ResolvedProduct, prior *catalog.ResolvedProduct) *ChangeSet {
	cs := &ChangeSet{ProductNo: current.ProductNo}

	var priorCore map[string]catalog.Value
	var priorTexts map[string]map[string]catalog.Value
	var priorImages []catalog.Image
	var priorPrices []catalog.PriceEntry
	if prior != nil {
		priorCore = prior.Core
		priorTexts = prior.Texts
		priorImages = prior.Images
		priorPrices = prior.Prices
	}

	cs.Core = diffValues(current.Core, priorCore)
	cs.Texts = diffTexts(current.Texts, priorTexts)
	cs.Images = diffImages(current.Images, priorImages)
	cs.Prices = diffPrices(current.Prices, priorPrices)

	return cs
}

// diffValues compares two field maps and returns deltas sorted by path.
func diffValues(current, prior map[string]catalog.Value) []FieldDelta {
	paths := make([]string, 0, len(current)+len(prior))
	seen := make(map[string]bool, len(current)+len(prior))
	for p := range current {
		paths = append(paths, p)
		seen[p] = true
	}
	for p := range prior {
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var out []FieldDelta
	for _, path := range paths {
		curr, inCurrent := current[path]
		prev, inPrior := prior[path]

		switch {
		case inCurrent && !inPrior:
			v := curr
			out = append(out, FieldDelta{Path: path, Op: OpAdd, New: &v})
		case inCurrent && inPrior:
			if !curr.Equal(prev) {
				nv, ov := curr, prev
				out = append(out, FieldDelta{Path: path, Op: OpChange, Old: &ov, New: &nv})
			}
		default:
			v := prev
			out = append(out, FieldDelta{Path: path, Op: OpRemove, Old: &v})
		}
	}
	return out
}

// diffTexts compares the per-culture field maps. Cultures without deltas are
// omitted from the result.
func diffTexts(current, prior map[string]map[string]catalog.Value) map[string][]FieldDelta {
	cultures := make(map[string]bool, len(current)+len(prior))
	for c := range current {
		cultures[c] = true
	}
	for c := range prior {
		cultures[c] = true
	}

	out := make(map[string][]FieldDelta)
	for culture := range cultures {
		deltas := diffValues(current[culture], prior[culture])
		if len(deltas) > 0 {
			out[culture] = deltas
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// diffImages compares the ordered image lists by content fingerprint.
// Membership changes become added/removed entries; fingerprints present in
// both lists in a different relative order set Reordered. Duplicate
// fingerprints are matched by multiplicity.
func diffImages(current, prior []catalog.Image) *ImageDelta {
	if len(current) == 0 && len(prior) == 0 {
		return nil
	}

	currCount := fingerprintCounts(current)
	priorCount := fingerprintCounts(prior)

	d := &ImageDelta{Order: make([]string, 0, len(current))}
	for _, img := range current {
		d.Order = append(d.Order, img.Fingerprint)
	}

	// Membership by multiplicity: the nth duplicate counts as its own entry.
	seen := make(map[string]int, len(current))
	for _, img := range current {
		seen[img.Fingerprint]++
		if seen[img.Fingerprint] > priorCount[img.Fingerprint] {
			d.Added = append(d.Added, img)
		}
	}
	seen = make(map[string]int, len(prior))
	for _, img := range prior {
		seen[img.Fingerprint]++
		if seen[img.Fingerprint] > currCount[img.Fingerprint] {
			d.Removed = append(d.Removed, img)
		}
	}

	// Relative order of the fingerprints both lists share.
	commonCurr := commonSequence(current, priorCount)
	commonPrior := commonSequence(prior, currCount)
	d.Reordered = !slices.Equal(commonCurr, commonPrior)

	if d.IsZero() {
		return nil
	}
	return d
}

func fingerprintCounts(images []catalog.Image) map[string]int {
	out := make(map[string]int, len(images))
	for _, img := range images {
		out[img.Fingerprint]++
	}
	return out
}

// commonSequence filters an image list down to the fingerprints that also
// appear in the other list, respecting multiplicity.
func commonSequence(images []catalog.Image, other map[string]int) []string {
	taken := make(map[string]int, len(other))
	out := make([]string, 0, len(images))
	for _, img := range images {
		if taken[img.Fingerprint] < other[img.Fingerprint] {
			taken[img.Fingerprint]++
			out = append(out, img.Fingerprint)
		}
	}
	return out
}

// diffPrices compares price entries keyed by (culture, price list). An entry
// absent from current is a removal only when prior carried it.
func diffPrices(current, prior []catalog.PriceEntry) []PriceDelta {
	currByKey := make(map[catalog.PriceKey]catalog.PriceEntry, len(current))
	for _, e := range current {
		currByKey[e.Key()] = e
	}
	priorByKey := make(map[catalog.PriceKey]catalog.PriceEntry, len(prior))
	for _, e := range prior {
		priorByKey[e.Key()] = e
	}

	keys := make([]catalog.PriceKey, 0, len(currByKey)+len(priorByKey))
	seen := make(map[catalog.PriceKey]bool, len(currByKey)+len(priorByKey))
	for k := range currByKey {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range priorByKey {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Culture != keys[j].Culture {
			return keys[i].Culture < keys[j].Culture
		}
		return keys[i].PriceList < keys[j].PriceList
	})

	var out []PriceDelta
	for _, key := range keys {
		curr, inCurrent := currByKey[key]
		prev, inPrior := priorByKey[key]

		switch {
		case inCurrent && !inPrior:
			e := curr
			out = append(out, PriceDelta{Culture: key.Culture, PriceList: key.PriceList, Op: OpAdd, New: &e})
		case inCurrent && inPrior:
			if !curr.Equal(prev) {
				ne, oe := curr, prev
				out = append(out, PriceDelta{Culture: key.Culture, PriceList: key.PriceList, Op: OpChange, Old: &oe, New: &ne})
			}
		default:
			e := prev
			out = append(out, PriceDelta{Culture: key.Culture, PriceList: key.PriceList, Op: OpRemove, Old: &e})
		}
	}
	return out
}
