package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
)

// apply issues the downstream calls for one change set in the fixed order:
// core fields, localized texts per culture, image reconciliation, then price
// entries. Image and price calls are independent side channels in the
// target's API; they follow the core update but the first failed stage stops
// the sequence so the next run retries the product as a whole. Returns the
// stage that failed alongside the error.
func (o *Orchestrator) apply(ctx context.Context, src *catalog.SourceProduct, cs *sync.ChangeSet) (sync.Stage, error) {
	if err := o.applyCore(ctx, cs); err != nil {
		return sync.StageCore, err
	}
	if err := o.applyTexts(ctx, cs); err != nil {
		return sync.StageTexts, err
	}
	if err := o.applyImages(ctx, src, cs); err != nil {
		return sync.StageImages, err
	}
	if err := o.applyPrices(ctx, cs); err != nil {
		return sync.StagePrices, err
	}
	return "", nil
}

func (o *Orchestrator) applyCore(ctx context.Context, cs *sync.ChangeSet) error {
	if len(cs.Core) == 0 {
		return nil
	}
	update := sync.CoreUpdate{ProductNo: cs.ProductNo, Set: make(map[string]catalog.Value)}
	for _, d := range cs.Core {
		if d.Op == sync.OpRemove {
			update.Clear = append(update.Clear, d.Path)
			continue
		}
		update.Set[d.Path] = *d.New
	}
	if err := o.target.UpdateCore(ctx, update); err != nil {
		return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "core", Err: err}
	}
	return nil
}

func (o *Orchestrator) applyTexts(ctx context.Context, cs *sync.ChangeSet) error {
	if len(cs.Texts) == 0 {
		return nil
	}
	cultures := make([]string, 0, len(cs.Texts))
	for culture := range cs.Texts {
		cultures = append(cultures, culture)
	}
	sort.Strings(cultures)

	for _, culture := range cultures {
		update := sync.TextUpdate{ProductNo: cs.ProductNo, Culture: culture, Set: make(map[string]catalog.Value)}
		for _, d := range cs.Texts[culture] {
			if d.Op == sync.OpRemove {
				update.Clear = append(update.Clear, d.Path)
				continue
			}
			update.Set[d.Path] = *d.New
		}
		if err := o.target.UpdateTexts(ctx, update); err != nil {
			return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "texts " + culture, Err: err}
		}
	}
	return nil
}

// applyImages uploads the images new to the target, then rewrites the
// product's associations to the final fingerprint order, which also drops the
// removed ones.
func (o *Orchestrator) applyImages(ctx context.Context, src *catalog.SourceProduct, cs *sync.ChangeSet) error {
	if cs.Images.IsZero() {
		return nil
	}

	refByCode := make(map[string]catalog.MediaRef, len(src.Media))
	for _, ref := range src.Media {
		refByCode[ref.Code] = ref
	}

	handles := make(map[string]string, len(cs.Images.Added))
	for _, img := range cs.Images.Added {
		ref, ok := refByCode[img.MediaCode]
		if !ok {
			err := fmt.Errorf("media %s missing from the feed record", img.MediaCode)
			return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "image upload", Err: err}
		}
		if o.media == nil {
			err := fmt.Errorf("no media fetcher configured")
			return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "image upload", Err: err}
		}
		data, err := o.media.Fetch(ctx, ref)
		if err != nil {
			return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "image upload", Err: err}
		}
		handle, err := o.target.UploadImage(ctx, sync.ImageUpload{
			ProductNo:   cs.ProductNo,
			MediaCode:   img.MediaCode,
			Fingerprint: img.Fingerprint,
			Position:    img.Position,
			Data:        data,
		})
		if err != nil {
			return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "image upload", Err: err}
		}
		handles[img.Fingerprint] = handle
	}

	assoc := sync.ImageAssociation{
		ProductNo:    cs.ProductNo,
		Fingerprints: cs.Images.Order,
		Handles:      handles,
	}
	if err := o.target.UpdateImageAssociations(ctx, assoc); err != nil {
		return &sync.WriteError{ProductNo: cs.ProductNo, Operation: "image association", Err: err}
	}
	return nil
}

func (o *Orchestrator) applyPrices(ctx context.Context, cs *sync.ChangeSet) error {
	for _, d := range cs.Prices {
		update := sync.PriceUpdate{ProductNo: cs.ProductNo}
		if d.Op == sync.OpRemove {
			update.Entry = *d.Old
			update.Remove = true
		} else {
			update.Entry = *d.New
		}
		if err := o.target.UpdatePrice(ctx, update); err != nil {
			op := fmt.Sprintf("price %s/%s", d.Culture, d.PriceList)
			return &sync.WriteError{ProductNo: cs.ProductNo, Operation: op, Err: err}
		}
	}
	return nil
}
