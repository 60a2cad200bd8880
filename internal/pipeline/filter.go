package pipeline

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Filter recomputes the pending set: items with no analysis, no analysis
// ledger mark, and an opportunity score above the configured threshold.
// The threshold is either an absolute score or a percentile of the current
// per-kind score distribution.
type Filter struct {
	store store.Store
	cfg   config.FilterConfig
}

// NewFilter wires a filter.
func NewFilter(st store.Store, cfg config.FilterConfig) *Filter {
	return &Filter{store: st, cfg: cfg}
}

// Pending returns the items the analyze stage should process, highest
// score first. Recomputing is idempotent: committed analyses drop out via
// the ledger.
func (f *Filter) Pending(ctx context.Context) ([]model.ContentItem, error) {
	candidates, err := f.store.ListItems(ctx, store.ItemFilter{
		Unanalyzed:  true,
		NotInLedger: model.LedgerAnalysis,
	})
	if err != nil {
		return nil, eris.Wrap(err, "filter: list candidates")
	}

	cutoffs, err := f.cutoffs(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]model.ContentItem, 0, len(candidates))
	for _, item := range candidates {
		if item.OpportunityScore >= cutoffs[item.Kind] {
			pending = append(pending, item)
		}
	}

	zap.L().Info("filter: pending set computed",
		zap.Int("candidates", len(candidates)),
		zap.Int("pending", len(pending)),
		zap.Float64("post_cutoff", cutoffs[model.KindPost]),
		zap.Float64("comment_cutoff", cutoffs[model.KindComment]),
	)
	return pending, nil
}

// cutoffs resolves the per-kind score threshold. A configured percentile
// takes precedence over the absolute minimum and is evaluated against the
// full score distribution of each kind, not just the unanalyzed slice.
func (f *Filter) cutoffs(ctx context.Context) (map[model.Kind]float64, error) {
	out := map[model.Kind]float64{
		model.KindPost:    f.cfg.MinScore,
		model.KindComment: f.cfg.MinScore,
	}
	if f.cfg.Percentile <= 0 {
		return out, nil
	}

	for kind := range out {
		items, err := f.store.ListItems(ctx, store.ItemFilter{Kind: kind})
		if err != nil {
			return nil, eris.Wrapf(err, "filter: list %s scores", kind)
		}
		scores := make([]float64, len(items))
		for i, item := range items {
			scores[i] = item.OpportunityScore
		}
		out[kind] = percentile(scores, f.cfg.Percentile)
	}
	return out, nil
}

// percentile returns the p-th percentile of scores using linear
// interpolation between closest ranks. Empty input yields 0.
func percentile(scores []float64, p float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
