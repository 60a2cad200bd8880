// Package report assembles the two engagement briefings (posts and
// comments) from suitable, not-yet-reported opportunities.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Opportunity is one report entry: the suitable item plus, for comments,
// its parent post for context.
type Opportunity struct {
	Item   model.ContentItem
	Parent *model.ContentItem // comments only; nil when the post is unknown
}

// Briefing is one rendered report population.
type Briefing struct {
	Title         string
	Kind          model.Kind
	GeneratedAt   time.Time
	Opportunities []Opportunity
}

// Renderer turns a briefing into file content. A render failure aborts the
// report commit, leaving every opportunity eligible for the next run.
type Renderer interface {
	Render(b *Briefing) ([]byte, error)
	Ext() string
}

// Output summarizes one assembler run.
type Output struct {
	ReportedPosts    int
	ReportedComments int
	Files            []string
}

// Assembler builds both briefings and marks emitted ids in the report
// ledgers, one transaction per population, only after the file is written.
type Assembler struct {
	store    store.Store
	renderer Renderer
	cfg      config.ReportConfig
	now      func() time.Time
}

// NewAssembler wires an assembler.
func NewAssembler(st store.Store, r Renderer, cfg config.ReportConfig) *Assembler {
	return &Assembler{store: st, renderer: r, cfg: cfg, now: time.Now}
}

// Run emits at most two report files, one per population. Populations with
// no new suitable opportunities produce no file.
func (a *Assembler) Run(ctx context.Context) (*Output, error) {
	out := &Output{}

	for _, kind := range []model.Kind{model.KindPost, model.KindComment} {
		n, file, err := a.emit(ctx, kind)
		if err != nil {
			return out, err
		}
		if file != "" {
			out.Files = append(out.Files, file)
		}
		if kind == model.KindPost {
			out.ReportedPosts = n
		} else {
			out.ReportedComments = n
		}
	}

	zap.L().Info("report: finished",
		zap.Int("posts", out.ReportedPosts),
		zap.Int("comments", out.ReportedComments),
		zap.Strings("files", out.Files),
	)
	return out, nil
}

func (a *Assembler) emit(ctx context.Context, kind model.Kind) (int, string, error) {
	ledger := model.ReportLedgerFor(kind)

	items, err := a.store.ListItems(ctx, store.ItemFilter{
		Kind:         kind,
		SuitableOnly: true,
		NotInLedger:  ledger,
	})
	if err != nil {
		return 0, "", eris.Wrapf(err, "report: list %s opportunities", kind)
	}
	if len(items) == 0 {
		zap.L().Info("report: no new opportunities", zap.String("kind", string(kind)))
		return 0, "", nil
	}

	opps, err := a.buildOpportunities(ctx, items)
	if err != nil {
		return 0, "", err
	}
	sortOpportunities(opps)

	briefing := &Briefing{
		Title:         a.cfg.Title,
		Kind:          kind,
		GeneratedAt:   a.now().UTC(),
		Opportunities: opps,
	}

	content, err := a.renderer.Render(briefing)
	if err != nil {
		return 0, "", eris.Wrapf(err, "report: render %s briefing", kind)
	}

	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return 0, "", eris.Wrap(err, "report: create output dir")
	}
	name := fmt.Sprintf("report_%ss_%s%s", kind, briefing.GeneratedAt.Format("20060102_150405"), a.renderer.Ext())
	path := filepath.Join(a.cfg.OutputDir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return 0, "", eris.Wrapf(err, "report: write %s", path)
	}

	// The file exists; only now do the ids become "reported".
	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.Item.ID
	}
	if err := a.store.CommitReport(ctx, ledger, ids); err != nil {
		return 0, "", eris.Wrapf(err, "report: commit %s ledger", ledger)
	}

	return len(opps), path, nil
}

func (a *Assembler) buildOpportunities(ctx context.Context, items []model.ContentItem) ([]Opportunity, error) {
	opps := make([]Opportunity, 0, len(items))
	for _, item := range items {
		opp := Opportunity{Item: item}
		if item.Kind == model.KindComment && item.ParentID != "" {
			parent, err := a.store.GetItem(ctx, item.ParentID)
			if err != nil {
				return nil, eris.Wrapf(err, "report: load parent %s", item.ParentID)
			}
			opp.Parent = parent
		}
		opps = append(opps, opp)
	}
	return opps, nil
}

// sortOpportunities orders by opportunity score descending, newest first on
// ties.
func sortOpportunities(opps []Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i].Item, opps[j].Item
		if a.OpportunityScore != b.OpportunityScore {
			return a.OpportunityScore > b.OpportunityScore
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
