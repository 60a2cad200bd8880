package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/analyze"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/report"
	"github.com/sells-group/outreach-cli/internal/score"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/reddit"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env holds the wired stage runners for the pipeline commands.
type env struct {
	store        store.Store
	collector    *pipeline.Collector
	filter       *pipeline.Filter
	coordinator  *analyze.Coordinator
	assembler    *report.Assembler
	orchestrator *pipeline.Orchestrator
}

func (e *env) Close() {
	_ = e.store.Close()
}

// initEnv validates the configuration, opens the store, and wires every
// stage. confirm gates the analyze stage's spend; nil means interactive.
func initEnv(ctx context.Context, confirm analyze.ConfirmFunc) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if confirm == nil {
		confirm = promptConfirm
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	engine, err := score.NewEngine(scoreParams(cfg.Score))
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	tax, err := config.LoadTaxonomy(cfg.Analyze.TaxonomyFile)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	var redditOpts []reddit.Option
	if cfg.Reddit.RequestsPerS > 0 {
		redditOpts = append(redditOpts, reddit.WithRateLimit(cfg.Reddit.RequestsPerS))
	}
	redditClient := reddit.NewClient(cfg.Reddit.ClientID, cfg.Reddit.ClientSecret, cfg.Reddit.UserAgent, redditOpts...)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	e := &env{store: st}
	e.collector = pipeline.NewCollector(st, redditClient, engine, cfg.Search)
	e.filter = pipeline.NewFilter(st, cfg.Filter)
	e.coordinator = analyze.NewCoordinator(st, anthropicClient, tax, cfg.Analyze, cfg.Anthropic, confirm)
	e.assembler = report.NewAssembler(st, report.NewHTMLRenderer(), cfg.Report)
	e.orchestrator = pipeline.NewOrchestrator(st, e.collector, e.filter, e.coordinator, e.assembler)
	return e, nil
}

func scoreParams(c config.ScoreConfig) score.Params {
	return score.Params{
		W1:          c.W1,
		W2:          c.W2,
		W3:          c.W3,
		W4:          c.W4,
		MinAgeHours: c.MinAgeHours,
		DepthDecay:  c.DepthDecay,
		DecayBase:   c.DecayBase,
	}
}

// promptConfirm asks on stdin before spending on classification.
func promptConfirm(items, batches int) (bool, error) {
	fmt.Fprintf(os.Stderr, "About to analyze %d items in %d batches with %s. Proceed? [y/N]: ",
		items, batches, cfg.Anthropic.Model)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, eris.Wrap(err, "read confirmation")
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func confirmFunc(autoYes bool) analyze.ConfirmFunc {
	if autoYes {
		return analyze.AutoConfirm
	}
	return promptConfirm
}
