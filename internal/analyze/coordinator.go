// Package analyze drives batched LLM classification of pending content
// items: partitioning, cost confirmation, response validation, and
// all-or-nothing persistence per batch.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

// ConfirmFunc is the cost gate: it receives the pending item and batch
// counts and decides whether analysis may proceed. It is not called when
// nothing is pending.
type ConfirmFunc func(items, batches int) (bool, error)

// AutoConfirm approves the cost gate unconditionally (--yes).
func AutoConfirm(items, batches int) (bool, error) { return true, nil }

// ValidationError reports a batch whose classifier response violated the
// response contract. The whole batch is rejected; none of its ids commit.
type ValidationError struct {
	BatchIndex int
	IDs        []string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("batch %d rejected (%d items): %s", e.BatchIndex, len(e.IDs), e.Reason)
}

// Result summarizes one coordinator run.
type Result struct {
	Analyzed int
	Batches  int
	Rejected []*ValidationError
	Declined bool // cost gate refused
	Usage    anthropic.TokenUsage
}

// Coordinator partitions pending items into batches and runs them through
// the classifier, committing each successful batch atomically.
type Coordinator struct {
	store   store.Store
	client  anthropic.Client
	tax     *config.Taxonomy
	cfg     config.AnalyzeConfig
	anthCfg config.AnthropicConfig
	confirm ConfirmFunc
	pacer   *rate.Limiter
	retry   resilience.RetryConfig
}

// NewCoordinator wires a coordinator. confirm must not be nil.
func NewCoordinator(st store.Store, client anthropic.Client, tax *config.Taxonomy, cfg config.AnalyzeConfig, anthCfg config.AnthropicConfig, confirm ConfirmFunc) *Coordinator {
	limit := rate.Inf
	if cfg.InterBatchDelaySec > 0 {
		limit = rate.Limit(1.0 / float64(cfg.InterBatchDelaySec))
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return &Coordinator{
		store:   st,
		client:  client,
		tax:     tax,
		cfg:     cfg,
		anthCfg: anthCfg,
		confirm: confirm,
		pacer:   rate.NewLimiter(limit, 1),
		retry:   retry,
	}
}

// Run analyzes the pending items. Batches that fail response validation are
// rejected whole and left pending; transport failures abort the run after
// retries are exhausted.
func (c *Coordinator) Run(ctx context.Context, pending []model.ContentItem) (*Result, error) {
	res := &Result{}
	if len(pending) == 0 {
		zap.L().Info("analyze: nothing pending")
		return res, nil
	}

	batches := partition(pending, c.cfg.MaxBatchSize)
	res.Batches = len(batches)

	ok, err := c.confirm(len(pending), len(batches))
	if err != nil {
		return nil, eris.Wrap(err, "analyze: cost confirmation")
	}
	if !ok {
		zap.L().Info("analyze: cost gate declined",
			zap.Int("pending", len(pending)),
			zap.Int("batches", len(batches)),
		)
		res.Declined = true
		return res, nil
	}

	zap.L().Info("analyze: starting",
		zap.Int("pending", len(pending)),
		zap.Int("batches", len(batches)),
		zap.Int("max_concurrency", c.cfg.MaxConcurrency),
	)

	type batchOutcome struct {
		results  map[string]model.AnalysisResult
		rejected *ValidationError
		usage    anthropic.TokenUsage
	}
	outcomes := make([]batchOutcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	concurrency := c.cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			if err := c.pacer.Wait(gctx); err != nil {
				return eris.Wrap(err, "analyze: batch pacing")
			}
			results, usage, err := c.analyzeBatch(gctx, i, batch)
			outcomes[i].usage = usage

			var verr *ValidationError
			if errors.As(err, &verr) {
				zap.L().Warn("analyze: batch rejected",
					zap.Int("batch", verr.BatchIndex),
					zap.Strings("ids", verr.IDs),
					zap.String("reason", verr.Reason),
				)
				outcomes[i].rejected = verr
				return nil
			}
			if err != nil {
				return err
			}
			outcomes[i].results = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	// Commit sequentially so each batch is one store transaction.
	for i, out := range outcomes {
		res.Usage.Add(out.usage)
		if out.rejected != nil {
			res.Rejected = append(res.Rejected, out.rejected)
			continue
		}
		if len(out.results) == 0 {
			continue
		}
		if err := c.store.CommitAnalyses(ctx, out.results); err != nil {
			return res, eris.Wrapf(err, "analyze: commit batch %d", i)
		}
		res.Analyzed += len(out.results)
	}

	res.Usage.LogCost(c.anthCfg.Model, "analyze")
	zap.L().Info("analyze: finished",
		zap.Int("analyzed", res.Analyzed),
		zap.Int("rejected_batches", len(res.Rejected)),
	)
	return res, nil
}

// analyzeBatch sends one batch to the classifier and validates the response
// against the submitted ids. Validation failures return a *ValidationError.
func (c *Coordinator) analyzeBatch(ctx context.Context, index int, batch []model.ContentItem) (map[string]model.AnalysisResult, anthropic.TokenUsage, error) {
	ids := make([]string, len(batch))
	for i, item := range batch {
		ids[i] = item.ID
	}

	payload, err := buildBatchPayload(batch)
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrapf(err, "analyze: build batch %d payload", index)
	}

	req := anthropic.MessageRequest{
		Model:     c.anthCfg.Model,
		MaxTokens: c.anthCfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(c.systemPrompt()),
		Messages:  []anthropic.Message{{Role: "user", Content: payload}},
	}

	resp, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrapf(err, "analyze: batch %d", index)
	}

	results, reason := parseAndValidate(resp.Text(), ids, c.tax.Categories)
	if reason != "" {
		return nil, resp.Usage, &ValidationError{BatchIndex: index, IDs: ids, Reason: reason}
	}
	return results, resp.Usage, nil
}

func partition(items []model.ContentItem, size int) [][]model.ContentItem {
	if size <= 0 {
		size = 1
	}
	var batches [][]model.ContentItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// batchItem is what the classifier sees for each opportunity.
type batchItem struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Subreddit string   `json:"subreddit"`
	Title     string   `json:"title,omitempty"`
	Text      string   `json:"text"`
	Keywords  []string `json:"keywords,omitempty"`
	Score     float64  `json:"opportunity_score"`
}

func buildBatchPayload(batch []model.ContentItem) (string, error) {
	items := make([]batchItem, len(batch))
	for i, it := range batch {
		items[i] = batchItem{
			ID:        it.ID,
			Kind:      string(it.Kind),
			Subreddit: it.Subreddit,
			Title:     it.Title,
			Text:      truncate(it.Text, 4000),
			Keywords:  it.Keywords,
			Score:     it.OpportunityScore,
		}
	}
	payload, err := json.Marshal(map[string]any{
		"instructions": "Analyze every opportunity in data_batch and return a JSON object matching the response contract exactly, with one result per opportunity id.",
		"data_batch":   items,
	})
	if err != nil {
		return "", eris.Wrap(err, "marshal batch payload")
	}
	return string(payload), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// batchResponse is the expected classifier output.
type batchResponse struct {
	Results []batchResult `json:"results"`
}

type batchResult struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Category       string `json:"category"`
	StrategicAngle string `json:"strategic_angle"`
	Reason         string `json:"reason"`
}

// parseAndValidate decodes the classifier response and enforces the
// contract: exactly one valid result per submitted id, no extras. A
// non-empty reason means the whole batch is rejected.
func parseAndValidate(text string, ids []string, categories []string) (map[string]model.AnalysisResult, string) {
	var resp batchResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Sprintf("response is not valid JSON: %v", err)
	}

	submitted := make(map[string]bool, len(ids))
	for _, id := range ids {
		submitted[id] = true
	}

	results := make(map[string]model.AnalysisResult, len(ids))
	for _, r := range resp.Results {
		if !submitted[r.ID] {
			return nil, fmt.Sprintf("result for unknown id %q", r.ID)
		}
		if _, dup := results[r.ID]; dup {
			return nil, fmt.Sprintf("duplicate result for id %q", r.ID)
		}
		ar := model.AnalysisResult{
			Status:         model.AnalysisStatus(r.Status),
			Category:       r.Category,
			StrategicAngle: r.StrategicAngle,
			Reason:         r.Reason,
		}
		if err := ar.Validate(categories); err != nil {
			return nil, fmt.Sprintf("invalid result for id %q: %v", r.ID, err)
		}
		results[r.ID] = ar
	}

	if len(results) != len(ids) {
		missing := make([]string, 0)
		for _, id := range ids {
			if _, ok := results[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Sprintf("missing results for ids %v", missing)
	}
	return results, ""
}

// extractJSON strips a markdown code fence if the model wrapped its JSON.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func (c *Coordinator) systemPrompt() string {
	var b strings.Builder
	b.WriteString(c.tax.Instructions)
	b.WriteString("\n\nValid categories: ")
	b.WriteString(strings.Join(c.tax.Categories, ", "))
	b.WriteString(`

Response contract: reply with a single JSON object of the form
{"results": [{"id": "<opportunity id>", "status": "Suitable"|"Unsuitable", "category": "<category>", "strategic_angle": "<angle>", "reason": "<reason>"}]}
Suitable results carry category and strategic_angle and omit reason.
Unsuitable results carry reason and omit category and strategic_angle.
Return exactly one result per opportunity in data_batch. No other text.`)
	return b.String()
}
