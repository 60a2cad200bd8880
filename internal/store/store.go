package store

import (
	"context"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ItemFilter specifies criteria for listing content items.
type ItemFilter struct {
	Kind         model.Kind `json:"kind,omitempty"`          // "" = both kinds
	Unanalyzed   bool       `json:"unanalyzed,omitempty"`    // analysis IS NULL
	SuitableOnly bool       `json:"suitable_only,omitempty"` // analysis.status == Suitable
	NotInLedger  string     `json:"not_in_ledger,omitempty"` // exclude ids marked for this stage
	Limit        int        `json:"limit,omitempty"`
}

// UpsertStats reports what a batch upsert did.
type UpsertStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Stats summarizes store contents for the status surfaces.
type Stats struct {
	TotalItems       int `json:"total_items"`
	Posts            int `json:"posts"`
	Comments         int `json:"comments"`
	Analyzed         int `json:"analyzed"`
	Suitable         int `json:"suitable"`
	ReportedPosts    int `json:"reported_posts"`
	ReportedComments int `json:"reported_comments"`
}

// Store is the durable state shared by all pipeline stages: the master
// content table, the per-stage dedup ledgers, and pipeline run metadata.
// Implementations must commit each operation atomically; the pipeline
// relies on "data first, ledger mark second" being a single transaction
// in CommitAnalyses and CommitReport.
type Store interface {
	// Master content table. UpsertItems merges metrics, score, and
	// keywords into existing rows by id (created_at and fetched_at stay
	// immutable, analysis untouched) and inserts unseen rows, all in one
	// transaction.
	UpsertItems(ctx context.Context, items []model.ContentItem) (UpsertStats, error)
	GetItem(ctx context.Context, id string) (*model.ContentItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.ContentItem, error)

	// Dedup ledgers. Marking an already-marked id is a no-op.
	LedgerHas(ctx context.Context, stage, id string) (bool, error)
	LedgerMark(ctx context.Context, stage string, ids []string) error

	// CommitAnalyses writes analysis results and the analysis-ledger
	// marks for the given ids in a single transaction. Every id must
	// already exist in the master table.
	CommitAnalyses(ctx context.Context, results map[string]model.AnalysisResult) error

	// CommitReport marks every emitted id in the given report ledger in
	// a single transaction.
	CommitReport(ctx context.Context, ledger string, ids []string) error

	// Pipeline run metadata.
	CreateRun(ctx context.Context, run *model.PipelineRun) error
	UpdateRun(ctx context.Context, run *model.PipelineRun) error
	LatestRun(ctx context.Context) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.PipelineRun, error)

	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
