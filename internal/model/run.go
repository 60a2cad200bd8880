package model

import "time"

// Stage is one phase of the pipeline. Stages run in the declared order;
// each persists its output before the next begins.
type Stage string

const (
	StageCollect Stage = "collect"
	StageFilter  Stage = "filter"
	StageAnalyze Stage = "analyze"
	StageReport  Stage = "report"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageCollect, StageFilter, StageAnalyze, StageReport}
}

// ParseStage maps a user-supplied name to a Stage.
func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// RunStatus tracks a pipeline run's terminal state.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun is the persisted metadata for one orchestrator invocation.
type PipelineRun struct {
	ID             string    `json:"id"`
	StartStage     Stage     `json:"start_stage"`
	LastCompleted  Stage     `json:"last_completed,omitempty"`
	Status         RunStatus `json:"status"`
	FailedStage    Stage     `json:"failed_stage,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	ItemsCollected int       `json:"items_collected"`
	ItemsAnalyzed  int       `json:"items_analyzed"`
	ItemsReported  int       `json:"items_reported"`
}

// Ledger stage names. Three durable id-sets: one gating the analyze stage,
// two gating report emission per population.
const (
	LedgerAnalysis       = "analysis"
	LedgerReportPosts    = "report_posts"
	LedgerReportComments = "report_comments"
)

// ReportLedgerFor returns the report ledger name for a content kind.
func ReportLedgerFor(kind Kind) string {
	if kind == KindPost {
		return LedgerReportPosts
	}
	return LedgerReportComments
}
