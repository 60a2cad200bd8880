package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/analyze"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/report"
	"github.com/sells-group/outreach-cli/internal/store"
)

// CollectRunner runs the collect stage.
type CollectRunner interface {
	Run(ctx context.Context) (*CollectResult, error)
}

// PendingSelector computes the analyze stage's input set.
type PendingSelector interface {
	Pending(ctx context.Context) ([]model.ContentItem, error)
}

// AnalyzeRunner runs the analyze stage over a pending set.
type AnalyzeRunner interface {
	Run(ctx context.Context, pending []model.ContentItem) (*analyze.Result, error)
}

// ReportRunner runs the report stage.
type ReportRunner interface {
	Run(ctx context.Context) (*report.Output, error)
}

// Orchestrator executes the stages in order from a requested start stage,
// persisting run metadata before and after each stage. Every stage commits
// its own output, so a failed run resumes by starting from the failed
// stage: completed work is never redone, only recomputed selections.
type Orchestrator struct {
	store   store.Store
	collect CollectRunner
	filter  PendingSelector
	analyze AnalyzeRunner
	report  ReportRunner
	now     func() time.Time
}

// NewOrchestrator wires an orchestrator over the four stage runners.
func NewOrchestrator(st store.Store, c CollectRunner, f PendingSelector, a AnalyzeRunner, r ReportRunner) *Orchestrator {
	return &Orchestrator{store: st, collect: c, filter: f, analyze: a, report: r, now: time.Now}
}

// Run executes the pipeline starting at from. The returned run carries the
// terminal status; on stage failure the run records the failed stage and
// cause, and the error wraps the cause with the stage name.
func (o *Orchestrator) Run(ctx context.Context, from model.Stage) (*model.PipelineRun, error) {
	if err := o.checkPrerequisites(ctx, from); err != nil {
		return nil, err
	}

	run := &model.PipelineRun{
		ID:         uuid.NewString(),
		StartStage: from,
		Status:     model.RunStatusRunning,
		StartedAt:  o.now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	zap.L().Info("pipeline: run started",
		zap.String("run_id", run.ID),
		zap.String("from", string(from)),
	)

	var pending []model.ContentItem
	havePending := false
	started := false

	for _, stage := range model.Stages() {
		if stage == from {
			started = true
		}
		if !started {
			continue
		}

		switch stage {
		case model.StageCollect:
			res, err := o.collect.Run(ctx)
			if err != nil {
				return run, o.fail(ctx, run, stage, err)
			}
			run.ItemsCollected = res.Posts + res.Comments

		case model.StageFilter:
			p, err := o.filter.Pending(ctx)
			if err != nil {
				return run, o.fail(ctx, run, stage, err)
			}
			pending, havePending = p, true

		case model.StageAnalyze:
			// Starting directly at analyze: the pending set is a pure
			// function of the store, recompute it.
			if !havePending {
				p, err := o.filter.Pending(ctx)
				if err != nil {
					return run, o.fail(ctx, run, stage, err)
				}
				pending, havePending = p, true
			}
			res, err := o.analyze.Run(ctx, pending)
			if err != nil {
				return run, o.fail(ctx, run, stage, err)
			}
			run.ItemsAnalyzed = res.Analyzed
			if res.Declined {
				zap.L().Warn("pipeline: analysis declined at cost gate, stopping run",
					zap.String("run_id", run.ID))
				return run, o.finish(ctx, run)
			}

		case model.StageReport:
			out, err := o.report.Run(ctx)
			if err != nil {
				return run, o.fail(ctx, run, stage, err)
			}
			run.ItemsReported = out.ReportedPosts + out.ReportedComments
		}

		run.LastCompleted = stage
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return run, eris.Wrapf(err, "pipeline: record stage %s", stage)
		}
	}

	return run, o.finish(ctx, run)
}

func (o *Orchestrator) finish(ctx context.Context, run *model.PipelineRun) error {
	run.Status = model.RunStatusCompleted
	run.FinishedAt = o.now().UTC()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return eris.Wrap(err, "pipeline: record completion")
	}
	zap.L().Info("pipeline: run completed",
		zap.String("run_id", run.ID),
		zap.Int("collected", run.ItemsCollected),
		zap.Int("analyzed", run.ItemsAnalyzed),
		zap.Int("reported", run.ItemsReported),
	)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, run *model.PipelineRun, stage model.Stage, cause error) error {
	run.Status = model.RunStatusFailed
	run.FailedStage = stage
	run.Error = cause.Error()
	run.FinishedAt = o.now().UTC()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		zap.L().Error("pipeline: record failure", zap.Error(err))
	}
	return eris.Wrapf(cause, "pipeline: stage %s", stage)
}

// checkPrerequisites rejects start stages whose predecessors left nothing
// behind, before a run record is created.
func (o *Orchestrator) checkPrerequisites(ctx context.Context, from model.Stage) error {
	if _, ok := model.ParseStage(string(from)); !ok {
		return eris.Errorf("pipeline: unknown stage %q", from)
	}
	if from == model.StageCollect {
		return nil
	}

	stats, err := o.store.Stats(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: read store stats")
	}
	if stats.TotalItems == 0 {
		return eris.Wrapf(ErrMissingPrerequisite, "stage %s requires collected content", from)
	}
	if from == model.StageReport && stats.Analyzed == 0 {
		return eris.Wrap(ErrMissingPrerequisite, "stage report requires analyzed content")
	}
	return nil
}
