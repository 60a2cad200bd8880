package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/analyze"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/report"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fakeCollectStage struct {
	res   *CollectResult
	err   error
	calls int
}

func (f *fakeCollectStage) Run(ctx context.Context) (*CollectResult, error) {
	f.calls++
	return f.res, f.err
}

type fakePendingStage struct {
	items []model.ContentItem
	err   error
	calls int
}

func (f *fakePendingStage) Pending(ctx context.Context) ([]model.ContentItem, error) {
	f.calls++
	return f.items, f.err
}

type fakeAnalyzeStage struct {
	res   *analyze.Result
	err   error
	got   []model.ContentItem
	calls int
}

func (f *fakeAnalyzeStage) Run(ctx context.Context, pending []model.ContentItem) (*analyze.Result, error) {
	f.calls++
	f.got = pending
	return f.res, f.err
}

type fakeReportStage struct {
	out   *report.Output
	err   error
	calls int
}

func (f *fakeReportStage) Run(ctx context.Context) (*report.Output, error) {
	f.calls++
	return f.out, f.err
}

type stageFakes struct {
	collect *fakeCollectStage
	filter  *fakePendingStage
	analyze *fakeAnalyzeStage
	report  *fakeReportStage
}

func happyFakes() stageFakes {
	return stageFakes{
		collect: &fakeCollectStage{res: &CollectResult{Posts: 3, Comments: 5}},
		filter:  &fakePendingStage{items: []model.ContentItem{{ID: "t3_a"}, {ID: "t1_b"}}},
		analyze: &fakeAnalyzeStage{res: &analyze.Result{Analyzed: 2, Batches: 1}},
		report:  &fakeReportStage{out: &report.Output{ReportedPosts: 1, ReportedComments: 1}},
	}
}

func newTestOrchestrator(st store.Store, f stageFakes) *Orchestrator {
	o := NewOrchestrator(st, f.collect, f.filter, f.analyze, f.report)
	o.now = fixedNow
	return o
}

func TestOrchestrator_Run_AllStages(t *testing.T) {
	st := newTestStore(t)
	fakes := happyFakes()
	o := newTestOrchestrator(st, fakes)

	run, err := o.Run(context.Background(), model.StageCollect)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.StageReport, run.LastCompleted)
	assert.Equal(t, 8, run.ItemsCollected)
	assert.Equal(t, 2, run.ItemsAnalyzed)
	assert.Equal(t, 2, run.ItemsReported)

	assert.Equal(t, 1, fakes.collect.calls)
	assert.Equal(t, 1, fakes.filter.calls)
	assert.Equal(t, 1, fakes.analyze.calls)
	assert.Equal(t, 1, fakes.report.calls)
	assert.Equal(t, fakes.filter.items, fakes.analyze.got)

	persisted, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, run.ID, persisted.ID)
	assert.Equal(t, model.RunStatusCompleted, persisted.Status)
	assert.False(t, persisted.FinishedAt.IsZero())
}

func TestOrchestrator_Run_StageFailureRecorded(t *testing.T) {
	st := newTestStore(t)
	fakes := happyFakes()
	fakes.analyze.err = eris.New("api unreachable")
	o := newTestOrchestrator(st, fakes)

	run, err := o.Run(context.Background(), model.StageCollect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage analyze")
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, model.StageAnalyze, run.FailedStage)
	assert.Equal(t, model.StageFilter, run.LastCompleted)
	assert.Zero(t, fakes.report.calls, "report must not run after a failure")

	persisted, perr := st.LatestRun(context.Background())
	require.NoError(t, perr)
	assert.Equal(t, model.RunStatusFailed, persisted.Status)
	assert.Equal(t, model.StageAnalyze, persisted.FailedStage)
	assert.Contains(t, persisted.Error, "api unreachable")
}

func TestOrchestrator_Run_DeclinedStopsBeforeReport(t *testing.T) {
	st := newTestStore(t)
	fakes := happyFakes()
	fakes.analyze.res = &analyze.Result{Declined: true}
	o := newTestOrchestrator(st, fakes)

	run, err := o.Run(context.Background(), model.StageCollect)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.StageFilter, run.LastCompleted)
	assert.Zero(t, fakes.report.calls)
}

func TestOrchestrator_Run_FromAnalyzeRecomputesPending(t *testing.T) {
	st := newTestStore(t)
	seedScoredPosts(t, st, 12)
	fakes := happyFakes()
	o := newTestOrchestrator(st, fakes)

	run, err := o.Run(context.Background(), model.StageAnalyze)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Zero(t, fakes.collect.calls)
	assert.Equal(t, 1, fakes.filter.calls, "pending set recomputed from the store")
	assert.Equal(t, fakes.filter.items, fakes.analyze.got)
	assert.Equal(t, 1, fakes.report.calls)
}

func TestOrchestrator_Run_MissingPrerequisites(t *testing.T) {
	t.Run("filter without content", func(t *testing.T) {
		o := newTestOrchestrator(newTestStore(t), happyFakes())
		_, err := o.Run(context.Background(), model.StageFilter)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingPrerequisite))
	})

	t.Run("report without analyses", func(t *testing.T) {
		st := newTestStore(t)
		seedScoredPosts(t, st, 12)
		o := newTestOrchestrator(st, happyFakes())
		_, err := o.Run(context.Background(), model.StageReport)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingPrerequisite))
	})

	t.Run("no run record created", func(t *testing.T) {
		st := newTestStore(t)
		o := newTestOrchestrator(st, happyFakes())
		_, err := o.Run(context.Background(), model.StageAnalyze)
		require.Error(t, err)

		latest, lerr := st.LatestRun(context.Background())
		require.NoError(t, lerr)
		assert.Nil(t, latest)
	})
}

func TestOrchestrator_Run_UnknownStage(t *testing.T) {
	o := newTestOrchestrator(newTestStore(t), happyFakes())
	_, err := o.Run(context.Background(), model.Stage("deploy"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestOrchestrator_Run_ReportPrerequisiteSatisfied(t *testing.T) {
	st := newTestStore(t)
	ids := seedScoredPosts(t, st, 12)
	require.NoError(t, st.CommitAnalyses(context.Background(), map[string]model.AnalysisResult{
		ids[0]: {Status: model.StatusUnsuitable, Reason: "meta"},
	}))

	fakes := happyFakes()
	o := newTestOrchestrator(st, fakes)
	run, err := o.Run(context.Background(), model.StageReport)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Zero(t, fakes.analyze.calls)
	assert.Equal(t, 1, fakes.report.calls)
}
