package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testPost(id string) model.ContentItem {
	now := time.Now().UTC().Truncate(time.Second)
	return model.ContentItem{
		ID:          id,
		Kind:        model.KindPost,
		Subreddit:   "SkincareAddiction",
		Author:      "u_tester",
		Title:       "Is retinol worth it?",
		Text:        "Looking for honest experiences with retinol.",
		Permalink:   "/r/SkincareAddiction/comments/" + id,
		CreatedAt:   now.Add(-3 * time.Hour),
		FetchedAt:   now,
		RawScore:    120,
		NumComments: 34,
		UpvoteRatio: 0.93,
		Keywords:    []string{"retinol"},
	}
}

func testComment(id, parentID string) model.ContentItem {
	item := testPost(id)
	item.Kind = model.KindComment
	item.ParentID = parentID
	item.Title = ""
	item.UpvoteRatio = 0
	item.Depth = 1
	item.NumComments = 3
	return item
}

// --- Items ---

func TestSQLite_UpsertItems_InsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_abc")
	post.OpportunityScore = 55.0

	stats, err := st.UpsertItems(ctx, []model.ContentItem{post})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 0, stats.Updated)

	got, err := st.GetItem(ctx, "t3_abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.KindPost, got.Kind)
	assert.Equal(t, "Is retinol worth it?", got.Title)
	assert.Equal(t, []string{"retinol"}, got.Keywords)
	assert.InDelta(t, 55.0, got.OpportunityScore, 1e-9)
	assert.Nil(t, got.Analysis)
}

func TestSQLite_GetItem_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetItem(context.Background(), "t3_nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_UpsertItems_RefreshKeepsImmutableFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_abc")
	_, err := st.UpsertItems(ctx, []model.ContentItem{post})
	require.NoError(t, err)

	original, err := st.GetItem(ctx, "t3_abc")
	require.NoError(t, err)

	// Second sighting with fresher metrics and a different keyword.
	resight := post
	resight.RawScore = 250
	resight.NumComments = 80
	resight.FetchedAt = post.FetchedAt.Add(time.Hour)
	resight.CreatedAt = post.CreatedAt.Add(time.Hour) // must be ignored
	resight.Keywords = []string{"tretinoin"}
	resight.OpportunityScore = 90.0

	stats, err := st.UpsertItems(ctx, []model.ContentItem{resight})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)

	got, err := st.GetItem(ctx, "t3_abc")
	require.NoError(t, err)
	assert.Equal(t, 250, got.RawScore)
	assert.Equal(t, 80, got.NumComments)
	assert.InDelta(t, 90.0, got.OpportunityScore, 1e-9)
	assert.Equal(t, []string{"retinol", "tretinoin"}, got.Keywords)
	assert.True(t, got.CreatedAt.Equal(original.CreatedAt), "created_at must not change on re-sighting")
	assert.True(t, got.FetchedAt.Equal(original.FetchedAt), "fetched_at must not change on re-sighting")
}

func TestSQLite_UpsertItems_RefreshPreservesAnalysis(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_abc")
	_, err := st.UpsertItems(ctx, []model.ContentItem{post})
	require.NoError(t, err)

	require.NoError(t, st.CommitAnalyses(ctx, map[string]model.AnalysisResult{
		"t3_abc": {Status: model.StatusSuitable, Category: "product_question", StrategicAngle: "share routine"},
	}))

	_, err = st.UpsertItems(ctx, []model.ContentItem{post})
	require.NoError(t, err)

	got, err := st.GetItem(ctx, "t3_abc")
	require.NoError(t, err)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, model.StatusSuitable, got.Analysis.Status)
}

func TestSQLite_ListItems_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_post")
	post.OpportunityScore = 80
	comment := testComment("t1_cmt", "t3_post")
	comment.OpportunityScore = 40

	_, err := st.UpsertItems(ctx, []model.ContentItem{post, comment})
	require.NoError(t, err)

	posts, err := st.ListItems(ctx, ItemFilter{Kind: model.KindPost})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "t3_post", posts[0].ID)

	all, err := st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered by opportunity score descending.
	assert.Equal(t, "t3_post", all[0].ID)

	limited, err := st.ListItems(ctx, ItemFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_ListItems_UnanalyzedAndSuitable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testPost("t3_a")
	b := testPost("t3_b")
	c := testPost("t3_c")
	_, err := st.UpsertItems(ctx, []model.ContentItem{a, b, c})
	require.NoError(t, err)

	require.NoError(t, st.CommitAnalyses(ctx, map[string]model.AnalysisResult{
		"t3_a": {Status: model.StatusSuitable, Category: "advice", StrategicAngle: "respond"},
		"t3_b": {Status: model.StatusUnsuitable, Reason: "rant"},
	}))

	unanalyzed, err := st.ListItems(ctx, ItemFilter{Unanalyzed: true})
	require.NoError(t, err)
	require.Len(t, unanalyzed, 1)
	assert.Equal(t, "t3_c", unanalyzed[0].ID)

	suitable, err := st.ListItems(ctx, ItemFilter{SuitableOnly: true})
	require.NoError(t, err)
	require.Len(t, suitable, 1)
	assert.Equal(t, "t3_a", suitable[0].ID)
}

func TestSQLite_ListItems_NotInLedger(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testPost("t3_a")
	b := testPost("t3_b")
	_, err := st.UpsertItems(ctx, []model.ContentItem{a, b})
	require.NoError(t, err)

	require.NoError(t, st.LedgerMark(ctx, model.LedgerAnalysis, []string{"t3_a"}))

	pending, err := st.ListItems(ctx, ItemFilter{NotInLedger: model.LedgerAnalysis})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t3_b", pending[0].ID)
}

// --- Ledgers ---

func TestSQLite_Ledger_MarkAndHas(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	has, err := st.LedgerHas(ctx, model.LedgerAnalysis, "t3_x")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, st.LedgerMark(ctx, model.LedgerAnalysis, []string{"t3_x"}))

	has, err = st.LedgerHas(ctx, model.LedgerAnalysis, "t3_x")
	require.NoError(t, err)
	assert.True(t, has)

	// Same id in a different ledger is independent.
	has, err = st.LedgerHas(ctx, model.LedgerReportPosts, "t3_x")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSQLite_Ledger_MarkIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.LedgerMark(ctx, model.LedgerReportPosts, []string{"t3_x", "t3_y"}))
	require.NoError(t, st.LedgerMark(ctx, model.LedgerReportPosts, []string{"t3_x", "t3_y"}))

	has, err := st.LedgerHas(ctx, model.LedgerReportPosts, "t3_y")
	require.NoError(t, err)
	assert.True(t, has)
}

// --- CommitAnalyses ---

func TestSQLite_CommitAnalyses_WritesDataAndLedger(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_abc")
	_, err := st.UpsertItems(ctx, []model.ContentItem{post})
	require.NoError(t, err)

	err = st.CommitAnalyses(ctx, map[string]model.AnalysisResult{
		"t3_abc": {Status: model.StatusUnsuitable, Reason: "medical question"},
	})
	require.NoError(t, err)

	got, err := st.GetItem(ctx, "t3_abc")
	require.NoError(t, err)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, "medical question", got.Analysis.Reason)

	has, err := st.LedgerHas(ctx, model.LedgerAnalysis, "t3_abc")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSQLite_CommitAnalyses_AllOrNothing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_abc")
	_, err := st.UpsertItems(ctx, []model.ContentItem{post})
	require.NoError(t, err)

	// One of the ids does not exist: the whole commit must roll back.
	err = st.CommitAnalyses(ctx, map[string]model.AnalysisResult{
		"t3_abc":     {Status: model.StatusUnsuitable, Reason: "x"},
		"t3_missing": {Status: model.StatusUnsuitable, Reason: "y"},
	})
	require.Error(t, err)

	got, err := st.GetItem(ctx, "t3_abc")
	require.NoError(t, err)
	assert.Nil(t, got.Analysis, "partial analysis commit must roll back")

	has, err := st.LedgerHas(ctx, model.LedgerAnalysis, "t3_abc")
	require.NoError(t, err)
	assert.False(t, has, "ledger mark must roll back with the data")
}

func TestSQLite_CommitAnalyses_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.CommitAnalyses(context.Background(), nil))
}

// --- CommitReport ---

func TestSQLite_CommitReport_MarksLedger(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CommitReport(ctx, model.LedgerReportPosts, []string{"t3_a", "t3_b"}))

	for _, id := range []string{"t3_a", "t3_b"} {
		has, err := st.LedgerHas(ctx, model.LedgerReportPosts, id)
		require.NoError(t, err)
		assert.True(t, has)
	}
}

// --- Runs ---

func TestSQLite_CreateAndUpdateRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &model.PipelineRun{
		ID:         uuid.New().String(),
		StartStage: model.StageCollect,
		Status:     model.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateRun(ctx, run))

	run.LastCompleted = model.StageFilter
	run.Status = model.RunStatusFailed
	run.FailedStage = model.StageAnalyze
	run.Error = "batch 2 rejected"
	run.FinishedAt = time.Now().UTC()
	run.ItemsCollected = 42
	require.NoError(t, st.UpdateRun(ctx, run))

	got, err := st.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, model.StageAnalyze, got.FailedStage)
	assert.Equal(t, model.StageFilter, got.LastCompleted)
	assert.Equal(t, 42, got.ItemsCollected)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestSQLite_LatestRun_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	run, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestSQLite_UpdateRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRun(context.Background(), &model.PipelineRun{ID: "missing", Status: model.RunStatusCompleted})
	require.Error(t, err)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := &model.PipelineRun{
			ID:         uuid.New().String(),
			StartStage: model.StageCollect,
			Status:     model.RunStatusCompleted,
			StartedAt:  time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, st.CreateRun(ctx, run))
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// --- Stats ---

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	post := testPost("t3_a")
	comment := testComment("t1_b", "t3_a")
	_, err := st.UpsertItems(ctx, []model.ContentItem{post, comment})
	require.NoError(t, err)

	require.NoError(t, st.CommitAnalyses(ctx, map[string]model.AnalysisResult{
		"t3_a": {Status: model.StatusSuitable, Category: "advice", StrategicAngle: "respond"},
	}))
	require.NoError(t, st.CommitReport(ctx, model.LedgerReportPosts, []string{"t3_a"}))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalItems)
	assert.Equal(t, 1, stats.Posts)
	assert.Equal(t, 1, stats.Comments)
	assert.Equal(t, 1, stats.Analyzed)
	assert.Equal(t, 1, stats.Suitable)
	assert.Equal(t, 1, stats.ReportedPosts)
	assert.Equal(t, 0, stats.ReportedComments)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}
