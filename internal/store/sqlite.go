package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS content_items (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	parent_id         TEXT,
	subreddit         TEXT NOT NULL,
	author            TEXT NOT NULL,
	title             TEXT,
	body              TEXT NOT NULL,
	permalink         TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	fetched_at        DATETIME NOT NULL,
	raw_score         INTEGER NOT NULL DEFAULT 0,
	num_comments      INTEGER NOT NULL DEFAULT 0,
	upvote_ratio      REAL NOT NULL DEFAULT 0,
	depth             INTEGER NOT NULL DEFAULT 0,
	search_rank       INTEGER NOT NULL DEFAULT 0,
	keywords          TEXT,
	opportunity_score REAL NOT NULL DEFAULT 0,
	analysis          TEXT
);

CREATE TABLE IF NOT EXISTS stage_ledger (
	stage     TEXT NOT NULL,
	item_id   TEXT NOT NULL,
	marked_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (stage, item_id)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id              TEXT PRIMARY KEY,
	start_stage     TEXT NOT NULL,
	last_completed  TEXT,
	status          TEXT NOT NULL DEFAULT 'running',
	failed_stage    TEXT,
	error           TEXT,
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME,
	items_collected INTEGER NOT NULL DEFAULT 0,
	items_analyzed  INTEGER NOT NULL DEFAULT 0,
	items_reported  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_content_items_kind ON content_items(kind);
CREATE INDEX IF NOT EXISTS idx_content_items_score ON content_items(opportunity_score);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertItems(ctx context.Context, items []model.ContentItem) (UpsertStats, error) {
	var stats UpsertStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	for _, item := range items {
		var existingKeywords sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT keywords FROM content_items WHERE id = ?`, item.ID,
		).Scan(&existingKeywords)

		switch {
		case err == sql.ErrNoRows:
			keywordsJSON, err := marshalKeywords(item.Keywords)
			if err != nil {
				return stats, err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO content_items (
					id, kind, parent_id, subreddit, author, title, body, permalink,
					created_at, fetched_at, raw_score, num_comments, upvote_ratio,
					depth, search_rank, keywords, opportunity_score
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID, string(item.Kind), item.ParentID, item.Subreddit, item.Author,
				item.Title, item.Text, item.Permalink, item.CreatedAt.UTC(), item.FetchedAt.UTC(),
				item.RawScore, item.NumComments, item.UpvoteRatio, item.Depth, item.Rank,
				keywordsJSON, item.OpportunityScore,
			)
			if err != nil {
				return stats, eris.Wrapf(err, "sqlite: insert item %s", item.ID)
			}
			stats.Inserted++

		case err != nil:
			return stats, eris.Wrapf(err, "sqlite: lookup item %s", item.ID)

		default:
			// Re-sighting: refresh metrics and merge keywords. created_at,
			// fetched_at, and analysis stay untouched.
			merged := model.MergeKeywords(unmarshalKeywords(existingKeywords), item.Keywords)
			keywordsJSON, err := marshalKeywords(merged)
			if err != nil {
				return stats, err
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE content_items SET
					raw_score = ?, num_comments = ?, upvote_ratio = ?,
					search_rank = ?, keywords = ?, opportunity_score = ?
				WHERE id = ?`,
				item.RawScore, item.NumComments, item.UpvoteRatio,
				item.Rank, keywordsJSON, item.OpportunityScore, item.ID,
			)
			if err != nil {
				return stats, eris.Wrapf(err, "sqlite: update item %s", item.ID)
			}
			if err := checkRowsAffected(res, "item", item.ID); err != nil {
				return stats, err
			}
			stats.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertStats{}, eris.Wrap(err, "sqlite: commit upsert")
	}
	return stats, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id,
	)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.ContentItem, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Unanalyzed {
		query += ` AND analysis IS NULL`
	}
	if filter.SuitableOnly {
		query += ` AND json_extract(analysis, '$.status') = ?`
		args = append(args, string(model.StatusSuitable))
	}
	if filter.NotInLedger != "" {
		query += ` AND id NOT IN (SELECT item_id FROM stage_ledger WHERE stage = ?)`
		args = append(args, filter.NotInLedger)
	}
	query += ` ORDER BY opportunity_score DESC, created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) LedgerHas(ctx context.Context, stage, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stage_ledger WHERE stage = ? AND item_id = ?`, stage, id,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: ledger lookup %s/%s", stage, id)
	}
	return n > 0, nil
}

func (s *SQLiteStore) LedgerMark(ctx context.Context, stage string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin ledger mark")
	}
	defer tx.Rollback()

	if err := markLedgerTx(ctx, tx, stage, ids); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit ledger mark")
}

func (s *SQLiteStore) CommitAnalyses(ctx context.Context, results map[string]model.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin analysis commit")
	}
	defer tx.Rollback()

	// Data first, ledger mark second, same transaction.
	ids := make([]string, 0, len(results))
	for id, result := range results {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal analysis %s", id)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE content_items SET analysis = ? WHERE id = ?`,
			string(resultJSON), id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: write analysis %s", id)
		}
		if err := checkRowsAffected(res, "item", id); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if err := markLedgerTx(ctx, tx, model.LedgerAnalysis, ids); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit analyses")
}

func (s *SQLiteStore) CommitReport(ctx context.Context, ledger string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin report commit")
	}
	defer tx.Rollback()

	if err := markLedgerTx(ctx, tx, ledger, ids); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit report")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (
			id, start_stage, last_completed, status, failed_stage, error,
			started_at, items_collected, items_analyzed, items_reported
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.StartStage), string(run.LastCompleted), string(run.Status),
		string(run.FailedStage), run.Error, run.StartedAt.UTC(),
		run.ItemsCollected, run.ItemsAnalyzed, run.ItemsReported,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET
			last_completed = ?, status = ?, failed_stage = ?, error = ?,
			finished_at = ?, items_collected = ?, items_analyzed = ?, items_reported = ?
		WHERE id = ?`,
		string(run.LastCompleted), string(run.Status), string(run.FailedStage), run.Error,
		finished, run.ItemsCollected, run.ItemsAnalyzed, run.ItemsReported, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(1),
			COALESCE(SUM(kind = 'post'), 0),
			COALESCE(SUM(kind = 'comment'), 0),
			COALESCE(SUM(analysis IS NOT NULL), 0),
			COALESCE(SUM(json_extract(analysis, '$.status') = 'Suitable'), 0)
		FROM content_items`,
	).Scan(&st.TotalItems, &st.Posts, &st.Comments, &st.Analyzed, &st.Suitable)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: item stats")
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(stage = ?), 0),
			COALESCE(SUM(stage = ?), 0)
		FROM stage_ledger`,
		model.LedgerReportPosts, model.LedgerReportComments,
	).Scan(&st.ReportedPosts, &st.ReportedComments)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ledger stats")
	}
	return &st, nil
}

// helpers

const itemColumns = `id, kind, parent_id, subreddit, author, title, body, permalink,
	created_at, fetched_at, raw_score, num_comments, upvote_ratio, depth,
	search_rank, keywords, opportunity_score, analysis`

const runColumns = `id, start_stage, last_completed, status, failed_stage, error,
	started_at, finished_at, items_collected, items_analyzed, items_reported`

func markLedgerTx(ctx context.Context, tx *sql.Tx, stage string, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO stage_ledger (stage, item_id, marked_at) VALUES (?, ?, ?)`,
			stage, id, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: mark ledger %s/%s", stage, id)
		}
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalKeywords(keywords []string) (sql.NullString, error) {
	if len(keywords) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "marshal keywords")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalKeywords(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var kws []string
	if err := json.Unmarshal([]byte(s.String), &kws); err != nil {
		return nil
	}
	return kws
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.ContentItem, error) {
	var item model.ContentItem
	var kind string
	var parentID, title, keywordsJSON, analysisJSON sql.NullString

	err := row.Scan(
		&item.ID, &kind, &parentID, &item.Subreddit, &item.Author, &title,
		&item.Text, &item.Permalink, &item.CreatedAt, &item.FetchedAt,
		&item.RawScore, &item.NumComments, &item.UpvoteRatio, &item.Depth,
		&item.Rank, &keywordsJSON, &item.OpportunityScore, &analysisJSON,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan item")
	}

	item.Kind = model.Kind(kind)
	item.ParentID = parentID.String
	item.Title = title.String
	item.Keywords = unmarshalKeywords(keywordsJSON)
	if analysisJSON.Valid {
		item.Analysis = &model.AnalysisResult{}
		if err := json.Unmarshal([]byte(analysisJSON.String), item.Analysis); err != nil {
			return nil, eris.Wrap(err, "unmarshal analysis")
		}
	}
	return &item, nil
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var startStage, status string
	var lastCompleted, failedStage, errMsg sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(
		&run.ID, &startStage, &lastCompleted, &status, &failedStage, &errMsg,
		&run.StartedAt, &finishedAt, &run.ItemsCollected, &run.ItemsAnalyzed,
		&run.ItemsReported,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	run.StartStage = model.Stage(startStage)
	run.LastCompleted = model.Stage(lastCompleted.String)
	run.Status = model.RunStatus(status)
	run.FailedStage = model.Stage(failedStage.String)
	run.Error = errMsg.String
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}
