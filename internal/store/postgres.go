package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS content_items (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	parent_id         TEXT,
	subreddit         TEXT NOT NULL,
	author            TEXT NOT NULL,
	title             TEXT,
	body              TEXT NOT NULL,
	permalink         TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	fetched_at        TIMESTAMPTZ NOT NULL,
	raw_score         INTEGER NOT NULL DEFAULT 0,
	num_comments      INTEGER NOT NULL DEFAULT 0,
	upvote_ratio      DOUBLE PRECISION NOT NULL DEFAULT 0,
	depth             INTEGER NOT NULL DEFAULT 0,
	search_rank       INTEGER NOT NULL DEFAULT 0,
	keywords          JSONB,
	opportunity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	analysis          JSONB
);

CREATE TABLE IF NOT EXISTS stage_ledger (
	stage     TEXT NOT NULL,
	item_id   TEXT NOT NULL,
	marked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stage, item_id)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id              TEXT PRIMARY KEY,
	start_stage     TEXT NOT NULL,
	last_completed  TEXT,
	status          TEXT NOT NULL DEFAULT 'running',
	failed_stage    TEXT,
	error           TEXT,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	items_collected INTEGER NOT NULL DEFAULT 0,
	items_analyzed  INTEGER NOT NULL DEFAULT 0,
	items_reported  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_content_items_kind ON content_items(kind);
CREATE INDEX IF NOT EXISTS idx_content_items_score ON content_items(opportunity_score DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) UpsertItems(ctx context.Context, items []model.ContentItem) (UpsertStats, error) {
	var stats UpsertStats

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		var existingKeywords []byte
		err := tx.QueryRow(ctx,
			`SELECT keywords FROM content_items WHERE id = $1`, item.ID,
		).Scan(&existingKeywords)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			keywordsJSON, err := keywordsValue(item.Keywords)
			if err != nil {
				return stats, err
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO content_items (
					id, kind, parent_id, subreddit, author, title, body, permalink,
					created_at, fetched_at, raw_score, num_comments, upvote_ratio,
					depth, search_rank, keywords, opportunity_score
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
				item.ID, string(item.Kind), item.ParentID, item.Subreddit, item.Author,
				item.Title, item.Text, item.Permalink, item.CreatedAt.UTC(), item.FetchedAt.UTC(),
				item.RawScore, item.NumComments, item.UpvoteRatio, item.Depth, item.Rank,
				keywordsJSON, item.OpportunityScore,
			)
			if err != nil {
				return stats, eris.Wrapf(err, "postgres: insert item %s", item.ID)
			}
			stats.Inserted++

		case err != nil:
			return stats, eris.Wrapf(err, "postgres: lookup item %s", item.ID)

		default:
			var existing []string
			if len(existingKeywords) > 0 {
				if err := json.Unmarshal(existingKeywords, &existing); err != nil {
					return stats, eris.Wrapf(err, "postgres: unmarshal keywords %s", item.ID)
				}
			}
			merged := model.MergeKeywords(existing, item.Keywords)
			keywordsJSON, err := keywordsValue(merged)
			if err != nil {
				return stats, err
			}
			tag, err := tx.Exec(ctx,
				`UPDATE content_items SET
					raw_score = $1, num_comments = $2, upvote_ratio = $3,
					search_rank = $4, keywords = $5, opportunity_score = $6
				WHERE id = $7`,
				item.RawScore, item.NumComments, item.UpvoteRatio,
				item.Rank, keywordsJSON, item.OpportunityScore, item.ID,
			)
			if err != nil {
				return stats, eris.Wrapf(err, "postgres: update item %s", item.ID)
			}
			if tag.RowsAffected() == 0 {
				return stats, eris.Errorf("item not found: %s", item.ID)
			}
			stats.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertStats{}, eris.Wrap(err, "postgres: commit upsert")
	}
	return stats, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.ContentItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id = $1`, id,
	)
	item, err := scanPostgresItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.ContentItem, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Unanalyzed {
		query += ` AND analysis IS NULL`
	}
	if filter.SuitableOnly {
		query += fmt.Sprintf(` AND analysis->>'status' = $%d`, argIdx)
		args = append(args, string(model.StatusSuitable))
		argIdx++
	}
	if filter.NotInLedger != "" {
		query += fmt.Sprintf(` AND id NOT IN (SELECT item_id FROM stage_ledger WHERE stage = $%d)`, argIdx)
		args = append(args, filter.NotInLedger)
		argIdx++
	}
	query += ` ORDER BY opportunity_score DESC, created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.ContentItem
	for rows.Next() {
		item, err := scanPostgresItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) LedgerHas(ctx context.Context, stage, id string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM stage_ledger WHERE stage = $1 AND item_id = $2`, stage, id,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: ledger lookup %s/%s", stage, id)
	}
	return n > 0, nil
}

func (s *PostgresStore) LedgerMark(ctx context.Context, stage string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin ledger mark")
	}
	defer tx.Rollback(ctx)

	if err := markPostgresLedger(ctx, tx, stage, ids); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit ledger mark")
}

func (s *PostgresStore) CommitAnalyses(ctx context.Context, results map[string]model.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin analysis commit")
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(results))
	for id, result := range results {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal analysis %s", id)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE content_items SET analysis = $1 WHERE id = $2`,
			resultJSON, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: write analysis %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("item not found: %s", id)
		}
		ids = append(ids, id)
	}

	if err := markPostgresLedger(ctx, tx, model.LedgerAnalysis, ids); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit analyses")
}

func (s *PostgresStore) CommitReport(ctx context.Context, ledger string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin report commit")
	}
	defer tx.Rollback(ctx)

	if err := markPostgresLedger(ctx, tx, ledger, ids); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit report")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (
			id, start_stage, last_completed, status, failed_stage, error,
			started_at, items_collected, items_analyzed, items_reported
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, string(run.StartStage), string(run.LastCompleted), string(run.Status),
		string(run.FailedStage), run.Error, run.StartedAt.UTC(),
		run.ItemsCollected, run.ItemsAnalyzed, run.ItemsReported,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET
			last_completed = $1, status = $2, failed_stage = $3, error = $4,
			finished_at = $5, items_collected = $6, items_analyzed = $7, items_reported = $8
		WHERE id = $9`,
		string(run.LastCompleted), string(run.Status), string(run.FailedStage), run.Error,
		finished, run.ItemsCollected, run.ItemsAnalyzed, run.ItemsReported, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`,
	)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(1),
			COUNT(1) FILTER (WHERE kind = 'post'),
			COUNT(1) FILTER (WHERE kind = 'comment'),
			COUNT(1) FILTER (WHERE analysis IS NOT NULL),
			COUNT(1) FILTER (WHERE analysis->>'status' = 'Suitable')
		FROM content_items`,
	).Scan(&st.TotalItems, &st.Posts, &st.Comments, &st.Analyzed, &st.Suitable)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: item stats")
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(1) FILTER (WHERE stage = $1),
			COUNT(1) FILTER (WHERE stage = $2)
		FROM stage_ledger`,
		model.LedgerReportPosts, model.LedgerReportComments,
	).Scan(&st.ReportedPosts, &st.ReportedComments)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ledger stats")
	}
	return &st, nil
}

// helpers

func markPostgresLedger(ctx context.Context, tx pgx.Tx, stage string, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := tx.Exec(ctx,
			`INSERT INTO stage_ledger (stage, item_id, marked_at) VALUES ($1, $2, $3)
			 ON CONFLICT (stage, item_id) DO NOTHING`,
			stage, id, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark ledger %s/%s", stage, id)
		}
	}
	return nil
}

func keywordsValue(keywords []string) ([]byte, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return nil, eris.Wrap(err, "marshal keywords")
	}
	return b, nil
}

func scanPostgresItem(row scannable) (*model.ContentItem, error) {
	var item model.ContentItem
	var kind string
	var parentID, title *string
	var keywordsJSON, analysisJSON []byte

	err := row.Scan(
		&item.ID, &kind, &parentID, &item.Subreddit, &item.Author, &title,
		&item.Text, &item.Permalink, &item.CreatedAt, &item.FetchedAt,
		&item.RawScore, &item.NumComments, &item.UpvoteRatio, &item.Depth,
		&item.Rank, &keywordsJSON, &item.OpportunityScore, &analysisJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan item")
	}

	item.Kind = model.Kind(kind)
	if parentID != nil {
		item.ParentID = *parentID
	}
	if title != nil {
		item.Title = *title
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &item.Keywords); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal keywords")
		}
	}
	if len(analysisJSON) > 0 {
		item.Analysis = &model.AnalysisResult{}
		if err := json.Unmarshal(analysisJSON, item.Analysis); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal analysis")
		}
	}
	return &item, nil
}

func scanPostgresRun(row scannable) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var startStage, status string
	var lastCompleted, failedStage, errMsg *string
	var finishedAt *time.Time

	err := row.Scan(
		&run.ID, &startStage, &lastCompleted, &status, &failedStage, &errMsg,
		&run.StartedAt, &finishedAt, &run.ItemsCollected, &run.ItemsAnalyzed,
		&run.ItemsReported,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	run.StartStage = model.Stage(startStage)
	run.Status = model.RunStatus(status)
	if lastCompleted != nil {
		run.LastCompleted = model.Stage(*lastCompleted)
	}
	if failedStage != nil {
		run.FailedStage = model.Stage(*failedStage)
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	return &run, nil
}
