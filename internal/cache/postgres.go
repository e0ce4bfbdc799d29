package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shadowscan/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool. Postgres serializes
// row-level upserts itself, so no extra writer funnel is needed.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
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
CREATE TABLE IF NOT EXISTS classification_records (
	url_signature     TEXT PRIMARY KEY,
	service_name      TEXT NOT NULL,
	usage_type        TEXT NOT NULL DEFAULT '',
	risk_level        TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	rationale         TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	codes             JSONB NOT NULL DEFAULT '{}',
	standard_version  TEXT NOT NULL DEFAULT '',
	is_human_verified BOOLEAN NOT NULL DEFAULT false,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	run_id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_key             TEXT NOT NULL,
	input_manifest_hash TEXT NOT NULL DEFAULT '',
	started_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at         TIMESTAMPTZ,
	status              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_stats (
	run_id            TEXT PRIMARY KEY REFERENCES runs(run_id),
	total_signatures  INTEGER NOT NULL DEFAULT 0,
	rule_hit          INTEGER NOT NULL DEFAULT 0,
	unknown_count     INTEGER NOT NULL DEFAULT 0,
	cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
	attempts          INTEGER NOT NULL DEFAULT 0,
	backoff_ms_total  BIGINT NOT NULL DEFAULT 0,
	last_error_code   TEXT NOT NULL DEFAULT '',
	rate_limit_events INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_status ON classification_records(status);
CREATE INDEX IF NOT EXISTS idx_records_source ON classification_records(source);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec model.ClassificationRecord) error {
	codesJSON, err := json.Marshal(rec.Codes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal codes")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO classification_records (
			url_signature, service_name, usage_type, risk_level, category,
			confidence, rationale, source, status, codes, standard_version,
			is_human_verified, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (url_signature) DO UPDATE SET
			service_name      = EXCLUDED.service_name,
			usage_type        = EXCLUDED.usage_type,
			risk_level        = EXCLUDED.risk_level,
			category          = EXCLUDED.category,
			confidence        = EXCLUDED.confidence,
			rationale         = EXCLUDED.rationale,
			source            = EXCLUDED.source,
			status            = EXCLUDED.status,
			codes             = EXCLUDED.codes,
			standard_version  = EXCLUDED.standard_version,
			is_human_verified = EXCLUDED.is_human_verified,
			updated_at        = EXCLUDED.updated_at`,
		rec.URLSignature, rec.ServiceName, rec.UsageType, rec.RiskLevel,
		rec.Category, rec.Confidence, rec.Rationale, string(rec.Source),
		string(rec.Status), string(codesJSON), rec.StandardVersion,
		rec.IsHumanVerified, updatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.URLSignature)
}

func (s *PostgresStore) GetRecord(ctx context.Context, urlSignature string) (*model.ClassificationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM classification_records WHERE url_signature = $1`,
		urlSignature,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", urlSignature)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ClassificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		query += ` AND source = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var recs []model.ClassificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, source, COUNT(*) FROM classification_records GROUP BY status, source`,
	)
	if err != nil {
		return Counts{}, eris.Wrap(err, "postgres: counts")
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var status, source string
		var n int
		if err := rows.Scan(&status, &source, &n); err != nil {
			return Counts{}, eris.Wrap(err, "postgres: scan counts")
		}
		tallyCounts(&counts, model.Status(status), model.Source(source), n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: counts iterate")
}

func (s *PostgresStore) ActiveSignatures(ctx context.Context, sigs []string) (map[string]bool, error) {
	active := make(map[string]bool, len(sigs))
	if len(sigs) == 0 {
		return active, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT url_signature FROM classification_records
		 WHERE status = 'active' AND url_signature = ANY($1)`,
		sigs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active signatures")
	}
	defer rows.Close()

	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, eris.Wrap(err, "postgres: scan active signature")
		}
		active[sig] = true
	}
	return active, eris.Wrap(rows.Err(), "postgres: active signatures iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, runKey, inputManifestHash string) (*model.RunContext, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, run_key, input_manifest_hash, started_at, status) VALUES ($1, $2, $3, $4, $5)`,
		id, runKey, inputManifestHash, now, string(model.RunStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.RunContext{
		RunID:             id,
		RunKey:            runKey,
		InputManifestHash: inputManifestHash,
		StartedAt:         now,
		Status:            model.RunStatusRunning,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, finished_at = $2 WHERE run_id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunContext, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, run_key, input_manifest_hash, started_at, finished_at, status
		 FROM runs WHERE run_id = $1`,
		runID,
	)
	rc, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return rc, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunContext, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, run_key, input_manifest_hash, started_at, finished_at, status
		 FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunContext
	for rows.Next() {
		rc, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *rc)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveRunStats(ctx context.Context, stats model.RunStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_stats (
			run_id, total_signatures, rule_hit, unknown_count, cost_usd,
			attempts, backoff_ms_total, last_error_code, rate_limit_events
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			total_signatures  = EXCLUDED.total_signatures,
			rule_hit          = EXCLUDED.rule_hit,
			unknown_count     = EXCLUDED.unknown_count,
			cost_usd          = EXCLUDED.cost_usd,
			attempts          = EXCLUDED.attempts,
			backoff_ms_total  = EXCLUDED.backoff_ms_total,
			last_error_code   = EXCLUDED.last_error_code,
			rate_limit_events = EXCLUDED.rate_limit_events`,
		stats.RunID, stats.TotalSignatures, stats.RuleHit, stats.UnknownCount,
		stats.CostUSD, stats.Retry.Attempts, stats.Retry.BackoffMsTotal,
		stats.Retry.LastErrorCode, stats.Retry.RateLimitEvents,
	)
	return eris.Wrapf(err, "postgres: save run stats %s", stats.RunID)
}

func (s *PostgresStore) GetRunStats(ctx context.Context, runID string) (*model.RunStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, total_signatures, rule_hit, unknown_count, cost_usd,
		        attempts, backoff_ms_total, last_error_code, rate_limit_events
		 FROM run_stats WHERE run_id = $1`,
		runID,
	)

	var st model.RunStats
	err := row.Scan(&st.RunID, &st.TotalSignatures, &st.RuleHit, &st.UnknownCount,
		&st.CostUSD, &st.Retry.Attempts, &st.Retry.BackoffMsTotal,
		&st.Retry.LastErrorCode, &st.Retry.RateLimitEvents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run stats %s", runID)
	}
	return &st, nil
}

// Flush is a durability barrier. Postgres commits synchronously, so a ping
// suffices to confirm the connection has drained.
func (s *PostgresStore) Flush(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: flush")
}
