package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Writes go through
// writeDB, capped at one open connection so upserts serialize in submission
// order; reads use an independent handle that never blocks the writer.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open writer")
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, eris.Wrap(err, "sqlite: open reader")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := writeDB.Exec(pragma); err != nil {
			writeDB.Close()
			readDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{writeDB: writeDB, readDB: readDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS classification_records (
	url_signature     TEXT PRIMARY KEY,
	service_name      TEXT NOT NULL,
	usage_type        TEXT NOT NULL DEFAULT '',
	risk_level        TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	rationale         TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	codes             TEXT NOT NULL DEFAULT '{}',
	standard_version  TEXT NOT NULL DEFAULT '',
	is_human_verified INTEGER NOT NULL DEFAULT 0,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id              TEXT PRIMARY KEY,
	run_key             TEXT NOT NULL,
	input_manifest_hash TEXT NOT NULL DEFAULT '',
	started_at          DATETIME NOT NULL,
	finished_at         DATETIME,
	status              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_stats (
	run_id            TEXT PRIMARY KEY REFERENCES runs(run_id),
	total_signatures  INTEGER NOT NULL DEFAULT 0,
	rule_hit          INTEGER NOT NULL DEFAULT 0,
	unknown_count     INTEGER NOT NULL DEFAULT 0,
	cost_usd          REAL NOT NULL DEFAULT 0,
	attempts          INTEGER NOT NULL DEFAULT 0,
	backoff_ms_total  INTEGER NOT NULL DEFAULT 0,
	last_error_code   TEXT NOT NULL DEFAULT '',
	rate_limit_events INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_status ON classification_records(status);
CREATE INDEX IF NOT EXISTS idx_records_source ON classification_records(source);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.writeDB.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	rerr := s.readDB.Close()
	werr := s.writeDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// UpsertRecord atomically replaces any existing record for the signature.
// N identical writes leave exactly one row; last write wins.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec model.ClassificationRecord) error {
	codesJSON, err := json.Marshal(rec.Codes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal codes")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.writeDB.ExecContext(ctx, `
		INSERT INTO classification_records (
			url_signature, service_name, usage_type, risk_level, category,
			confidence, rationale, source, status, codes, standard_version,
			is_human_verified, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_signature) DO UPDATE SET
			service_name      = excluded.service_name,
			usage_type        = excluded.usage_type,
			risk_level        = excluded.risk_level,
			category          = excluded.category,
			confidence        = excluded.confidence,
			rationale         = excluded.rationale,
			source            = excluded.source,
			status            = excluded.status,
			codes             = excluded.codes,
			standard_version  = excluded.standard_version,
			is_human_verified = excluded.is_human_verified,
			updated_at        = excluded.updated_at`,
		rec.URLSignature, rec.ServiceName, rec.UsageType, rec.RiskLevel,
		rec.Category, rec.Confidence, rec.Rationale, string(rec.Source),
		string(rec.Status), string(codesJSON), rec.StandardVersion,
		rec.IsHumanVerified, updatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert record %s", rec.URLSignature)
}

const recordColumns = `url_signature, service_name, usage_type, risk_level, category,
	confidence, rationale, source, status, codes, standard_version,
	is_human_verified, updated_at`

func (s *SQLiteStore) GetRecord(ctx context.Context, urlSignature string) (*model.ClassificationRecord, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM classification_records WHERE url_signature = ?`,
		urlSignature,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", urlSignature)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ClassificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var recs []model.ClassificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT status, source, COUNT(*) FROM classification_records GROUP BY status, source`,
	)
	if err != nil {
		return Counts{}, eris.Wrap(err, "sqlite: counts")
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var status, source string
		var n int
		if err := rows.Scan(&status, &source, &n); err != nil {
			return Counts{}, eris.Wrap(err, "sqlite: scan counts")
		}
		tallyCounts(&counts, model.Status(status), model.Source(source), n)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: counts iterate")
}

func (s *SQLiteStore) ActiveSignatures(ctx context.Context, sigs []string) (map[string]bool, error) {
	active := make(map[string]bool, len(sigs))
	if len(sigs) == 0 {
		return active, nil
	}

	// SQLite caps bound parameters; chunk the membership probe.
	const chunkSize = 500
	for start := 0; start < len(sigs); start += chunkSize {
		end := min(start+chunkSize, len(sigs))
		chunk := sigs[start:end]

		placeholders := make([]byte, 0, len(chunk)*2)
		args := make([]any, 0, len(chunk))
		for i, sig := range chunk {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, sig)
		}

		rows, err := s.readDB.QueryContext(ctx,
			`SELECT url_signature FROM classification_records
			 WHERE status = 'active' AND url_signature IN (`+string(placeholders)+`)`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: active signatures")
		}
		for rows.Next() {
			var sig string
			if err := rows.Scan(&sig); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan active signature")
			}
			active[sig] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: active signatures iterate")
		}
		rows.Close()
	}
	return active, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, runKey, inputManifestHash string) (*model.RunContext, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO runs (run_id, run_key, input_manifest_hash, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		id, runKey, inputManifestHash, now, string(model.RunStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.RunContext{
		RunID:             id,
		RunKey:            runKey,
		InputManifestHash: inputManifestHash,
		StartedAt:         now,
		Status:            model.RunStatusRunning,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunContext, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT run_id, run_key, input_manifest_hash, started_at, finished_at, status
		 FROM runs WHERE run_id = ?`,
		runID,
	)
	rc, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return rc, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunContext, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT run_id, run_key, input_manifest_hash, started_at, finished_at, status
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunContext
	for rows.Next() {
		rc, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *rc)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveRunStats(ctx context.Context, stats model.RunStats) error {
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO run_stats (
			run_id, total_signatures, rule_hit, unknown_count, cost_usd,
			attempts, backoff_ms_total, last_error_code, rate_limit_events
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			total_signatures  = excluded.total_signatures,
			rule_hit          = excluded.rule_hit,
			unknown_count     = excluded.unknown_count,
			cost_usd          = excluded.cost_usd,
			attempts          = excluded.attempts,
			backoff_ms_total  = excluded.backoff_ms_total,
			last_error_code   = excluded.last_error_code,
			rate_limit_events = excluded.rate_limit_events`,
		stats.RunID, stats.TotalSignatures, stats.RuleHit, stats.UnknownCount,
		stats.CostUSD, stats.Retry.Attempts, stats.Retry.BackoffMsTotal,
		stats.Retry.LastErrorCode, stats.Retry.RateLimitEvents,
	)
	return eris.Wrapf(err, "sqlite: save run stats %s", stats.RunID)
}

func (s *SQLiteStore) GetRunStats(ctx context.Context, runID string) (*model.RunStats, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT run_id, total_signatures, rule_hit, unknown_count, cost_usd,
		        attempts, backoff_ms_total, last_error_code, rate_limit_events
		 FROM run_stats WHERE run_id = ?`,
		runID,
	)

	var st model.RunStats
	err := row.Scan(&st.RunID, &st.TotalSignatures, &st.RuleHit, &st.UnknownCount,
		&st.CostUSD, &st.Retry.Attempts, &st.Retry.BackoffMsTotal,
		&st.Retry.LastErrorCode, &st.Retry.RateLimitEvents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run stats %s", runID)
	}
	return &st, nil
}

// Flush forces a WAL checkpoint as a durability barrier. Checkpoints can
// transiently fail while readers hold the WAL, so retry briefly.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	cfg := resilience.DefaultRetryConfig()
	cfg.ShouldRetry = func(error) bool { return true }
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := s.writeDB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		return err
	})
	return eris.Wrap(err, "sqlite: flush")
}

// helpers

func tallyCounts(counts *Counts, status model.Status, source model.Source, n int) {
	counts.Total += n
	switch status {
	case model.StatusActive:
		if source == model.SourceLLM {
			counts.ActiveLLM += n
		} else {
			counts.ActiveRule += n
		}
	case model.StatusNeedsReview:
		counts.NeedsReview += n
	case model.StatusFailedPermanent:
		counts.FailedPermanent += n
	}
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

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.ClassificationRecord, error) {
	var rec model.ClassificationRecord
	var source, status, codesJSON string

	err := row.Scan(&rec.URLSignature, &rec.ServiceName, &rec.UsageType,
		&rec.RiskLevel, &rec.Category, &rec.Confidence, &rec.Rationale,
		&source, &status, &codesJSON, &rec.StandardVersion,
		&rec.IsHumanVerified, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Source = model.Source(source)
	rec.Status = model.Status(status)
	if err := json.Unmarshal([]byte(codesJSON), &rec.Codes); err != nil {
		return nil, eris.Wrap(err, "unmarshal codes")
	}
	return &rec, nil
}

func scanRun(row scannable) (*model.RunContext, error) {
	var rc model.RunContext
	var finished sql.NullTime
	var status string

	err := row.Scan(&rc.RunID, &rc.RunKey, &rc.InputManifestHash,
		&rc.StartedAt, &finished, &status)
	if err != nil {
		return nil, err
	}

	rc.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		rc.FinishedAt = &t
	}
	return &rc, nil
}
