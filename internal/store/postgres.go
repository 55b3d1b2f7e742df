package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	lane         TEXT NOT NULL,
	path         TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	priority     INT  NOT NULL DEFAULT 10,
	state        TEXT NOT NULL DEFAULT 'QUEUED',
	attempts     INT  NOT NULL DEFAULT 0,
	max_attempts INT  NOT NULL DEFAULT 3,
	stalls       INT  NOT NULL DEFAULT 0,
	engines      TEXT NOT NULL DEFAULT '[]',
	last_error   TEXT NOT NULL DEFAULT '',
	enqueued_at  TIMESTAMPTZ NOT NULL,
	eligible_at  TIMESTAMPTZ NOT NULL,
	locked_until TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (lane, state, eligible_at, priority);

CREATE TABLE IF NOT EXISTS cache_entries (
	content_hash  TEXT PRIMARY KEY,
	path          TEXT NOT NULL,
	mime_type     TEXT NOT NULL,
	text          TEXT NOT NULL,
	confidence    REAL NOT NULL,
	engine        TEXT NOT NULL,
	duration_ms   BIGINT NOT NULL,
	file_size     BIGINT NOT NULL,
	access_count  BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL,
	last_accessed TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, lane, path, mime_type, content_hash, priority, state, attempts,
	max_attempts, stalls, engines, last_error, enqueued_at, eligible_at, locked_until, finished_at`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres creates a pgx pool, ensures the schema, and returns the store.
func OpenPostgres(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docscan"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	s := &Postgres{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("successfully connected to database")
	return s, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.logger.Info("closing database connections")
	s.pool.Close()
}

func (s *Postgres) InsertJob(ctx context.Context, rec *JobRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NULL,NULL)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Lane, rec.Path, rec.MimeType, rec.ContentHash, rec.Priority,
		constants.JobStateQueued, 0, rec.MaxAttempts, 0, encodeEngines(rec.Engines), "",
		rec.EnqueuedAt, rec.EligibleAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}

	// Same id exists. Re-enqueue terminal rows as fresh jobs; live rows are
	// duplicates and the caller attaches to the running one.
	tag, err = s.pool.Exec(ctx, `
		UPDATE jobs SET lane=$2, path=$3, mime_type=$4, content_hash=$5, priority=$6,
			state=$7, attempts=0, max_attempts=$8, stalls=0, engines=$9, last_error='',
			enqueued_at=$10, eligible_at=$11, locked_until=NULL, finished_at=NULL
		WHERE id=$1 AND state IN ($12,$13)`,
		rec.ID, rec.Lane, rec.Path, rec.MimeType, rec.ContentHash, rec.Priority,
		constants.JobStateQueued, rec.MaxAttempts, encodeEngines(rec.Engines),
		rec.EnqueuedAt, rec.EligibleAt, constants.JobStateCompleted, constants.JobStateFailed)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}
	return true, nil
}

func (s *Postgres) ClaimJob(ctx context.Context, lane constants.Lane, now time.Time, visibility time.Duration) (*JobRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET state=$4, attempts=attempts+1, locked_until=$3
		WHERE id = (
			SELECT id FROM jobs
			WHERE lane=$1 AND state IN ($5,$6) AND eligible_at <= $2
			ORDER BY priority, enqueued_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		lane, now, now.Add(visibility), constants.JobStateActive,
		constants.JobStateQueued, constants.JobStateRetryWait)
	rec, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Postgres) CompleteJob(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, `
		UPDATE jobs SET state=$2, locked_until=NULL, finished_at=$3, last_error=''
		WHERE id=$1 AND state=$4`,
		id, constants.JobStateCompleted, now, constants.JobStateActive)
}

func (s *Postgres) RetryJob(ctx context.Context, id string, eligibleAt time.Time, cause string) error {
	return s.transition(ctx, id, `
		UPDATE jobs SET state=$2, eligible_at=$3, locked_until=NULL, last_error=$4
		WHERE id=$1 AND state=$5`,
		id, constants.JobStateRetryWait, eligibleAt, cause, constants.JobStateActive)
}

func (s *Postgres) FailJob(ctx context.Context, id string, now time.Time, cause string) error {
	return s.transition(ctx, id, `
		UPDATE jobs SET state=$2, locked_until=NULL, finished_at=$3, last_error=$4
		WHERE id=$1 AND state=$5`,
		id, constants.JobStateFailed, now, cause, constants.JobStateActive)
}

func (s *Postgres) transition(ctx context.Context, id, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not active: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *Postgres) SweepStalled(ctx context.Context, now time.Time) (requeued, failed []string, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	requeued, err = collectIDs(tx.Query(ctx, `
		UPDATE jobs SET state=$2, stalls=stalls+1, locked_until=NULL, last_error='stalled: visibility deadline expired'
		WHERE state=$3 AND locked_until IS NOT NULL AND locked_until < $1 AND stalls < 1
		RETURNING id`,
		now, constants.JobStateQueued, constants.JobStateActive))
	if err != nil {
		return nil, nil, err
	}

	failed, err = collectIDs(tx.Query(ctx, `
		UPDATE jobs SET state=$2, locked_until=NULL, finished_at=$1, last_error='stalled twice: giving up'
		WHERE state=$3 AND locked_until IS NOT NULL AND locked_until < $1
		RETURNING id`,
		now, constants.JobStateFailed, constants.JobStateActive))
	if err != nil {
		return nil, nil, err
	}

	return requeued, failed, tx.Commit(ctx)
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	rec, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Postgres) LaneDepth(ctx context.Context, lane constants.Lane) (Depth, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM jobs WHERE lane=$1 GROUP BY state`, lane)
	if err != nil {
		return Depth{}, err
	}
	defer rows.Close()

	var d Depth
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return Depth{}, err
		}
		addDepth(&d, constants.JobState(state), n)
	}
	return d, rows.Err()
}

func (s *Postgres) GetCacheEntry(ctx context.Context, hash string, now time.Time) (*CacheRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE cache_entries SET access_count=access_count+1, last_accessed=$2
		WHERE content_hash=$1
		RETURNING content_hash, path, mime_type, text, confidence, engine,
			duration_ms, file_size, access_count, created_at, last_accessed`,
		hash, now)
	rec, err := scanPgCache(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Postgres) PutCacheEntry(ctx context.Context, rec *CacheRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (content_hash, path, mime_type, text, confidence,
			engine, duration_ms, file_size, access_count, created_at, last_accessed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9,$9)
		ON CONFLICT (content_hash) DO UPDATE SET
			access_count = cache_entries.access_count + 1,
			last_accessed = EXCLUDED.last_accessed`,
		rec.ContentHash, rec.Path, rec.MimeType, rec.Text, rec.Confidence,
		rec.Engine, rec.Duration.Milliseconds(), rec.FileSize, rec.CreatedAt)
	return err
}

func (s *Postgres) TouchCacheEntry(ctx context.Context, hash string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cache_entries SET access_count=access_count+1, last_accessed=$2
		WHERE content_hash=$1`, hash, now)
	return err
}

func (s *Postgres) CacheStats(ctx context.Context) (CacheTierStats, error) {
	var st CacheTierStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), coalesce(sum(access_count),0) FROM cache_entries`).
		Scan(&st.Entries, &st.TotalHits)
	return st, err
}

func scanPgJob(row pgx.Row) (*JobRecord, error) {
	var rec JobRecord
	var lane, state, engines string
	var lockedUntil, finishedAt *time.Time
	err := row.Scan(&rec.ID, &lane, &rec.Path, &rec.MimeType, &rec.ContentHash, &rec.Priority,
		&state, &rec.Attempts, &rec.MaxAttempts, &rec.Stalls, &engines, &rec.LastError,
		&rec.EnqueuedAt, &rec.EligibleAt, &lockedUntil, &finishedAt)
	if err != nil {
		return nil, err
	}
	rec.Lane = constants.Lane(lane)
	rec.State = constants.JobState(state)
	rec.Engines = decodeEngines(engines)
	if lockedUntil != nil {
		rec.LockedUntil = *lockedUntil
	}
	if finishedAt != nil {
		rec.FinishedAt = *finishedAt
	}
	return &rec, nil
}

func scanPgCache(row pgx.Row) (*CacheRecord, error) {
	var rec CacheRecord
	var durationMS int64
	err := row.Scan(&rec.ContentHash, &rec.Path, &rec.MimeType, &rec.Text, &rec.Confidence,
		&rec.Engine, &durationMS, &rec.FileSize, &rec.AccessCount, &rec.CreatedAt, &rec.LastAccessed)
	if err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}

func collectIDs(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func addDepth(d *Depth, state constants.JobState, n int64) {
	switch state {
	case constants.JobStateQueued, constants.JobStateRetryWait:
		d.Waiting += n
	case constants.JobStateActive:
		d.Active += n
	case constants.JobStateCompleted:
		d.Completed += n
	case constants.JobStateFailed:
		d.Failed += n
	}
}
