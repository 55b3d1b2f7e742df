package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	lane         TEXT NOT NULL,
	path         TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	priority     INTEGER NOT NULL DEFAULT 10,
	state        TEXT NOT NULL DEFAULT 'QUEUED',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	stalls       INTEGER NOT NULL DEFAULT 0,
	engines      TEXT NOT NULL DEFAULT '[]',
	last_error   TEXT NOT NULL DEFAULT '',
	enqueued_at  INTEGER NOT NULL,
	eligible_at  INTEGER NOT NULL,
	locked_until INTEGER,
	finished_at  INTEGER
);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (lane, state, eligible_at, priority);

CREATE TABLE IF NOT EXISTS cache_entries (
	content_hash  TEXT PRIMARY KEY,
	path          TEXT NOT NULL,
	mime_type     TEXT NOT NULL,
	text          TEXT NOT NULL,
	confidence    REAL NOT NULL,
	engine        TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL,
	file_size     INTEGER NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);
`

// SQLite implements Store on a local database file, or fully in memory when
// opened with ":memory:". Used by the batch CLI and tests; timestamps are
// stored as unix milliseconds.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite-backed store.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite is single-writer, and a :memory: database exists per
	// connection. One pooled connection covers both.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Debug("sqlite store ready", "path", path)
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("close sqlite", "error", err)
	}
}

func (s *SQLite) InsertJob(ctx context.Context, rec *JobRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, lane, path, mime_type, content_hash, priority, state,
			attempts, max_attempts, stalls, engines, last_error, enqueued_at, eligible_at)
		VALUES (?,?,?,?,?,?,?,0,?,0,?,'',?,?)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Lane, rec.Path, rec.MimeType, rec.ContentHash, rec.Priority,
		constants.JobStateQueued, rec.MaxAttempts, encodeEngines(rec.Engines),
		rec.EnqueuedAt.UnixMilli(), rec.EligibleAt.UnixMilli())
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return false, nil
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET lane=?, path=?, mime_type=?, content_hash=?, priority=?, state=?,
			attempts=0, max_attempts=?, stalls=0, engines=?, last_error='',
			enqueued_at=?, eligible_at=?, locked_until=NULL, finished_at=NULL
		WHERE id=? AND state IN (?,?)`,
		rec.Lane, rec.Path, rec.MimeType, rec.ContentHash, rec.Priority, constants.JobStateQueued,
		rec.MaxAttempts, encodeEngines(rec.Engines), rec.EnqueuedAt.UnixMilli(), rec.EligibleAt.UnixMilli(),
		rec.ID, constants.JobStateCompleted, constants.JobStateFailed)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return false, nil
	}
	return true, nil
}

func (s *SQLite) ClaimJob(ctx context.Context, lane constants.Lane, now time.Time, visibility time.Duration) (*JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE lane=? AND state IN (?,?) AND eligible_at <= ?
		ORDER BY priority, enqueued_at, id
		LIMIT 1`,
		lane, constants.JobStateQueued, constants.JobStateRetryWait, now.UnixMilli())
	rec, err := scanSqliteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state=?, attempts=attempts+1, locked_until=?
		WHERE id=? AND state IN (?,?)`,
		constants.JobStateActive, now.Add(visibility).UnixMilli(),
		rec.ID, constants.JobStateQueued, constants.JobStateRetryWait)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rec.State = constants.JobStateActive
	rec.Attempts++
	rec.LockedUntil = now.Add(visibility)
	return rec, nil
}

func (s *SQLite) CompleteJob(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, `
		UPDATE jobs SET state=?, locked_until=NULL, finished_at=?, last_error=''
		WHERE id=? AND state=?`,
		constants.JobStateCompleted, now.UnixMilli(), id, constants.JobStateActive)
}

func (s *SQLite) RetryJob(ctx context.Context, id string, eligibleAt time.Time, cause string) error {
	return s.transition(ctx, id, `
		UPDATE jobs SET state=?, eligible_at=?, locked_until=NULL, last_error=?
		WHERE id=? AND state=?`,
		constants.JobStateRetryWait, eligibleAt.UnixMilli(), cause, id, constants.JobStateActive)
}

func (s *SQLite) FailJob(ctx context.Context, id string, now time.Time, cause string) error {
	return s.transition(ctx, id, `
		UPDATE jobs SET state=?, locked_until=NULL, finished_at=?, last_error=?
		WHERE id=? AND state=?`,
		constants.JobStateFailed, now.UnixMilli(), cause, id, constants.JobStateActive)
}

func (s *SQLite) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not active: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLite) SweepStalled(ctx context.Context, now time.Time) (requeued, failed []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	expired := func(extra string) ([]string, error) {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM jobs
			WHERE state=? AND locked_until IS NOT NULL AND locked_until < ?`+extra,
			constants.JobStateActive, now.UnixMilli())
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

	requeued, err = expired(` AND stalls < 1`)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range requeued {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state=?, stalls=stalls+1, locked_until=NULL,
				last_error='stalled: visibility deadline expired'
			WHERE id=?`, constants.JobStateQueued, id); err != nil {
			return nil, nil, err
		}
	}

	failed, err = expired(``)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range failed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state=?, locked_until=NULL, finished_at=?,
				last_error='stalled twice: giving up'
			WHERE id=?`, constants.JobStateFailed, now.UnixMilli(), id); err != nil {
			return nil, nil, err
		}
	}

	return requeued, failed, tx.Commit()
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	rec, err := scanSqliteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLite) LaneDepth(ctx context.Context, lane constants.Lane) (Depth, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, count(*) FROM jobs WHERE lane=? GROUP BY state`, lane)
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

func (s *SQLite) GetCacheEntry(ctx context.Context, hash string, now time.Time) (*CacheRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT content_hash, path, mime_type, text, confidence, engine,
			duration_ms, file_size, access_count, created_at, last_accessed
		FROM cache_entries WHERE content_hash=?`, hash)
	rec, err := scanSqliteCache(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cache_entries SET access_count=access_count+1, last_accessed=?
		WHERE content_hash=?`, now.UnixMilli(), hash); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	rec.AccessCount++
	rec.LastAccessed = now
	return rec, nil
}

func (s *SQLite) PutCacheEntry(ctx context.Context, rec *CacheRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (content_hash, path, mime_type, text, confidence,
			engine, duration_ms, file_size, access_count, created_at, last_accessed)
		VALUES (?,?,?,?,?,?,?,?,1,?,?)
		ON CONFLICT (content_hash) DO UPDATE SET
			access_count = access_count + 1,
			last_accessed = excluded.last_accessed`,
		rec.ContentHash, rec.Path, rec.MimeType, rec.Text, rec.Confidence,
		rec.Engine, rec.Duration.Milliseconds(), rec.FileSize,
		rec.CreatedAt.UnixMilli(), rec.CreatedAt.UnixMilli())
	return err
}

func (s *SQLite) TouchCacheEntry(ctx context.Context, hash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cache_entries SET access_count=access_count+1, last_accessed=?
		WHERE content_hash=?`, now.UnixMilli(), hash)
	return err
}

func (s *SQLite) CacheStats(ctx context.Context) (CacheTierStats, error) {
	var st CacheTierStats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(access_count),0) FROM cache_entries`).
		Scan(&st.Entries, &st.TotalHits)
	return st, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSqliteJob(row rowScanner) (*JobRecord, error) {
	var rec JobRecord
	var lane, state, engines string
	var enqueuedMS, eligibleMS int64
	var lockedMS, finishedMS sql.NullInt64
	err := row.Scan(&rec.ID, &lane, &rec.Path, &rec.MimeType, &rec.ContentHash, &rec.Priority,
		&state, &rec.Attempts, &rec.MaxAttempts, &rec.Stalls, &engines, &rec.LastError,
		&enqueuedMS, &eligibleMS, &lockedMS, &finishedMS)
	if err != nil {
		return nil, err
	}
	rec.Lane = constants.Lane(lane)
	rec.State = constants.JobState(state)
	rec.Engines = decodeEngines(engines)
	rec.EnqueuedAt = time.UnixMilli(enqueuedMS)
	rec.EligibleAt = time.UnixMilli(eligibleMS)
	if lockedMS.Valid {
		rec.LockedUntil = time.UnixMilli(lockedMS.Int64)
	}
	if finishedMS.Valid {
		rec.FinishedAt = time.UnixMilli(finishedMS.Int64)
	}
	return &rec, nil
}

func scanSqliteCache(row rowScanner) (*CacheRecord, error) {
	var rec CacheRecord
	var durationMS, createdMS, accessedMS int64
	err := row.Scan(&rec.ContentHash, &rec.Path, &rec.MimeType, &rec.Text, &rec.Confidence,
		&rec.Engine, &durationMS, &rec.FileSize, &rec.AccessCount, &createdMS, &accessedMS)
	if err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdMS)
	rec.LastAccessed = time.UnixMilli(accessedMS)
	return &rec, nil
}
