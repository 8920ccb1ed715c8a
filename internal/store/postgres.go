package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/db"
	"github.com/sells-group/donor-import/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
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
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	file_name              TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	total_rows             INTEGER NOT NULL DEFAULT 0,
	processed_rows         INTEGER NOT NULL DEFAULT 0,
	successful_rows        INTEGER NOT NULL DEFAULT 0,
	error_rows             INTEGER NOT NULL DEFAULT 0,
	skipped_rows           INTEGER NOT NULL DEFAULT 0,
	review_rows            INTEGER NOT NULL DEFAULT 0,
	created_by             TEXT NOT NULL,
	options                JSONB NOT NULL DEFAULT '{}',
	error_summary          JSONB NOT NULL DEFAULT '[]',
	cancellation_requested BOOLEAN NOT NULL DEFAULT false,
	cancel_reason          TEXT NOT NULL DEFAULT '',
	failure_reason         TEXT NOT NULL DEFAULT '',
	started_at             TIMESTAMPTZ,
	completed_at           TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT chk_import_jobs_counters CHECK (processed_rows = successful_rows + error_rows + skipped_rows)
);

CREATE TABLE IF NOT EXISTS donors (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	zip_code     TEXT NOT NULL DEFAULT '',
	student_name TEXT NOT NULL DEFAULT '',
	attributes   JSONB NOT NULL DEFAULT '{}',
	email_key    TEXT NOT NULL DEFAULT '',
	name_key     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_import_jobs_created_by ON import_jobs(created_by, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_donors_email_key ON donors(email_key) WHERE email_key <> '';
CREATE INDEX IF NOT EXISTS idx_donors_name_key ON donors(name_key) WHERE name_key <> '';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ImportJob) error {
	prepareJob(job, s.now())

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal options")
	}
	summary, err := json.Marshal(job.ErrorSummary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal error summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, file_name, status, total_rows, created_by, options, error_summary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.FileName, string(job.Status), job.TotalRows, job.CreatedBy, string(opts), string(summary), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return j, eris.Wrap(err, "postgres: get job")
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ImportJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM import_jobs
		 WHERE ($1 = '' OR created_by = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id DESC LIMIT $3`,
		filter.CreatedBy, string(filter.Status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	jobs := []model.ImportJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) Transition(ctx context.Context, id string, to model.JobStatus, reason string) error {
	preds := predecessors(to)
	if len(preds) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "no transition into %s", to)
	}

	now := s.now()
	var startedAt, completedAt *time.Time
	if to == model.JobStatusValidating {
		startedAt = &now
	}
	if to.Terminal() {
		completedAt = &now
	}
	var failure, cancel *string
	if reason != "" {
		switch to {
		case model.JobStatusFailed:
			failure = &reason
		case model.JobStatusCancelled:
			cancel = &reason
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = $1, updated_at = $2,
			started_at = COALESCE(started_at, $3),
			completed_at = COALESCE($4, completed_at),
			failure_reason = COALESCE($5, failure_reason),
			cancel_reason = COALESCE($6, cancel_reason)
		 WHERE id = $7 AND status = ANY($8)`,
		string(to), now, startedAt, completedAt, failure, cancel, id, preds,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s to %s", id, to)
	}
	return s.guarded(ctx, tag, id, ErrInvalidTransition)
}

func (s *PostgresStore) SetTotalRows(ctx context.Context, id string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET total_rows = $1, updated_at = $2 WHERE id = $3 AND NOT (status = ANY($4))`,
		total, s.now(), id, terminalStatuses,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set total rows %s", id)
	}
	return s.guarded(ctx, tag, id, ErrJobTerminal)
}

const pgUpdateProgress = `UPDATE import_jobs SET processed_rows = $1, successful_rows = $2, error_rows = $3, skipped_rows = $4,
		review_rows = $5, error_summary = $6, updated_at = $7
	 WHERE id = $8 AND processed_rows <= $1 AND NOT (status = ANY($9))`

func (s *PostgresStore) progressArgs(id string, p model.JobProgress) ([]any, error) {
	summary, err := json.Marshal(nonNilSummary(p.ErrorSummary))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal error summary")
	}
	return []any{
		p.ProcessedRows, p.SuccessfulRows, p.ErrorRows, p.SkippedRows, p.ReviewRows, string(summary), s.now(),
		id, terminalStatuses,
	}, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, p model.JobProgress) error {
	args, err := s.progressArgs(id, p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, pgUpdateProgress, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update progress %s", id)
	}
	return s.guarded(ctx, tag, id, ErrProgressRegression)
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET cancellation_requested = true, cancel_reason = $1, updated_at = $2
		 WHERE id = $3 AND NOT (status = ANY($4))`,
		reason, s.now(), id, terminalStatuses,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", id)
	}
	return s.guarded(ctx, tag, id, ErrJobTerminal)
}

func (s *PostgresStore) guarded(ctx context.Context, tag pgconn.CommandTag, id string, fallback error) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	return classify(job, err, fallback)
}

func (s *PostgresStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Donor, error) {
	if q.Empty() {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+donorColumns+` FROM donors
		 WHERE (email_key <> '' AND email_key = $1) OR (name_key <> '' AND name_key = $2)
		 ORDER BY id LIMIT $3`,
		q.Email, q.NameKey, MaxCandidates,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	return collectDonors(rows)
}

func (s *PostgresStore) GetDonor(ctx context.Context, id string) (*model.Donor, error) {
	d, err := scanDonor(s.pool.QueryRow(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrDonorNotFound, "donor %s", id)
	}
	return d, eris.Wrap(err, "postgres: get donor")
}

// CommitBatch locks update targets, inserts creates with COPY and applies
// updates through a temp table, all in one transaction.
func (s *PostgresStore) CommitBatch(ctx context.Context, b RecordBatch) (map[int]string, error) {
	now := s.now()
	plan, err := planBatch(b, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing := make(map[string]model.Donor, len(plan.updateIDs))
	if len(plan.updateIDs) > 0 {
		rows, err := tx.Query(ctx,
			`SELECT `+donorColumns+` FROM donors WHERE id = ANY($1) FOR UPDATE`, plan.updateIDs)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: lock update targets")
		}
		donors, err := collectDonors(rows)
		if err != nil {
			return nil, err
		}
		for _, d := range donors {
			existing[d.ID] = d
		}
	}
	updates, err := plan.merge(existing, now)
	if err != nil {
		return nil, err
	}

	createRows, err := donorRows(plan.creates)
	if err != nil {
		return nil, err
	}
	if _, err := db.CopyFrom(ctx, tx, "donors", donorColumnList, createRows); err != nil {
		return nil, eris.Wrap(err, "postgres: insert donors")
	}

	updateRows, err := donorRows(updates)
	if err != nil {
		return nil, err
	}
	if _, err := db.UpdateFrom(ctx, tx, db.UpdateConfig{
		Table:   "donors",
		Key:     "id",
		Columns: donorColumnList[1:],
	}, updateRows); err != nil {
		return nil, eris.Wrap(err, "postgres: update donors")
	}

	if b.Progress != nil {
		args, err := s.progressArgs(b.JobID, *b.Progress)
		if err != nil {
			return nil, err
		}
		tag, err := tx.Exec(ctx, pgUpdateProgress, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update progress %s", b.JobID)
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Rollback(ctx)
			return nil, s.guarded(ctx, tag, b.JobID, ErrProgressRegression)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit batch")
	}
	return plan.ids, nil
}

func donorRows(donors []model.Donor) ([][]any, error) {
	rows := make([][]any, 0, len(donors))
	for _, d := range donors {
		vals, err := donorValues(d)
		if err != nil {
			return nil, err
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func collectDonors(rows pgx.Rows) ([]model.Donor, error) {
	defer rows.Close()
	var out []model.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate donors")
}
