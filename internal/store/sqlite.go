package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id                     TEXT PRIMARY KEY,
	file_name              TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	total_rows             INTEGER NOT NULL DEFAULT 0,
	processed_rows         INTEGER NOT NULL DEFAULT 0,
	successful_rows        INTEGER NOT NULL DEFAULT 0,
	error_rows             INTEGER NOT NULL DEFAULT 0,
	skipped_rows           INTEGER NOT NULL DEFAULT 0,
	review_rows            INTEGER NOT NULL DEFAULT 0,
	created_by             TEXT NOT NULL,
	options                TEXT NOT NULL DEFAULT '{}',
	error_summary          TEXT NOT NULL DEFAULT '[]',
	cancellation_requested INTEGER NOT NULL DEFAULT 0,
	cancel_reason          TEXT NOT NULL DEFAULT '',
	failure_reason         TEXT NOT NULL DEFAULT '',
	started_at             DATETIME,
	completed_at           DATETIME,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS donors (
	id           TEXT PRIMARY KEY,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	zip_code     TEXT NOT NULL DEFAULT '',
	student_name TEXT NOT NULL DEFAULT '',
	attributes   TEXT NOT NULL DEFAULT '{}',
	email_key    TEXT NOT NULL DEFAULT '',
	name_key     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_import_jobs_created_by ON import_jobs(created_by, created_at);
CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_donors_email_key ON donors(email_key);
CREATE INDEX IF NOT EXISTS idx_donors_name_key ON donors(name_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const jobColumns = `id, file_name, status, total_rows, processed_rows, successful_rows, error_rows,
	skipped_rows, review_rows, created_by, options, error_summary, cancellation_requested,
	cancel_reason, failure_reason, started_at, completed_at, created_at, updated_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ImportJob) error {
	prepareJob(job, s.now())

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal options")
	}
	summary, err := json.Marshal(job.ErrorSummary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal error summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_jobs (id, file_name, status, total_rows, created_by, options, error_summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FileName, string(job.Status), job.TotalRows, job.CreatedBy, string(opts), string(summary), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE 1=1`
	var args []any

	if filter.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, filter.CreatedBy)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	jobs := []model.ImportJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, to model.JobStatus, reason string) error {
	preds := predecessors(to)
	if len(preds) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "no transition into %s", to)
	}

	now := s.now()
	var startedAt, completedAt any
	if to == model.JobStatusValidating {
		startedAt = now
	}
	if to.Terminal() {
		completedAt = now
	}
	var failure, cancel any
	if reason != "" {
		switch to {
		case model.JobStatusFailed:
			failure = reason
		case model.JobStatusCancelled:
			cancel = reason
		}
	}

	args := []any{string(to), now, startedAt, completedAt, failure, cancel, id}
	for _, p := range preds {
		args = append(args, p)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status = ?, updated_at = ?,
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(?, completed_at),
			failure_reason = COALESCE(?, failure_reason),
			cancel_reason = COALESCE(?, cancel_reason)
		 WHERE id = ? AND status IN (`+placeholders(len(preds))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s to %s", id, to)
	}
	return s.guarded(ctx, res, id, ErrInvalidTransition)
}

func (s *SQLiteStore) SetTotalRows(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET total_rows = ?, updated_at = ? WHERE id = ? AND status NOT IN (?, ?, ?)`,
		total, s.now(), id, terminalStatuses[0], terminalStatuses[1], terminalStatuses[2],
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set total rows %s", id)
	}
	return s.guarded(ctx, res, id, ErrJobTerminal)
}

const sqliteUpdateProgress = `UPDATE import_jobs SET processed_rows = ?, successful_rows = ?, error_rows = ?, skipped_rows = ?,
		review_rows = ?, error_summary = ?, updated_at = ?
	 WHERE id = ? AND processed_rows <= ? AND status NOT IN (?, ?, ?)`

func (s *SQLiteStore) progressArgs(id string, p model.JobProgress) ([]any, error) {
	summary, err := json.Marshal(nonNilSummary(p.ErrorSummary))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal error summary")
	}
	return []any{
		p.ProcessedRows, p.SuccessfulRows, p.ErrorRows, p.SkippedRows, p.ReviewRows, string(summary), s.now(),
		id, p.ProcessedRows, terminalStatuses[0], terminalStatuses[1], terminalStatuses[2],
	}, nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, p model.JobProgress) error {
	args, err := s.progressArgs(id, p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqliteUpdateProgress, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update progress %s", id)
	}
	return s.guarded(ctx, res, id, ErrProgressRegression)
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET cancellation_requested = 1, cancel_reason = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		reason, s.now(), id, terminalStatuses[0], terminalStatuses[1], terminalStatuses[2],
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", id)
	}
	return s.guarded(ctx, res, id, ErrJobTerminal)
}

// guarded turns a zero-row guarded update into the matching sentinel error.
func (s *SQLiteStore) guarded(ctx context.Context, res sql.Result, id string, fallback error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	return classify(job, err, fallback)
}

func (s *SQLiteStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Donor, error) {
	if q.Empty() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+donorColumns+` FROM donors
		 WHERE (email_key <> '' AND email_key = ?) OR (name_key <> '' AND name_key = ?)
		 ORDER BY id LIMIT ?`,
		q.Email, q.NameKey, MaxCandidates,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find candidates iterate")
}

func (s *SQLiteStore) GetDonor(ctx context.Context, id string) (*model.Donor, error) {
	d, err := scanDonor(s.db.QueryRowContext(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrDonorNotFound, "donor %s", id)
	}
	return d, err
}

func (s *SQLiteStore) CommitBatch(ctx context.Context, b RecordBatch) (map[int]string, error) {
	now := s.now()
	plan, err := planBatch(b, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin batch")
	}
	defer tx.Rollback() //nolint:errcheck

	existing := make(map[string]model.Donor, len(plan.updateIDs))
	for _, id := range plan.updateIDs {
		d, err := scanDonor(tx.QueryRowContext(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		existing[id] = *d
	}
	updates, err := plan.merge(existing, now)
	if err != nil {
		return nil, err
	}

	for _, d := range plan.creates {
		vals, err := donorValues(d)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO donors (`+donorColumns+`) VALUES (`+placeholders(len(vals))+`)`, vals...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert donor %s", d.ID)
		}
	}
	for _, d := range updates {
		vals, err := donorValues(d)
		if err != nil {
			return nil, err
		}
		// vals[0] is the id; the rest line up with donorUpdateSet.
		args := append(vals[1:], d.ID)
		if _, err := tx.ExecContext(ctx, `UPDATE donors SET `+donorUpdateSet+` WHERE id = ?`, args...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: update donor %s", d.ID)
		}
	}

	if b.Progress != nil {
		args, err := s.progressArgs(b.JobID, *b.Progress)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, sqliteUpdateProgress, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update progress %s", b.JobID)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			_ = tx.Rollback()
			return nil, s.guarded(ctx, res, b.JobID, ErrProgressRegression)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit batch")
	}
	return plan.ids, nil
}

// helpers

const donorColumns = `id, first_name, last_name, email, phone, city, state, zip_code, student_name,
	attributes, email_key, name_key, created_at, updated_at`

const donorUpdateSet = `first_name = ?, last_name = ?, email = ?, phone = ?, city = ?, state = ?,
	zip_code = ?, student_name = ?, attributes = ?, email_key = ?, name_key = ?, created_at = ?, updated_at = ?`

var donorColumnList = func() []string {
	cols := strings.Split(donorColumns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}()

// donorValues returns the column values of d in donorColumns order.
func donorValues(d model.Donor) ([]any, error) {
	attrs := d.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal attributes of %s", d.ID)
	}
	return []any{
		d.ID, d.FirstName, d.LastName, d.Email, d.Phone, d.City, d.State, d.ZipCode, d.StudentName,
		string(attrJSON), normalize.Email(d.Email), normalize.NameKey(d.FirstName, d.LastName), d.CreatedAt, d.UpdatedAt,
	}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nonNilSummary(s []model.RowError) []model.RowError {
	if s == nil {
		return []model.RowError{}
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.ImportJob, error) {
	var (
		j                      model.ImportJob
		opts, summary          string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.FileName, &j.Status, &j.TotalRows, &j.ProcessedRows, &j.SuccessfulRows,
		&j.ErrorRows, &j.SkippedRows, &j.ReviewRows, &j.CreatedBy, &opts, &summary, &j.CancellationRequested,
		&j.CancelReason, &j.FailureReason, &startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "store: scan job")
	}
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal options")
	}
	if err := json.Unmarshal([]byte(summary), &j.ErrorSummary); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal error summary")
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return &j, nil
}

func scanDonor(row scannable) (*model.Donor, error) {
	var (
		d                 model.Donor
		attrs             string
		emailKey, nameKey string
	)
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Email, &d.Phone, &d.City, &d.State, &d.ZipCode,
		&d.StudentName, &attrs, &emailKey, &nameKey, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "store: scan donor")
	}
	if err := json.Unmarshal([]byte(attrs), &d.Attributes); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal attributes")
	}
	return &d, nil
}
