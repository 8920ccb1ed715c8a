// Package store persists import jobs and donor records.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/config"
	"github.com/sells-group/donor-import/internal/model"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = eris.New("store: job not found")
	// ErrJobTerminal is returned when mutating a completed, failed or cancelled job.
	ErrJobTerminal = eris.New("store: job is in a terminal state")
	// ErrInvalidTransition is returned for state changes the job state machine forbids.
	ErrInvalidTransition = eris.New("store: invalid job transition")
	// ErrProgressRegression is returned when counters would move backwards.
	ErrProgressRegression = eris.New("store: job progress may not decrease")
	// ErrDonorNotFound is returned for unknown donor ids.
	ErrDonorNotFound = eris.New("store: donor not found")
	// ErrUnresolvedTarget is returned when an update op targets nothing.
	ErrUnresolvedTarget = eris.New("store: update target could not be resolved")
)

// DefaultListLimit caps ListJobs when no limit is given.
const DefaultListLimit = 100

// MaxCandidates caps FindCandidates results.
const MaxCandidates = 50

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	CreatedBy string          `json:"createdBy,omitempty"`
	Status    model.JobStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// JobStore persists import jobs. Terminal jobs are never modified.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.ImportJob) error
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ImportJob, error)
	Transition(ctx context.Context, id string, to model.JobStatus, reason string) error
	SetTotalRows(ctx context.Context, id string, total int) error
	UpdateProgress(ctx context.Context, id string, p model.JobProgress) error
	RequestCancel(ctx context.Context, id string, reason string) error
}

// CandidateQuery selects stored donors sharing a normalized email or name key.
type CandidateQuery struct {
	Email   string
	NameKey string
}

// Empty reports whether the query can match nothing.
func (q CandidateQuery) Empty() bool { return q.Email == "" && q.NameKey == "" }

// OpKind is the kind of a record write.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
)

// RecordOp is one write of a batch. An update targets either a stored donor
// (TargetID) or a row created earlier in the same batch (TargetRow).
type RecordOp struct {
	Kind      OpKind
	Row       int
	Donor     model.Donor
	TargetID  string
	TargetRow int
}

// RecordBatch is applied atomically. When Progress is set, the job's
// cumulative counters are checkpointed in the same transaction, under the
// same guards as JobStore.UpdateProgress.
type RecordBatch struct {
	JobID    string
	Ops      []RecordOp
	Progress *model.JobProgress
}

// RecordStore persists donor records.
type RecordStore interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Donor, error)
	GetDonor(ctx context.Context, id string) (*model.Donor, error)
	// CommitBatch applies every op in one transaction and returns the donor id
	// written for each row.
	CommitBatch(ctx context.Context, batch RecordBatch) (map[int]string, error)
}

// Store combines job and record persistence.
type Store interface {
	JobStore
	RecordStore
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "memory":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// commitPlan is a batch resolved into concrete inserts and updates.
type commitPlan struct {
	creates   []model.Donor
	updateIDs []string
	overlays  map[string][]model.Donor
	ids       map[int]string
}

func newID() string { return uuid.New().String() }

// planBatch assigns ids to creates and folds updates that target rows of the
// same batch into the created donor.
func planBatch(b RecordBatch, now time.Time) (*commitPlan, error) {
	p := &commitPlan{
		overlays: make(map[string][]model.Donor),
		ids:      make(map[int]string, len(b.Ops)),
	}
	createAt := make(map[int]int)

	for _, op := range b.Ops {
		switch op.Kind {
		case OpCreate:
			d := cloneDonor(op.Donor)
			d.ID = newID()
			d.CreatedAt, d.UpdatedAt = now, now
			createAt[op.Row] = len(p.creates)
			p.creates = append(p.creates, d)
			p.ids[op.Row] = d.ID

		case OpUpdate:
			switch {
			case op.TargetID != "":
				if _, seen := p.overlays[op.TargetID]; !seen {
					p.updateIDs = append(p.updateIDs, op.TargetID)
				}
				p.overlays[op.TargetID] = append(p.overlays[op.TargetID], op.Donor)
				p.ids[op.Row] = op.TargetID
			case op.TargetRow > 0:
				i, ok := createAt[op.TargetRow]
				if !ok {
					return nil, eris.Wrapf(ErrUnresolvedTarget, "row %d targets row %d", op.Row, op.TargetRow)
				}
				p.creates[i].Merge(op.Donor)
				p.ids[op.Row] = p.creates[i].ID
			default:
				return nil, eris.Wrapf(ErrUnresolvedTarget, "row %d has no target", op.Row)
			}

		default:
			return nil, eris.Errorf("store: row %d: unknown op %q", op.Row, op.Kind)
		}
	}
	return p, nil
}

// merge applies the planned overlays to the stored donors, in op order.
func (p *commitPlan) merge(existing map[string]model.Donor, now time.Time) ([]model.Donor, error) {
	out := make([]model.Donor, 0, len(p.updateIDs))
	for _, id := range p.updateIDs {
		stored, ok := existing[id]
		if !ok {
			return nil, eris.Wrapf(ErrUnresolvedTarget, "donor %s", id)
		}
		d := cloneDonor(stored)
		for _, o := range p.overlays[id] {
			d.Merge(o)
		}
		d.UpdatedAt = now
		out = append(out, d)
	}
	return out, nil
}

func cloneDonor(d model.Donor) model.Donor {
	if d.Attributes != nil {
		attrs := make(map[string]any, len(d.Attributes))
		for k, v := range d.Attributes {
			attrs[k] = v
		}
		d.Attributes = attrs
	}
	return d
}

var terminalStatuses = []string{
	string(model.JobStatusCompleted),
	string(model.JobStatusFailed),
	string(model.JobStatusCancelled),
}

func predecessors(to model.JobStatus) []string {
	preds := model.PredecessorsOf(to)
	out := make([]string, len(preds))
	for i, s := range preds {
		out[i] = string(s)
	}
	return out
}

// classify explains why a guarded job update matched no row.
func classify(job *model.ImportJob, err error, fallback error) error {
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return eris.Wrapf(ErrJobTerminal, "job %s is %s", job.ID, job.Status)
	}
	return eris.Wrapf(fallback, "job %s is %s", job.ID, job.Status)
}

func prepareJob(job *model.ImportJob, now time.Time) {
	if job.ID == "" {
		job.ID = newID()
	}
	job.Status = model.JobStatusPending
	job.CreatedAt, job.UpdatedAt = now, now
	if job.ErrorSummary == nil {
		job.ErrorSummary = []model.RowError{}
	}
}
