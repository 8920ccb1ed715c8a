package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/normalize"
)

// MemoryStore is an in-process Store for tests and single-shot CLI runs.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*model.ImportJob
	order  []string
	donors map[string]model.Donor
	now    func() time.Time

	// FailCommit, when set, is returned by CommitBatch before any write.
	FailCommit error
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*model.ImportJob),
		donors: make(map[string]model.Donor),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneJob(j *model.ImportJob) *model.ImportJob {
	c := *j
	c.ErrorSummary = append([]model.RowError{}, j.ErrorSummary...)
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *model.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareJob(job, s.now())
	if _, exists := s.jobs[job.ID]; exists {
		return eris.Errorf("store: job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*model.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]model.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := []model.ImportJob{}
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		j := s.jobs[s.order[i]]
		if filter.CreatedBy != "" && j.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, *cloneJob(j))
	}
	return out, nil
}

// mutate applies fn to a live, non-terminal job under the write lock.
func (s *MemoryStore) mutate(id string, fn func(j *model.ImportJob) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	if j.Status.Terminal() {
		return eris.Wrapf(ErrJobTerminal, "job %s is %s", id, j.Status)
	}
	if err := fn(j); err != nil {
		return err
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, to model.JobStatus, reason string) error {
	if len(model.PredecessorsOf(to)) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "no transition into %s", to)
	}
	return s.mutate(id, func(j *model.ImportJob) error {
		if !model.CanTransition(j.Status, to) {
			return eris.Wrapf(ErrInvalidTransition, "job %s is %s, cannot move to %s", id, j.Status, to)
		}
		now := s.now()
		j.Status = to
		if to == model.JobStatusValidating && j.StartedAt == nil {
			j.StartedAt = &now
		}
		if to.Terminal() {
			j.CompletedAt = &now
		}
		if reason != "" {
			switch to {
			case model.JobStatusFailed:
				j.FailureReason = reason
			case model.JobStatusCancelled:
				j.CancelReason = reason
			}
		}
		return nil
	})
}

func (s *MemoryStore) SetTotalRows(_ context.Context, id string, total int) error {
	return s.mutate(id, func(j *model.ImportJob) error {
		j.TotalRows = total
		return nil
	})
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, p model.JobProgress) error {
	return s.mutate(id, func(j *model.ImportJob) error {
		if err := checkProgress(j, p); err != nil {
			return err
		}
		setProgress(j, p)
		return nil
	})
}

func checkProgress(j *model.ImportJob, p model.JobProgress) error {
	if p.ProcessedRows < j.ProcessedRows {
		return eris.Wrapf(ErrProgressRegression, "job %s: %d < %d", j.ID, p.ProcessedRows, j.ProcessedRows)
	}
	return nil
}

func setProgress(j *model.ImportJob, p model.JobProgress) {
	j.ProcessedRows = p.ProcessedRows
	j.SuccessfulRows = p.SuccessfulRows
	j.ErrorRows = p.ErrorRows
	j.SkippedRows = p.SkippedRows
	j.ReviewRows = p.ReviewRows
	j.ErrorSummary = append([]model.RowError{}, p.ErrorSummary...)
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string, reason string) error {
	return s.mutate(id, func(j *model.ImportJob) error {
		j.CancellationRequested = true
		j.CancelReason = reason
		return nil
	})
}

func (s *MemoryStore) FindCandidates(_ context.Context, q CandidateQuery) ([]model.Donor, error) {
	if q.Empty() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Donor
	for _, d := range s.donors {
		if (q.Email != "" && normalize.Email(d.Email) == q.Email) ||
			(q.NameKey != "" && normalize.NameKey(d.FirstName, d.LastName) == q.NameKey) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out, nil
}

func (s *MemoryStore) GetDonor(_ context.Context, id string) (*model.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.donors[id]
	if !ok {
		return nil, eris.Wrapf(ErrDonorNotFound, "donor %s", id)
	}
	return &d, nil
}

// Donors returns every stored donor ordered by id.
func (s *MemoryStore) Donors() []model.Donor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Donor, 0, len(s.donors))
	for _, d := range s.donors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) CommitBatch(_ context.Context, b RecordBatch) (map[int]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommit != nil {
		return nil, s.FailCommit
	}

	now := s.now()
	plan, err := planBatch(b, now)
	if err != nil {
		return nil, err
	}

	var job *model.ImportJob
	if b.Progress != nil {
		j, ok := s.jobs[b.JobID]
		switch {
		case !ok:
			return nil, eris.Wrapf(ErrJobNotFound, "job %s", b.JobID)
		case j.Status.Terminal():
			return nil, eris.Wrapf(ErrJobTerminal, "job %s is %s", b.JobID, j.Status)
		}
		if err := checkProgress(j, *b.Progress); err != nil {
			return nil, err
		}
		job = j
	}
	existing := make(map[string]model.Donor, len(plan.updateIDs))
	for _, id := range plan.updateIDs {
		if d, ok := s.donors[id]; ok {
			existing[id] = d
		}
	}
	updates, err := plan.merge(existing, now)
	if err != nil {
		return nil, err
	}

	for _, d := range plan.creates {
		s.donors[d.ID] = d
	}
	for _, d := range updates {
		s.donors[d.ID] = d
	}
	if job != nil {
		setProgress(job, *b.Progress)
		job.UpdatedAt = now
	}
	return plan.ids, nil
}
