package syncer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ItemResult records one successfully synced item.
type ItemResult struct {
	Email    string
	FolderID string
	Action   string // created, updated, unchanged
}

// ItemError attaches an item identity to its failure so a batch report
// never loses track of which employee a failure belongs to.
type ItemError struct {
	Email string
	Err   error
}

// Snapshot is a point-in-time copy of a job's state, safe to read while
// the batch is still running.
type Snapshot struct {
	ID          string
	Status      string
	Total       int
	Completed   int
	Failed      int
	CurrentItem string
	Results     []ItemResult
	Errors      []ItemError
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Job tracks one sync batch. It lives in memory only and is discarded by
// the registry after the retention window.
type Job struct {
	id        string
	startedAt time.Time

	mu          sync.Mutex
	status      string
	total       int
	completed   int
	failed      int
	currentItem string
	results     []ItemResult
	errors      []ItemError
	cancelled   bool
	finishedAt  time.Time

	done chan struct{}
}

func newJob(total int, now time.Time) *Job {
	return &Job{
		id:        uuid.NewString(),
		startedAt: now,
		status:    StatusRunning,
		total:     total,
		done:      make(chan struct{}),
	}
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

// Done is closed when the batch finishes or is cancelled and drained.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cooperative cancellation. In-flight items complete; no
// further chunks start.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cancelled = true
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.cancelled
}

// Snapshot copies the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return Snapshot{
		ID:          j.id,
		Status:      j.status,
		Total:       j.total,
		Completed:   j.completed,
		Failed:      j.failed,
		CurrentItem: j.currentItem,
		Results:     append([]ItemResult(nil), j.results...),
		Errors:      append([]ItemError(nil), j.errors...),
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
}

func (j *Job) setCurrent(email string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.currentItem = email
}

func (j *Job) recordResult(res ItemResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.completed++
	j.results = append(j.results, res)
}

func (j *Job) recordError(email string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.failed++
	j.errors = append(j.errors, ItemError{Email: email, Err: err})
}

func (j *Job) progress() (completed, failed, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.completed, j.failed, j.total
}

func (j *Job) finish(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelled {
		j.status = StatusCancelled
	} else {
		j.status = StatusCompleted
	}

	j.currentItem = ""
	j.finishedAt = now

	close(j.done)
}

// Registry holds running and recently finished jobs in memory. Finished
// jobs older than the retention window are pruned on Sweep; nothing is
// ever persisted.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	nowFunc   func() time.Time
}

// NewRegistry creates a registry with the given retention window for
// finished jobs.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		jobs:      make(map[string]*Job),
		retention: retention,
		nowFunc:   time.Now,
	}
}

func (r *Registry) add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.id] = job
}

// Get returns the job with the given id, or nil.
func (r *Registry) Get(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.jobs[id]
}

// Sweep drops finished jobs past the retention window and returns how
// many were pruned.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowFunc().Add(-r.retention)
	pruned := 0

	for id, job := range r.jobs {
		snap := job.Snapshot()
		if snap.Status != StatusRunning && !snap.FinishedAt.IsZero() && snap.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)

			pruned++
		}
	}

	return pruned
}
