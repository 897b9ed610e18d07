// Package retention enforces disk-quota and age-based reclamation
// against the recording index and the filesystem.
package retention

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobSnapshot is an immutable view of a Job's progress at one instant,
// safe to read without synchronization once obtained.
type JobSnapshot struct {
	Total         int
	Current       int
	Succeeded     int
	Failed        int
	StatusMessage string
	StartedAt     time.Time
	Done          bool
}

// Job tracks one retention sweep's progress behind an atomically
// swapped snapshot, the same shape as the teacher's progress-tracking
// service narrowed from a multi-stage weighted operation to a single
// flat counter — a sweep has no stages, only a row count.
type Job struct {
	id       uuid.UUID
	snapshot atomic.Pointer[JobSnapshot]
}

func newJob() *Job {
	j := &Job{id: uuid.New()}
	j.snapshot.Store(&JobSnapshot{StartedAt: time.Now()})
	return j
}

// ID returns the job's identifier.
func (j *Job) ID() uuid.UUID { return j.id }

// Snapshot returns the current progress, safe for concurrent callers.
func (j *Job) Snapshot() JobSnapshot {
	return *j.snapshot.Load()
}

func (j *Job) setTotal(total int) {
	cur := *j.snapshot.Load()
	cur.Total = total
	j.snapshot.Store(&cur)
}

func (j *Job) recordResult(ok bool) {
	cur := *j.snapshot.Load()
	cur.Current++
	if ok {
		cur.Succeeded++
	} else {
		cur.Failed++
	}
	j.snapshot.Store(&cur)
}

func (j *Job) setStatus(msg string) {
	cur := *j.snapshot.Load()
	cur.StatusMessage = msg
	j.snapshot.Store(&cur)
}

func (j *Job) finish(msg string) {
	cur := *j.snapshot.Load()
	cur.StatusMessage = msg
	cur.Done = true
	j.snapshot.Store(&cur)
}

// Registry keeps the most recent jobs queryable by ID, so an API
// collaborator can poll a sweep's progress after triggering it.
type Registry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	// order tracks insertion order for trimming to maxKept.
	order []uuid.UUID
}

const maxKeptJobs = 32

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*Job)}
}

func (r *Registry) start() *Job {
	j := newJob()
	r.mu.Lock()
	r.jobs[j.id] = j
	r.order = append(r.order, j.id)
	if len(r.order) > maxKeptJobs {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.jobs, evict)
	}
	r.mu.Unlock()
	return j
}

// Get returns the job for id, or nil if it isn't known (never existed
// or was trimmed).
func (r *Registry) Get(id uuid.UUID) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}
