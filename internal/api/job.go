package api

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DeleteJobSnapshot is an immutable view of a batch delete's progress,
// safe to read without synchronization once obtained.
type DeleteJobSnapshot struct {
	Total     int
	Current   int
	Succeeded int
	Failed    int
	Done      bool
	StartedAt time.Time
}

// deleteJob tracks one batch_delete call's progress behind an
// atomically swapped snapshot — the same "ID plus pollable snapshot"
// shape internal/retention.Job uses for its own sweeps, instantiated
// separately here because a user-triggered batch delete is a distinct
// concern from a scheduled retention sweep and has no reason to share
// retention's registry or its sweep-specific bookkeeping.
type deleteJob struct {
	id       uuid.UUID
	snapshot atomic.Pointer[DeleteJobSnapshot]
}

func newDeleteJob(total int) *deleteJob {
	j := &deleteJob{id: uuid.New()}
	j.snapshot.Store(&DeleteJobSnapshot{Total: total, StartedAt: time.Now()})
	return j
}

func (j *deleteJob) recordResult(ok bool) {
	cur := *j.snapshot.Load()
	cur.Current++
	if ok {
		cur.Succeeded++
	} else {
		cur.Failed++
	}
	j.snapshot.Store(&cur)
}

func (j *deleteJob) finish() {
	cur := *j.snapshot.Load()
	cur.Done = true
	j.snapshot.Store(&cur)
}

func (j *deleteJob) Snapshot() DeleteJobSnapshot {
	return *j.snapshot.Load()
}

// deleteJobRegistry keeps the most recently triggered batch deletes
// queryable by ID so a caller can poll BatchDeleteProgress after
// BatchDelete returns.
type deleteJobRegistry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*deleteJob
	// order tracks insertion order for trimming to maxKeptDeleteJobs.
	order []uuid.UUID
}

const maxKeptDeleteJobs = 32

func newDeleteJobRegistry() *deleteJobRegistry {
	return &deleteJobRegistry{jobs: make(map[uuid.UUID]*deleteJob)}
}

func (r *deleteJobRegistry) start(total int) *deleteJob {
	j := newDeleteJob(total)
	r.mu.Lock()
	r.jobs[j.id] = j
	r.order = append(r.order, j.id)
	if len(r.order) > maxKeptDeleteJobs {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.jobs, evict)
	}
	r.mu.Unlock()
	return j
}

func (r *deleteJobRegistry) get(id uuid.UUID) *deleteJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}
