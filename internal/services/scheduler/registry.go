package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry states. A queued entry has no started_at yet; an active one is being
// driven by a worker.
const (
	entryQueued     = "queued"
	entryActive     = "active"
	entryFinalizing = "finalizing"
)

// Entry is the transient bookkeeping for a queued or running job. It exists
// only while the job is in flight; callers fall back to the persisted row
// once it is gone.
type Entry struct {
	JobID                 uuid.UUID
	ProjectID             uuid.UUID
	State                 string
	Progress              int
	TotalRecords          *int
	ProcessedRecords      int
	MatchedRecords        int
	UnmatchedRecords      int
	CurrentPhase          string
	StartedAt             time.Time
	CancellationRequested bool
}

// Registry tracks in-flight jobs: a FIFO queue of pending submissions and the
// set of active runs. It is the source of truth for "is this job active right
// now". A single RW lock guards the map and queue; it is held only for the
// map/queue mutation, never across I/O.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	queue   []uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*Entry)}
}

// Enqueue adds the job to the pending queue. Returns false (and changes
// nothing) when the job is already queued or active, so duplicate
// submissions are a no-op.
func (r *Registry) Enqueue(jobID, projectID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[jobID]; exists {
		return false
	}
	r.entries[jobID] = &Entry{
		JobID:        jobID,
		ProjectID:    projectID,
		State:        entryQueued,
		CurrentPhase: "queued",
	}
	r.queue = append(r.queue, jobID)
	return true
}

// PromoteNext pops the queue head and marks it active. Returns false when
// nothing is queued.
func (r *Registry) PromoteNext() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) > 0 {
		jobID := r.queue[0]
		r.queue = r.queue[1:]
		e, ok := r.entries[jobID]
		if !ok || e.State != entryQueued {
			// Removed while queued; skip the stale queue slot.
			continue
		}
		e.State = entryActive
		e.CurrentPhase = "initializing"
		e.StartedAt = time.Now()
		return jobID, true
	}
	return uuid.Nil, false
}

// RemoveQueued drops a job that has not started yet. Returns false when the
// job is unknown or already active.
func (r *Registry) RemoveQueued(jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok || e.State != entryQueued {
		return false
	}
	delete(r.entries, jobID)
	return true
}

// Remove drops the entry entirely. Called once a run reaches a terminal state.
func (r *Registry) Remove(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
}

// RequestCancel flags an active run for cooperative cancellation. Returns
// false when the job is not active.
func (r *Registry) RequestCancel(jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok || e.State != entryActive {
		return false
	}
	e.CancellationRequested = true
	return true
}

// SealIfNotCancelled atomically decides how a run may finish: when a cancel
// was requested before the last batch completed it returns false and the run
// must end Cancelled; otherwise the entry stops accepting cancel requests and
// the run may end Completed. Without this a stop() racing the final batch
// could be acknowledged and then silently lost.
func (r *Registry) SealIfNotCancelled(jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok {
		return true
	}
	if e.CancellationRequested {
		return false
	}
	e.State = entryFinalizing
	return true
}

// CancelRequested reads the cancellation flag. The matching loop polls this
// between batches.
func (r *Registry) CancelRequested(jobID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobID]
	return ok && e.CancellationRequested
}

// Snapshot returns a copy of the entry, if present.
func (r *Registry) Snapshot(jobID uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetPhase updates the current phase label of an active run.
func (r *Registry) SetPhase(jobID uuid.UUID, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[jobID]; ok {
		e.CurrentPhase = phase
	}
}

// SetTotal records the total result count once matching has determined it.
func (r *Registry) SetTotal(jobID uuid.UUID, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[jobID]; ok {
		t := total
		e.TotalRecords = &t
	}
}

// UpdateCounters refreshes the progress counters of an active run.
func (r *Registry) UpdateCounters(jobID uuid.UUID, processed, matched, unmatched, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[jobID]; ok {
		e.ProcessedRecords = processed
		e.MatchedRecords = matched
		e.UnmatchedRecords = unmatched
		e.Progress = progress
	}
}

// ActiveCount reports how many jobs are currently running.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.State != entryQueued {
			n++
		}
	}
	return n
}

// ActiveIDs lists the jobs currently running.
func (r *Registry) ActiveIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id, e := range r.entries {
		if e.State != entryQueued {
			ids = append(ids, id)
		}
	}
	return ids
}

// QueuedIDs lists the jobs waiting for a worker slot, in queue order.
func (r *Registry) QueuedIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for _, id := range r.queue {
		if e, ok := r.entries[id]; ok && e.State == entryQueued {
			ids = append(ids, id)
		}
	}
	return ids
}
