// Package progress tracks consolidation run progress for external polling.
package progress

import (
	"sync"
	"time"
)

// Phase labels reported over the polling interface.
const (
	PhasePending       = "Pending"
	PhaseInitializing  = "Initializing"
	PhaseExtracting    = "Extracting"
	PhaseImporting     = "Importing"
	PhaseConsolidating = "Consolidating"
	PhaseFinalizing    = "Finalizing"
	PhaseCompleted     = "Completed"
	PhaseFailed        = "Failed"
	PhaseError         = "Error"
)

// IsTerminal reports whether the phase ends a run.
func IsTerminal(phase string) bool {
	switch phase {
	case PhaseCompleted, PhaseFailed, PhaseError:
		return true
	}
	return false
}

// Snapshot is the last-known progress state of one run.
type Snapshot struct {
	Percent   int       `json:"percent"`
	Phase     string    `json:"phase"`
	Detail    string    `json:"detail"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker records and serves run progress. Updates are last-writer-wins
// per run id; readers always observe the most recently written snapshot.
type Tracker interface {
	Update(runID string, percent int, phase, detail string)
	Get(runID string) (Snapshot, bool)
}

// Registry is the default Tracker: a mutex-guarded map bounded by evicting
// the oldest terminal runs once capacity is exceeded. Entries never persist
// across a process restart.
type Registry struct {
	mu       sync.RWMutex
	runs     map[string]Snapshot
	order    []string // insertion order, for eviction
	capacity int
}

// NewRegistry creates a registry retaining at most capacity runs; zero or
// negative means an unbounded registry.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		runs:     make(map[string]Snapshot),
		capacity: capacity,
	}
}

// Update records the run's latest progress.
func (r *Registry) Update(runID string, percent int, phase, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.runs[runID]; !known {
		r.order = append(r.order, runID)
	}
	r.runs[runID] = Snapshot{
		Percent:   percent,
		Phase:     phase,
		Detail:    detail,
		UpdatedAt: time.Now(),
	}
	r.evictLocked()
}

// Get returns the run's last-known snapshot. Unknown runs yield a pending
// snapshot and false.
func (r *Registry) Get(runID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if snap, ok := r.runs[runID]; ok {
		return snap, true
	}
	return Snapshot{Phase: PhasePending}, false
}

// evictLocked drops the oldest terminal runs until within capacity. Active
// runs are never evicted, even when the registry is over capacity.
func (r *Registry) evictLocked() {
	if r.capacity <= 0 || len(r.runs) <= r.capacity {
		return
	}

	kept := r.order[:0]
	excess := len(r.runs) - r.capacity
	for _, id := range r.order {
		if excess > 0 && IsTerminal(r.runs[id].Phase) {
			delete(r.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
