package runs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cinegen/internal/generation"
)

// Status is the coarse lifecycle of a run as the API reports it.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Run tracks one batch from trigger to download. Runs live in process memory
// only; the service deliberately has no database.
type Run struct {
	ID        string
	CreatedAt time.Time
	Status    Status
	Completed int
	Total     int
	Result    *generation.Result
	Err       error

	cancel context.CancelFunc
}

// Store is a mutex-guarded registry of runs keyed by id.
type Store struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewStore returns an empty registry.
func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Create registers a new running batch and returns its id. The cancel
// function is invoked by Cancel to stop in-flight job polls.
func (s *Store) Create(total int, cancel context.CancelFunc) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.runs[id] = &Run{
		ID:        id,
		CreatedAt: time.Now(),
		Status:    StatusRunning,
		Total:     total,
		cancel:    cancel,
	}
	return id
}

// Get returns a snapshot of a run. The embedded Result is shared but
// read-only once the run finished.
func (s *Store) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// SetProgress records how many jobs have reached a terminal state.
func (s *Store) SetProgress(id string, completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[id]; ok {
		run.Completed = completed
		run.Total = total
	}
}

// Finish attaches the final result (or the fatal pre-flight error) and moves
// the run to a terminal status. A cancelled run stays cancelled.
func (s *Store) Finish(id string, result *generation.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return
	}
	run.Result = result
	run.Err = err
	if run.Status != StatusCancelled {
		run.Status = StatusDone
	}
}

// Cancel stops a running batch. Jobs that already succeeded keep their
// results; reporting false means the run is unknown or already terminal.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok || run.Status != StatusRunning {
		return false
	}
	run.Status = StatusCancelled
	if run.cancel != nil {
		run.cancel()
	}
	return true
}
