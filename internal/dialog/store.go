package dialog

import (
	"errors"
	"sync"
)

// ErrCapacity is returned by Store.Create when max-concurrent-sessions
// would be exceeded.
var ErrCapacity = errors.New("dialog: capacity exceeded")

// ErrExists is returned when a call-id is already present: at most one
// dialog exists per call identifier.
var ErrExists = errors.New("dialog: call-id already exists")

// Store is the concurrent call-id -> Dialog map. Every mutating operation
// is guarded by a single mutex; dialogs are small and short-lived enough
// that per-key locks would only add complexity.
type Store struct {
	mu       sync.Mutex
	dialogs  map[string]*Dialog
	maxCalls int
}

func NewStore(maxConcurrentSessions int) *Store {
	return &Store{
		dialogs:  make(map[string]*Dialog),
		maxCalls: maxConcurrentSessions,
	}
}

// Create registers a new dialog, enforcing call-id uniqueness and the
// capacity cap.
func (s *Store) Create(d *Dialog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dialogs[d.CallID]; exists {
		return ErrExists
	}
	if s.maxCalls > 0 && len(s.dialogs) >= s.maxCalls {
		return ErrCapacity
	}
	s.dialogs[d.CallID] = d
	return nil
}

// Get returns the dialog for callID, or nil if none exists.
func (s *Store) Get(callID string) *Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogs[callID]
}

// Len reports the current dialog count, for capacity checks and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialogs)
}

// All returns a snapshot of every live dialog, for shutdown hangup-sweep
// and disconnect-driven teardown.
func (s *Store) All() []*Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Dialog, 0, len(s.dialogs))
	for _, d := range s.dialogs {
		out = append(out, d)
	}
	return out
}

// BeginTerminate marks the dialog Terminating and reports its prior state
// plus whether the caller is the one that should run the cleanup side
// effects (media-relay delete, store removal). A dialog already
// Terminating or Terminated returns false, making cleanup idempotent even
// when two paths race (BYE arriving concurrently with a
// browser-disconnect teardown).
func (s *Store) BeginTerminate(callID string) (d *Dialog, prev State, shouldCleanup bool) {
	s.mu.Lock()
	d, ok := s.dialogs[callID]
	s.mu.Unlock()
	if !ok {
		return nil, Terminated, false
	}
	prev, ok = d.BeginTerminate()
	return d, prev, ok
}

// Remove deletes the dialog from the store. Callers must already have run
// BeginTerminate (or otherwise hold the authority to finish cleanup).
func (s *Store) Remove(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dialogs, callID)
}
