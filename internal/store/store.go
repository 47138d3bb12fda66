// Package store keeps the desired light state and the paired device registry,
// optionally persisted to SQLite.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gomipow/internal/light"
)

// ErrUnknownDevice is returned for device ids that are not registered.
var ErrUnknownDevice = errors.New("store: unknown device")

// persistTimeout bounds a single persistence call.
const persistTimeout = 5 * time.Second

// StatePersister saves and restores light states.
type StatePersister interface {
	SaveState(ctx context.Context, id string, s light.State) error
	LoadState(ctx context.Context, id string) (light.State, bool, error)
	DeleteState(ctx context.Context, id string) error
}

// Store maps device ids to their current light state. All mutations are
// serialized, so overlapping merges on one device apply in call order.
type Store struct {
	mu      sync.Mutex
	states  map[string]light.State
	persist StatePersister // nil keeps state in memory only
}

// New creates a Store. p may be nil.
func New(p StatePersister) *Store {
	return &Store{
		states:  make(map[string]light.State),
		persist: p,
	}
}

// Get returns a copy of the device's state, or the default state if the
// device has none.
func (s *Store) Get(id string) light.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return light.DefaultState()
	}
	return st.Clone()
}

// Merge applies p to the device's state and returns the new effective state.
// A device without state starts from the defaults.
func (s *Store) Merge(id string, p light.Patch) light.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		st = light.DefaultState()
	}
	st = p.Apply(st)
	s.states[id] = st
	s.save(id, st)
	return st.Clone()
}

// Init sets up state for a device. A previously persisted state takes
// precedence over defaults.
func (s *Store) Init(id string, defaults light.State) light.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := defaults.Clone()
	restored := false
	if s.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		saved, ok, err := s.persist.LoadState(ctx, id)
		cancel()
		switch {
		case err != nil:
			slog.Warn("[STORE] load state failed", "id", id, "error", err)
		case ok:
			st = saved
			restored = true
		}
	}
	s.states[id] = st
	if !restored {
		s.save(id, st)
	}
	slog.Debug("[STORE] state initialized", "id", id, "restored", restored)
	return st.Clone()
}

// Remove forgets the device's state.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, id)
	if s.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persist.DeleteState(ctx, id); err != nil {
		slog.Warn("[STORE] delete state failed", "id", id, "error", err)
	}
}

// save persists st. Failures are logged; the in-memory state stays.
// Callers hold s.mu.
func (s *Store) save(id string, st light.State) {
	if s.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persist.SaveState(ctx, id, st); err != nil {
		slog.Warn("[STORE] save state failed", "id", id, "error", err)
	}
}
