package query

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Listener is invoked after every notifying transition of the key it was
// subscribed to. It runs on the goroutine that performed the transition and
// should read the new state through Store.GetEntry.
type Listener func()

type subscription struct {
	id uint64
	fn Listener
}

// keyState owns one key's entry. mu guards the read-check-write sequence of
// every mutation so that versions are compared and assigned atomically.
type keyState struct {
	mu        sync.Mutex
	entry     Entry
	startedAt time.Time
	subs      []subscription
	nextSubID uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRecorder sets the Recorder notified of fetch lifecycle events.
func WithRecorder(r Recorder) StoreOption {
	return func(s *Store) {
		if r != nil {
			s.recorder = r
		}
	}
}

// Store is the single source of truth for query state. Entries are created
// lazily as Idle and are never removed.
type Store struct {
	logger   zerolog.Logger
	recorder Recorder

	mu   sync.RWMutex
	keys map[Key]*keyState
}

// NewStore creates an empty Store. The caller owns its lifetime and hands it
// to every Controller that should share state.
func NewStore(logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		logger:   logger.With().Str("component", "QueryStore").Logger(),
		recorder: NoopRecorder{},
		keys:     make(map[Key]*keyState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// state returns the keyState for key, creating it on first reference.
func (s *Store) state(key Key) *keyState {
	s.mu.RLock()
	ks, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		return ks
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check: another goroutine may have created it meanwhile.
	if ks, ok = s.keys[key]; ok {
		return ks
	}
	ks = &keyState{entry: Entry{Status: Idle, UpdatedAt: time.Now()}}
	s.keys[key] = ks
	s.logger.Debug().Str("key", string(key)).Msg("Query entry created.")
	return ks
}

// GetEntry returns a copy of the current entry for key.
func (s *Store) GetEntry(key Key) Entry {
	ks := s.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.entry
}

// Keys returns every key referenced so far, sorted.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// BeginFetch moves key into Loading and returns the version owning the new
// fetch. If a fetch is already in flight its version is returned with
// started set to false and nothing changes.
func (s *Store) BeginFetch(key Key) (version uint64, started bool) {
	ks := s.state(key)

	ks.mu.Lock()
	if ks.entry.Status == Loading {
		version = ks.entry.Version
		ks.mu.Unlock()
		s.recorder.FetchDeduped(key)
		s.logger.Debug().Str("key", string(key)).Uint64("version", version).Msg("Fetch already in flight, deduplicated.")
		return version, false
	}
	ks.entry.Version++
	ks.entry.Status = Loading
	ks.entry.UpdatedAt = time.Now()
	ks.startedAt = ks.entry.UpdatedAt
	version = ks.entry.Version
	subs := ks.listeners()
	ks.mu.Unlock()

	s.recorder.FetchStarted(key)
	s.logger.Debug().Str("key", string(key)).Uint64("version", version).Msg("Fetch started.")
	notify(subs)
	return version, true
}

// ResolveSuccess records data for the fetch identified by version. A stale
// version is ignored and false is returned.
func (s *Store) ResolveSuccess(key Key, version uint64, data any) bool {
	return s.resolve(key, version, func(e *Entry) {
		e.Status = Success
		e.Data = data
		e.HasData = true
		e.Err = nil
	}, OutcomeSuccess)
}

// ResolveError records err for the fetch identified by version, leaving the
// last successful data in place. A stale version is ignored and false is
// returned.
func (s *Store) ResolveError(key Key, version uint64, err error) bool {
	return s.resolve(key, version, func(e *Entry) {
		e.Status = Error
		e.Err = err
	}, OutcomeError)
}

func (s *Store) resolve(key Key, version uint64, apply func(*Entry), outcome Outcome) bool {
	ks := s.state(key)

	ks.mu.Lock()
	if ks.entry.Version != version || ks.entry.Status != Loading {
		current := ks.entry.Version
		ks.mu.Unlock()
		s.recorder.StaleDiscarded(key)
		s.logger.Debug().
			Str("key", string(key)).
			Uint64("version", version).
			Uint64("current_version", current).
			Msg("Discarding stale fetch result.")
		return false
	}
	apply(&ks.entry)
	ks.entry.UpdatedAt = time.Now()
	elapsed := ks.entry.UpdatedAt.Sub(ks.startedAt)
	subs := ks.listeners()
	ks.mu.Unlock()

	s.recorder.FetchResolved(key, outcome, elapsed)
	s.logger.Debug().
		Str("key", string(key)).
		Uint64("version", version).
		Str("outcome", string(outcome)).
		Dur("elapsed", elapsed).
		Msg("Fetch resolved.")
	notify(subs)
	return true
}

// Seed hydrates an Idle key that has never held data, typically from a
// persisted snapshot. The version is left untouched so any fetch started
// afterwards still supersedes it.
func (s *Store) Seed(key Key, data any) bool {
	ks := s.state(key)

	ks.mu.Lock()
	if ks.entry.Status != Idle || ks.entry.HasData {
		ks.mu.Unlock()
		return false
	}
	ks.entry.Status = Success
	ks.entry.Data = data
	ks.entry.HasData = true
	ks.entry.UpdatedAt = time.Now()
	subs := ks.listeners()
	ks.mu.Unlock()

	s.logger.Debug().Str("key", string(key)).Msg("Query entry seeded from snapshot.")
	notify(subs)
	return true
}

// Subscribe registers fn for notifications on key. The returned function
// removes it and may be called any number of times.
func (s *Store) Subscribe(key Key, fn Listener) (unsubscribe func()) {
	ks := s.state(key)

	ks.mu.Lock()
	ks.nextSubID++
	id := ks.nextSubID
	ks.subs = append(ks.subs, subscription{id: id, fn: fn})
	ks.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ks.mu.Lock()
			defer ks.mu.Unlock()
			for i, sub := range ks.subs {
				if sub.id == id {
					ks.subs = append(ks.subs[:i:i], ks.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// listeners copies the current subscriber list. Must be called with mu held.
func (ks *keyState) listeners() []Listener {
	if len(ks.subs) == 0 {
		return nil
	}
	out := make([]Listener, len(ks.subs))
	for i, sub := range ks.subs {
		out[i] = sub.fn
	}
	return out
}

func notify(listeners []Listener) {
	for _, fn := range listeners {
		fn()
	}
}
