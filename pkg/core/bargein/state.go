package bargein

import (
	"sync"
	"time"

	"github.com/vango-go/bargein/pkg/core/cache"
)

// State is a snapshot of the overlap-window state shared between the owning
// voice session and the detector. The voice session owns it; the detector
// only reads and writes through a StateStore.
type State struct {
	// OverlapSpeechStarted is true while agent speech and candidate user
	// speech coexist and interruption evaluation is open.
	OverlapSpeechStarted bool

	// OverlapSpeechStartedAt is when the current overlap window opened, nil
	// when no window has opened.
	OverlapSpeechStartedAt *time.Time

	// Spans holds in-flight and recently completed request spans, keyed by
	// their millisecond send timestamp. The bound makes it a sliding window:
	// completed spans age out by FIFO eviction, never by explicit deletes.
	Spans *cache.Bounded[int64, *Span]
}

// StateUpdate is a partial update; nil fields are left as they are.
type StateUpdate struct {
	OverlapSpeechStarted   *bool
	OverlapSpeechStartedAt *time.Time
}

// StateStore gives the detector access to session state it does not own.
type StateStore interface {
	// State returns a snapshot of the current state.
	State() State

	// Apply merges the defined fields of the update into the state.
	Apply(StateUpdate)
}

// DefaultSpanCacheSize bounds the span cache when the caller does not choose
// a size. Responses arriving after their span was evicted fall back to
// approximate timing, so sizing trades memory against timing precision.
const DefaultSpanCacheSize = 128

// MemoryStateStore is an in-process StateStore, safe for concurrent use.
type MemoryStateStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStateStore creates a store with a span cache of the given
// capacity. Zero or negative selects DefaultSpanCacheSize.
func NewMemoryStateStore(spanCacheSize int) *MemoryStateStore {
	if spanCacheSize < 1 {
		spanCacheSize = DefaultSpanCacheSize
	}
	return &MemoryStateStore{
		state: State{
			Spans: cache.NewBounded[int64, *Span](spanCacheSize),
		},
	}
}

// State implements StateStore.
func (m *MemoryStateStore) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply implements StateStore.
func (m *MemoryStateStore) Apply(u StateUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.OverlapSpeechStarted != nil {
		m.state.OverlapSpeechStarted = *u.OverlapSpeechStarted
	}
	if u.OverlapSpeechStartedAt != nil {
		m.state.OverlapSpeechStartedAt = u.OverlapSpeechStartedAt
	}
}
