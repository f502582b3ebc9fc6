package healthcheck

import (
	"sync"
	"time"

	"github.com/RemiFigea/parkwatch/internal/state"
)

// Snapshot describes the latest tick timing details.
type Snapshot struct {
	LastTickTime      *time.Time `json:"last_tick_time"`
	TickDurationMS    int64      `json:"tick_duration_ms"`
	Tick              uint64     `json:"tick"`
	TrackedFacilities int        `json:"tracked_facilities"`
	LastError         string     `json:"last_error,omitempty"`
}

// Tracker records tick timing and the published state table for HTTP endpoints.
type Tracker struct {
	mu           sync.RWMutex
	lastTick     time.Time
	tickDuration time.Duration
	tick         uint64
	lastErr      string
	table        *state.Table
	ready        bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordTick updates tick timing. A nil err marks the tracker ready and publishes a copy of table.
func (t *Tracker) RecordTick(duration time.Duration, tick uint64, table *state.Table, err error) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	var published *state.Table
	if err == nil {
		published = table.Clone()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTick = now
	t.tickDuration = duration
	t.tick = tick
	if err != nil {
		t.lastErr = err.Error()
		return
	}
	t.lastErr = ""
	t.table = published
	t.ready = true
}

// Publish replaces the published state table without recording a tick.
func (t *Tracker) Publish(table *state.Table) {
	if t == nil {
		return
	}
	published := table.Clone()
	t.mu.Lock()
	t.table = published
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastTick.IsZero() {
		value := t.lastTick
		last = &value
	}
	return Snapshot{
		LastTickTime:      last,
		TickDurationMS:    int64(t.tickDuration / time.Millisecond),
		Tick:              t.tick,
		TrackedFacilities: t.table.Len(),
		LastError:         t.lastErr,
	}
}

// State returns a copy of the published state table entries.
func (t *Tracker) State() map[string]state.Entry {
	if t == nil {
		return map[string]state.Entry{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.table.Snapshot()
}

// Ready reports whether at least one successful tick has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last tick completed within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTick.IsZero() {
		return false
	}
	return now.Sub(t.lastTick) <= 2*pollInterval
}
