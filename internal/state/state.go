package state

import (
	"fmt"
	"sort"

	"github.com/RemiFigea/parkwatch/internal/parking"
)

// DefaultCeiling bounds the number of facilities tracked in one run.
const DefaultCeiling = 30

// Entry is the last recorded observation for a facility.
type Entry struct {
	IsClosed        bool `json:"is_closed"`
	AvailableSpaces *int `json:"available_spaces"`
}

// Matches reports whether record carries the same observable state as the entry.
func (e Entry) Matches(record parking.StatusRecord) bool {
	return parking.SameState(e.IsClosed, e.AvailableSpaces, record.IsClosed, record.AvailableSpaces)
}

// EntryFrom builds an entry from the comparable fields of a record.
func EntryFrom(record parking.StatusRecord) Entry {
	return Entry{
		IsClosed:        record.IsClosed,
		AvailableSpaces: parking.CopySpaces(record.AvailableSpaces),
	}
}

// Table maps facility ids to their last recorded entry. The zero value is empty and usable.
// A Table is owned by a single poll loop and is not safe for concurrent use.
type Table struct {
	entries map[string]Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: map[string]Entry{}}
}

// Len returns the number of tracked facilities.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Get returns the entry for a facility.
func (t *Table) Get(facilityID string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	entry, ok := t.entries[facilityID]
	return entry, ok
}

// Put inserts or overwrites the entry for a facility.
func (t *Table) Put(facilityID string, entry Entry) {
	if t.entries == nil {
		t.entries = map[string]Entry{}
	}
	entry.AvailableSpaces = parking.CopySpaces(entry.AvailableSpaces)
	t.entries[facilityID] = entry
}

// Clone returns a deep copy. Cloning a nil table yields an empty one.
func (t *Table) Clone() *Table {
	clone := NewTable()
	if t == nil {
		return clone
	}
	for id, entry := range t.entries {
		clone.Put(id, entry)
	}
	return clone
}

// IDs returns the tracked facility ids in sorted order.
func (t *Table) IDs() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of all entries keyed by facility id.
func (t *Table) Snapshot() map[string]Entry {
	out := make(map[string]Entry, t.Len())
	if t == nil {
		return out
	}
	for id, entry := range t.entries {
		entry.AvailableSpaces = parking.CopySpaces(entry.AvailableSpaces)
		out[id] = entry
	}
	return out
}

// CheckCeiling fails with a fatal error when the table tracks more than ceiling facilities.
func (t *Table) CheckCeiling(ceiling int) error {
	if ceiling <= 0 || t.Len() <= ceiling {
		return nil
	}
	return &parking.Error{
		Kind: parking.KindStateCeilingExceeded,
		Op:   "check state size",
		Err:  fmt.Errorf("tracking %d facilities, ceiling is %d", t.Len(), ceiling),
	}
}
