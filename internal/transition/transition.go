package transition

import (
	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/state"
)

// Change is a record judged different from the facility's last recorded entry.
// Previous is nil on first sighting.
type Change struct {
	Record   parking.StatusRecord
	Previous *state.Entry
}

// FirstSighting reports whether the facility had no entry before this change.
func (c Change) FirstSighting() bool {
	return c.Previous == nil
}

// ClosureFlipped reports whether the closed flag changed against a known previous entry.
func (c Change) ClosureFlipped() bool {
	return c.Previous != nil && c.Previous.IsClosed != c.Record.IsClosed
}

// DetectChanges compares batch against prev in batch order and returns the changed records
// together with the updated table. prev is never modified. When the updated table exceeds
// ceiling the error is fatal and no changes are returned.
func DetectChanges(batch []parking.StatusRecord, prev *state.Table, ceiling int) ([]Change, *state.Table, error) {
	updated := prev.Clone()
	changes := make([]Change, 0)

	for _, record := range batch {
		existing, seen := updated.Get(record.FacilityID)
		if seen && existing.Matches(record) {
			continue
		}

		change := Change{Record: record}
		if seen {
			previous := existing
			change.Previous = &previous
		}
		changes = append(changes, change)
		updated.Put(record.FacilityID, state.EntryFrom(record))
	}

	if err := updated.CheckCeiling(ceiling); err != nil {
		return nil, nil, err
	}

	return changes, updated, nil
}

// Records projects changes back to the status records in order.
func Records(changes []Change) []parking.StatusRecord {
	records := make([]parking.StatusRecord, 0, len(changes))
	for _, change := range changes {
		records = append(records, change.Record)
	}
	return records
}

// ClosureFlips returns the changes whose closed flag flipped.
func ClosureFlips(changes []Change) []Change {
	flips := make([]Change, 0)
	for _, change := range changes {
		if change.ClosureFlipped() {
			flips = append(flips, change)
		}
	}
	return flips
}
