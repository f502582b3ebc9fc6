// Package parking holds the records exchanged between the feed, the differ and the sink.
package parking

import "time"

// StatusRecord is one facility observation from a single snapshot.
type StatusRecord struct {
	FacilityID      string    `json:"facility_id"`
	IsClosed        bool      `json:"is_closed"`
	AvailableSpaces *int      `json:"available_spaces"`
	ObservedAt      time.Time `json:"observed_at"`
}

// SameState reports whether two records carry the same closed flag and space count.
func SameState(closedA bool, spacesA *int, closedB bool, spacesB *int) bool {
	return closedA == closedB && SpacesEqual(spacesA, spacesB)
}

// SpacesEqual compares two optional space counts. Two missing counts are equal.
func SpacesEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Spaces returns a pointer to a copy of n.
func Spaces(n int) *int {
	return &n
}

// CopySpaces returns an independent copy of an optional space count.
func CopySpaces(spaces *int) *int {
	if spaces == nil {
		return nil
	}
	return Spaces(*spaces)
}
