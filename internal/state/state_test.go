package state

import (
	"reflect"
	"testing"

	"github.com/RemiFigea/parkwatch/internal/parking"
)

func TestTable_ZeroValueIsUsable(t *testing.T) {
	var table Table
	if table.Len() != 0 {
		t.Fatalf("expected empty table")
	}
	table.Put("LPA0740", Entry{AvailableSpaces: parking.Spaces(3)})
	if table.Len() != 1 {
		t.Fatalf("expected one entry, got %d", table.Len())
	}
}

func TestTable_NilReceiver(t *testing.T) {
	var table *Table
	if table.Len() != 0 {
		t.Fatalf("nil table should be empty")
	}
	if _, ok := table.Get("x"); ok {
		t.Fatalf("nil table should have no entries")
	}
	if table.Clone().Len() != 0 {
		t.Fatalf("clone of nil table should be empty")
	}
	if err := table.CheckCeiling(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTable_CloneIsIndependent(t *testing.T) {
	table := NewTable()
	spaces := 15
	table.Put("ID1", Entry{AvailableSpaces: &spaces})

	clone := table.Clone()
	clone.Put("ID1", Entry{IsClosed: true, AvailableSpaces: parking.Spaces(0)})
	clone.Put("ID2", Entry{})
	spaces = 99

	entry, ok := table.Get("ID1")
	if !ok {
		t.Fatalf("expected ID1 in original")
	}
	if entry.IsClosed || *entry.AvailableSpaces != 15 {
		t.Fatalf("original mutated: %+v", entry)
	}
	if table.Len() != 1 {
		t.Fatalf("original should still hold one entry, got %d", table.Len())
	}
}

func TestTable_IDsSorted(t *testing.T) {
	table := NewTable()
	for _, id := range []string{"LPA0903", "LPA0100", "LPA0740"} {
		table.Put(id, Entry{})
	}
	want := []string{"LPA0100", "LPA0740", "LPA0903"}
	if got := table.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
}

func TestTable_CheckCeiling(t *testing.T) {
	table := NewTable()
	table.Put("a", Entry{})
	table.Put("b", Entry{})

	if err := table.CheckCeiling(2); err != nil {
		t.Fatalf("at ceiling should pass: %v", err)
	}

	err := table.CheckCeiling(1)
	if err == nil {
		t.Fatalf("expected ceiling error")
	}
	kind, ok := parking.KindOf(err)
	if !ok || kind != parking.KindStateCeilingExceeded {
		t.Fatalf("expected ceiling kind, got %q", kind)
	}
	if !parking.IsFatal(err) {
		t.Fatalf("ceiling violation must be fatal")
	}
}

func TestEntry_Matches(t *testing.T) {
	entry := Entry{IsClosed: false, AvailableSpaces: parking.Spaces(12)}

	cases := []struct {
		name   string
		record parking.StatusRecord
		want   bool
	}{
		{"identical", parking.StatusRecord{AvailableSpaces: parking.Spaces(12)}, true},
		{"spaces differ", parking.StatusRecord{AvailableSpaces: parking.Spaces(11)}, false},
		{"closed differs", parking.StatusRecord{IsClosed: true, AvailableSpaces: parking.Spaces(12)}, false},
		{"spaces missing", parking.StatusRecord{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := entry.Matches(tc.record); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}
