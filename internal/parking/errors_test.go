package parking

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindFatal(t *testing.T) {
	cases := []struct {
		kind  Kind
		fatal bool
	}{
		{KindUpstreamUnavailable, false},
		{KindSchemaDrift, false},
		{KindPersistFailure, false},
		{KindStateCeilingExceeded, true},
		{KindMissingCredential, true},
		{KindConnectionFailed, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			if got := tc.kind.Fatal(); got != tc.fatal {
				t.Fatalf("Fatal() = %v, want %v", got, tc.fatal)
			}
		})
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("tick 4: %w", Wrap(KindPersistFailure, "persist changes", cause))

	kind, ok := KindOf(err)
	if !ok || kind != KindPersistFailure {
		t.Fatalf("expected persist failure kind, got %q (ok=%v)", kind, ok)
	}
	if IsFatal(err) {
		t.Fatalf("persist failure must not be fatal")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("expected plain error to be unclassified")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatalf("plain error must not be fatal")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindSchemaDrift, "normalize", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestErrorMessageListsMissingFields(t *testing.T) {
	err := &Error{Kind: KindSchemaDrift, Op: "normalize snapshot", Missing: []string{"dct:date", "ferme"}}
	msg := err.Error()
	if !strings.Contains(msg, "schema_drift") || !strings.Contains(msg, "dct:date, ferme") {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestSpacesEqual(t *testing.T) {
	if !SpacesEqual(nil, nil) {
		t.Fatalf("two missing counts should be equal")
	}
	if SpacesEqual(nil, Spaces(0)) || SpacesEqual(Spaces(0), nil) {
		t.Fatalf("missing and zero should differ")
	}
	if !SpacesEqual(Spaces(12), Spaces(12)) {
		t.Fatalf("equal counts should compare equal")
	}
	if SpacesEqual(Spaces(12), Spaces(13)) {
		t.Fatalf("different counts should differ")
	}
}
