package parking

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures so the supervisor can decide between skipping a tick and stopping.
type Kind string

const (
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindSchemaDrift          Kind = "schema_drift"
	KindPersistFailure       Kind = "persist_failure"
	KindStateCeilingExceeded Kind = "state_ceiling_exceeded"
	KindMissingCredential    Kind = "missing_credential"
	KindConnectionFailed     Kind = "connection_failed"
)

// Fatal reports whether errors of this kind must stop the process.
func (k Kind) Fatal() bool {
	switch k {
	case KindStateCeilingExceeded, KindMissingCredential, KindConnectionFailed:
		return true
	default:
		return false
	}
}

// Error is a classified failure. Missing is set for schema drift.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Missing []string
}

func (e *Error) Error() string {
	msg := e.Op
	if len(e.Missing) > 0 {
		msg = fmt.Sprintf("%s: missing fields [%s]", msg, strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}

// IsFatal reports whether err carries a fatal kind.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind.Fatal()
}
