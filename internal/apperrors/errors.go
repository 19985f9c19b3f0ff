// Package apperrors defines the error kinds shared across the coordinator
// and node agent, so transport layers (HTTP handlers, the vehicle wire
// protocol) can map a single typed error to the right status/response
// without string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way callers need to branch on it.
type Kind int

const (
	// KindBadRequest covers missing/invalid fields, type mismatches, and
	// out-of-range values caught by input validation before any write.
	KindBadRequest Kind = iota
	// KindNotFound covers an absent node, edge, or routing entry.
	KindNotFound
	// KindNotConnected covers update_traffic calls naming a node that is
	// not an endpoint of the given edge.
	KindNotConnected
	// KindNoRoute covers a vehicle query for a destination the responder's
	// cached routing table has no entry for.
	KindNoRoute
	// KindDetectorFailure covers a detector call that errored or returned
	// malformed output.
	KindDetectorFailure
	// KindStoreFailure covers a transient backing-store error; callers may
	// retry.
	KindStoreFailure
	// KindConflict covers a unique-key violation on create.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	case KindNotConnected:
		return "NotConnected"
	case KindNoRoute:
		return "NoRoute"
	case KindDetectorFailure:
		return "DetectorFailure"
	case KindStoreFailure:
		return "StoreFailure"
	case KindConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// Error is the single error type surfaced by the store, the DV engine, the
// coordinator request surface, and the vehicle responder. Transport layers
// switch on Kind(); everything else just reads Error().
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, apperrors.New(KindNotFound, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error that carries an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, returning
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
