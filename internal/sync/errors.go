package sync

import (
	"errors"

	"github.com/harborlight/marksync/internal/identity"
)

// Sentinel errors for the failure modes that abort or gate a pass.
var (
	// ErrAuthenticationRequired means no valid session exists. The pass
	// aborts before any read or write; the user must re-authenticate.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrNetworkUnavailable means the remote store could not be reached.
	// Recoverable; safe to retry on the next scheduled trigger.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// ErrorClass buckets a candidate error for reporting and retry policy.
type ErrorClass int

const (
	// ClassAuthentication covers missing or expired sessions.
	ClassAuthentication ErrorClass = iota
	// ClassNetwork covers transport failures reaching the remote store.
	ClassNetwork
	// ClassRemoteStore covers remote-store rejections (permission, validation).
	ClassRemoteStore
	// ClassLocalStore covers on-device persistence failures.
	ClassLocalStore
	// ClassIdentity covers key-construction and write-back failures. These
	// indicate schema or logic defects and are logged loudly.
	ClassIdentity
)

// String returns the class label used in logs and reports.
func (c ErrorClass) String() string {
	switch c {
	case ClassAuthentication:
		return "authentication"
	case ClassNetwork:
		return "network"
	case ClassRemoteStore:
		return "remote_store"
	case ClassLocalStore:
		return "local_store"
	case ClassIdentity:
		return "identity_mapping"
	default:
		return "unknown"
	}
}

// classedError pins a candidate error to a class when the phase fallback
// would misattribute it: a conflict write lands on whichever side lost, so
// the phase alone does not say which store failed.
type classedError struct {
	class ErrorClass
	err   error
}

func (e *classedError) Error() string { return e.err.Error() }

func (e *classedError) Unwrap() error { return e.err }

// classify buckets err, falling back to the class implied by the phase the
// error occurred in when no more specific signal is present.
func classify(err error, fallback ErrorClass) ErrorClass {
	var mapErr *identity.MappingError
	var classed *classedError
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return ClassAuthentication
	case errors.Is(err, ErrNetworkUnavailable):
		return ClassNetwork
	case errors.As(err, &mapErr):
		return ClassIdentity
	case errors.As(err, &classed):
		return classed.class
	default:
		return fallback
	}
}
