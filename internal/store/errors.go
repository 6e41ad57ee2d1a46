package store

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies the kind of store failure.
type Code int

const (
	// CodeUnknown is a failure the store cannot attribute to a more
	// specific cause.
	CodeUnknown Code = iota

	// CodeInvalid means the input was malformed: an invalid record, an
	// empty zone name, or an unparseable change token.
	CodeInvalid

	// CodeZoneNotFound means the named zone does not exist. It appears
	// both before a zone is first provisioned and after a zone has been
	// torn down for key recovery.
	CodeZoneNotFound

	// CodeUnauthorized means the caller's credentials were rejected.
	CodeUnauthorized

	// CodeUnavailable means the backend could not be reached or timed
	// out. These failures are transient; the operation may succeed if
	// retried.
	CodeUnavailable

	// CodePartialFailure means a batch operation succeeded for some
	// items and failed for others. Per-item errors are in Error.Items.
	CodePartialFailure

	// CodeKeyMaterialLost means sealed fields can no longer be
	// decrypted because the key material they were sealed under is
	// gone. The zone's encrypted contents are unrecoverable; the only
	// way forward is deleting the zone and re-uploading from a local
	// plaintext copy.
	CodeKeyMaterialLost
)

// String returns the stable wire name of the code.
func (c Code) String() string {
	switch c {
	case CodeInvalid:
		return "invalid"
	case CodeZoneNotFound:
		return "zone-not-found"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeUnavailable:
		return "unavailable"
	case CodePartialFailure:
		return "partial-failure"
	case CodeKeyMaterialLost:
		return "key-material-lost"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by Store operations. Op names the
// operation that failed, Zone the zone it targeted (empty for operations
// that are not zone-scoped), and Code the failure kind. For batch
// operations that partially succeed, Items maps each failed record to its
// individual error.
type Error struct {
	Op    string
	Zone  string
	Code  Code
	Items map[RecordID]error
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Zone != "" {
		fmt.Fprintf(&b, " zone %q", e.Zone)
	}
	fmt.Fprintf(&b, ": %s", e.Code)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Items) > 0 {
		fmt.Fprintf(&b, " (%d failed items)", len(e.Items))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the store failure code from an error chain. Errors that
// did not originate in a store report CodeUnknown.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given store failure code.
func IsCode(err error, code Code) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// opErr builds a store error for the given operation.
func opErr(op, zone string, code Code, err error) *Error {
	return &Error{Op: op, Zone: zone, Code: code, Err: err}
}
