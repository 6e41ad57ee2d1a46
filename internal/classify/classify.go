// Package classify maps low-level store failures onto the handful of
// outcomes a sync client actually branches on.
//
// The taxonomy is deliberately small:
//
//   - KeyMaterialLost: sealed fields can no longer be decrypted. Retrying
//     cannot help; the zone must be deleted, re-provisioned, and re-filled
//     from the local plaintext cache. That recovery is operator-invoked,
//     never automatic.
//   - PartialFailure: a batch landed for some items and failed for
//     others, with per-item detail preserved.
//   - Transient: the store was unreachable, locked, or slow. Worth
//     retrying as-is.
//   - Unauthorized: credentials were rejected. Retrying without new
//     credentials is pointless.
//   - Unknown: everything else, passed through for logging.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/veildb/zonesync/internal/store"
)

// Kind is the classification of a failure.
type Kind int

const (
	Unknown Kind = iota
	Transient
	Unauthorized
	PartialFailure
	KeyMaterialLost
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Unauthorized:
		return "unauthorized"
	case PartialFailure:
		return "partial-failure"
	case KeyMaterialLost:
		return "key-material-lost"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation failing with this kind may
// succeed if simply retried.
func (k Kind) Retryable() bool {
	return k == Transient
}

// Classified couples an error with its kind. For partial failures, Items
// carries the per-record errors from the underlying batch.
type Classified struct {
	Kind  Kind
	Err   error
	Items map[store.RecordID]error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// Classify inspects an error chain and returns its classification.
// A nil error classifies to nil. Already-classified errors pass through
// unchanged.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}

	var c *Classified
	if errors.As(err, &c) {
		return c
	}

	var se *store.Error
	if errors.As(err, &se) {
		switch se.Code {
		case store.CodeKeyMaterialLost:
			return &Classified{Kind: KeyMaterialLost, Err: err}
		case store.CodePartialFailure:
			return &Classified{Kind: PartialFailure, Err: err, Items: se.Items}
		case store.CodeUnauthorized:
			return &Classified{Kind: Unauthorized, Err: err}
		case store.CodeUnavailable:
			return &Classified{Kind: Transient, Err: err}
		}
		// CodeUnknown and friends fall through: the wrapped cause may
		// still reveal a transient or auth failure.
	}

	return &Classified{Kind: heuristicKind(err), Err: err}
}

// heuristicKind probes errors that carry no store code: typed network
// and context errors first, then message sniffing as a last resort.
func heuristicKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg,
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"timeout",
		"temporarily unavailable",
		"database is locked",
		"try again",
	) {
		return Transient
	}
	if containsAny(msg,
		"unauthorized",
		"unauthenticated",
		"permission denied",
		"access denied",
		"forbidden",
		"credential",
	) {
		return Unauthorized
	}

	return Unknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
