// Package apperr classifies pipeline failures so callers can tell a run that
// should simply be retried from one that needs somebody to look at the input.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tells the caller what to do about a failure.
type Kind string

const (
	// KindRetryable failures are transient: I/O, the query engine, the network.
	KindRetryable Kind = "RETRYABLE"
	// KindPermanent failures will repeat until the input or config is fixed.
	KindPermanent Kind = "PERMANENT"
)

// Stage names used in errors and logs.
const (
	StageDiscover  = "discover"
	StageRead      = "read"
	StageTransform = "transform"
	StageReport    = "report"
	StagePartition = "partition"
	StageMerge     = "merge"
	StagePublish   = "publish"
	StageWarehouse = "warehouse"
	StageLedger    = "ledger"
)

// Error is a stage failure with a retry classification.
type Error struct {
	Stage string
	Kind  Kind
	File  string
	Err   error
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("[%s] %s %s: %v", e.Kind, e.Stage, e.File, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a transient failure of stage.
func Retryable(stage string, err error) *Error {
	return &Error{Stage: stage, Kind: KindRetryable, Err: err}
}

// Permanent wraps err as a failure that needs manual intervention.
func Permanent(stage string, err error) *Error {
	return &Error{Stage: stage, Kind: KindPermanent, Err: err}
}

// WithFile records the input file the failure belongs to.
func (e *Error) WithFile(name string) *Error {
	e.File = name
	return e
}

// ErrMalformed marks input that cannot be parsed into listings. Wrapping it
// anywhere in a chain makes KindOf report the failure as permanent.
var ErrMalformed = errors.New("malformed input")

// KindOf reports the classification of err. Unclassified errors are treated
// as retryable unless they wrap ErrMalformed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrMalformed) {
		return KindPermanent
	}
	return KindRetryable
}

// IsRetryable is shorthand for KindOf(err) == KindRetryable.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}

// Classify wraps err for stage, choosing the kind from the error chain.
func Classify(stage string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, ErrMalformed) {
		return Permanent(stage, err)
	}
	return Retryable(stage, err)
}
