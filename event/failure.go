package event

import (
	"context"
	"errors"

	"github.com/helixrun/conduit"
)

// FailureKind classifies a terminal failure so coordinators can match
// on the taxonomy without string comparison.
type FailureKind string

const (
	// KindBusiness is anything thrown by handler logic.
	KindBusiness FailureKind = "business"
	// KindCancelled is a cooperative cancellation. Never retried.
	KindCancelled FailureKind = "cancelled"
	// KindTimeout means the timeout race fired before the handler finished.
	KindTimeout FailureKind = "timeout"
	// KindHandlerNotFound is a routing failure. Never retried.
	KindHandlerNotFound FailureKind = "handler_not_found"
	// KindPoisoned means an offline job exceeded its retry budget and was
	// permanently quarantined.
	KindPoisoned FailureKind = "poisoned"
)

// Failure is the terminal failure event for a job. Exactly one Failure
// or Result is published per dispatch, never both.
type Failure struct {
	Meta

	// Job is the registered job type name that failed.
	Job string `json:"job"`

	// Kind classifies the failure.
	Kind FailureKind `json:"kind"`

	// Attempts is how many times the handler was invoked.
	Attempts int `json:"attempts"`

	// Cause is the underlying error. Nil only after deserialization.
	Cause error `json:"-"`

	// Message is the error text, kept for serialized form.
	Message string `json:"message"`
}

// NewFailure builds a terminal failure event, classifying err against
// the core taxonomy.
func NewFailure(meta Meta, jobName string, err error, attempts int) Failure {
	return Failure{
		Meta:     meta,
		Job:      jobName,
		Kind:     Classify(err),
		Attempts: attempts,
		Cause:    err,
		Message:  err.Error(),
	}
}

// Classify maps an error to its FailureKind using errors.Is, so wrapped
// errors classify the same as their sentinels.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, conduit.ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, conduit.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, conduit.ErrHandlerNotFound):
		return KindHandlerNotFound
	case errors.Is(err, conduit.ErrPoisoned):
		return KindPoisoned
	default:
		return KindBusiness
	}
}
