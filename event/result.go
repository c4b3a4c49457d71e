package event

// Result is the terminal success event for a job producing values of
// type R. Jobs that do not supply their own event constructor report
// through this type.
type Result[R any] struct {
	Meta

	// Job is the registered job type name that produced this result.
	Job string `json:"job"`

	// Value is the typed result payload.
	Value R `json:"value"`

	// Source tags where Value came from: fresh, cached, or optimistic.
	Source Source `json:"source"`
}

// NewResult builds a terminal success event.
func NewResult[R any](meta Meta, jobName string, value R, source Source) Result[R] {
	return Result[R]{Meta: meta, Job: jobName, Value: value, Source: source}
}

// Transient reports whether this result is an optimistic placeholder
// rather than a real outcome.
func (r Result[R]) Transient() bool { return r.Source == SourceOptimistic }

// Progress reports partial completion of a long-running job. Any number
// of Progress events may be published before the terminal event.
type Progress struct {
	Meta

	// Fraction is completion in [0, 1].
	Fraction float64 `json:"fraction"`

	// Message is an optional human-readable status line.
	Message string `json:"message,omitempty"`
}

// NewProgress builds a progress event.
func NewProgress(meta Meta, fraction float64, message string) Progress {
	return Progress{Meta: meta, Fraction: fraction, Message: message}
}

// Transient always reports true; progress never ends a dispatch.
func (Progress) Transient() bool { return true }
