// Package metrics records operational metrics from the converter.
//
// It exposes a narrow Backend interface (counters and duration
// observations) behind a global that defaults to a no-op, so every call is
// safe when no backend is configured. Concrete systems live in subpackages
// (prompush, datadog) and are installed with SetBackend at startup.
package metrics

import "time"

// Metric names shared with the backends.
const (
	StepTotal           = "changesets_step_total"
	StepDurationSeconds = "changesets_step_duration_seconds"
	RecordsTotal        = "changesets_records_total"
	BatchesTotal        = "changesets_batches_total"
	ErrorsTotal         = "changesets_errors_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of step and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments the record counter for the given job and kind, e.g.
// "changesets" for projected records or "skipped" for elements outside the
// record tag.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments the batch counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}

// RecordError counts a failed run by error kind.
func RecordError(job, kind string) {
	backend.IncCounter(ErrorsTotal, 1, Labels{
		"job":  job,
		"kind": kind,
	})
}
