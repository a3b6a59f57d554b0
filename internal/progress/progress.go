// Package progress logs how many records a run has processed. It only
// observes; it never changes control flow.
package progress

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"changesets/internal/logger"
)

// DefaultEvery is the reporting interval in records.
const DefaultEvery = 1_000_000

// Reporter counts processed records and logs every n-th one. It is owned by
// a single goroutine.
type Reporter struct {
	every int64
	count int64
	log   *logger.Logger
	p     *message.Printer
	start time.Time
	now   func() time.Time
}

// New returns a Reporter that logs once per every records. every < 1 falls
// back to DefaultEvery.
func New(every int, log *logger.Logger) *Reporter {
	if every < 1 {
		every = DefaultEvery
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Reporter{
		every: int64(every),
		log:   log,
		p:     message.NewPrinter(language.English),
		now:   time.Now,
	}
	r.start = r.now()
	return r
}

// Inc records one processed record.
func (r *Reporter) Inc() {
	r.count++
	if r.count%r.every != 0 {
		return
	}
	r.log.Info().
		Int64("processed", r.count).
		Dur("elapsed", r.elapsed()).
		Msg(r.line())
}

// Done logs the final summary line.
func (r *Reporter) Done() {
	r.log.Info().
		Int64("processed", r.count).
		Dur("elapsed", r.elapsed()).
		Msg(r.p.Sprintf("done: %d changesets processed", r.count))
}

// Count returns the number of records seen.
func (r *Reporter) Count() int64 { return r.count }

// line renders "processed 3 mln changesets" for the default interval and a
// grouped count otherwise.
func (r *Reporter) line() string {
	if r.every%DefaultEvery == 0 {
		return r.p.Sprintf("processed %d mln changesets", r.count/DefaultEvery)
	}
	return r.p.Sprintf("processed %d changesets", r.count)
}

func (r *Reporter) elapsed() time.Duration {
	return r.now().Sub(r.start).Truncate(time.Millisecond)
}
