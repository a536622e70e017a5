// Package controller wraps document operations into Jobs whose results are
// delivered on the foreground context.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/folio-reader/folio/internal/jobs"
)

type Options struct {
	// Name labels the Jobs in logs and metrics.
	Name string
	// CancelPrevious makes the flight single-flight: a new request cancels
	// the previous Job and results of a superseded Job are not delivered.
	CancelPrevious bool
	// Mutating marks the document dirty after every successful Job.
	Mutating bool
}

// Callback receives the result of a Job on the foreground context.
type Callback[T any] func(T, error)

// Flight submits one Job per request for a single logical operation slot.
type Flight[T any] struct {
	s     *jobs.Scheduler
	dirty *DirtyTracker
	opts  Options

	mx   sync.Mutex
	last *jobs.Job[T]
}

// NewFlight returns a flight submitting to s. dirty is required for
// mutating flights.
func NewFlight[T any](s *jobs.Scheduler, dirty *DirtyTracker, opts Options) *Flight[T] {
	if opts.Mutating && dirty == nil {
		panic("controller: mutating flight " + opts.Name + " without dirty tracker")
	}
	return &Flight[T]{s: s, dirty: dirty, opts: opts}
}

// Go submits work. A nil callback discards the result, the mutation still
// applies. Nothing is delivered for a cancelled Job.
func (f *Flight[T]) Go(work jobs.Work[T], callback Callback[T]) *jobs.Job[T] {
	body := work
	if f.opts.Mutating {
		body = func(ctx context.Context) (T, error) {
			return Mutate(ctx, f.dirty, work)
		}
	}

	f.mx.Lock()
	if f.opts.CancelPrevious && f.last != nil {
		f.last.Cancel()
	}
	j := jobs.Submit(f.s, f.opts.Name, body)
	f.last = j
	f.mx.Unlock()

	j.OnFinish(func() { f.deliver(j, callback) })
	return j
}

func (f *Flight[T]) deliver(j *jobs.Job[T], callback Callback[T]) {
	if callback == nil || j.State() == jobs.Cancelled {
		return
	}
	v, err := j.Result()
	perr := f.s.Post(func() {
		if f.opts.CancelPrevious && !f.current(j) {
			return
		}
		callback(v, err)
	})
	if perr != nil {
		slog.Warn("result not delivered", "job", f.opts.Name, "job_id", j.ID().String(), "error", errors.Join(perr, err))
	}
}

func (f *Flight[T]) current(j *jobs.Job[T]) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.last == j
}

// Cancel cancels the most recent Job of this flight.
func (f *Flight[T]) Cancel() {
	f.mx.Lock()
	last := f.last
	f.mx.Unlock()
	if last != nil {
		last.Cancel()
	}
}

// Last returns the most recently submitted Job, or nil.
func (f *Flight[T]) Last() *jobs.Job[T] {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.last
}
