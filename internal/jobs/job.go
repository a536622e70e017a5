// Package jobs runs cancellable background work and delivers results on a
// single ordered foreground context.
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNotFinished is returned by Result while a Job is Pending or Running.
var ErrNotFinished = errors.New("job not finished")

type State int32

const (
	Pending State = iota
	Running
	Cancelled
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s >= Cancelled
}

// Work is the body of a Job. ctx is cancelled by Job.Cancel and must be
// polled at safe points; cancellation is cooperative.
type Work[T any] func(ctx context.Context) (T, error)

// Job is a handle to one unit of background work.
type Job[T any] struct {
	id     uuid.UUID
	name   string
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// written once before done is closed
	value T
	err   error

	mx          sync.Mutex
	finished    bool
	cancelled   bool
	hooks       []func()
	cancelHooks []func()
	settled     func(State)
}

func newJob[T any](parent context.Context, name string) *Job[T] {
	ctx, cancel := context.WithCancel(parent)
	return &Job[T]{
		id:     uuid.New(),
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (j *Job[T]) ID() uuid.UUID {
	return j.id
}

func (j *Job[T]) Name() string {
	return j.name
}

func (j *Job[T]) State() State {
	return State(j.state.Load())
}

// IsFinished reports whether the Job reached a terminal state. It never blocks.
func (j *Job[T]) IsFinished() bool {
	return j.State().Terminal()
}

// Cancel prevents a pending Job from starting and signals a running one.
// It is a no-op on a finished Job.
func (j *Job[T]) Cancel() {
	j.mx.Lock()
	if j.finished || j.State().Terminal() {
		j.mx.Unlock()
		return
	}
	j.cancelled = true
	hooks := j.cancelHooks
	j.cancelHooks = nil
	j.mx.Unlock()
	for _, fn := range hooks {
		fn()
	}

	if j.settle(Pending, Cancelled, *new(T), context.Canceled) {
		return
	}
	if j.State() == Running {
		j.cancel()
	}
}

// Done is closed once the Job reaches a terminal state.
func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome of a finished Job. A cancelled Job reports
// context.Canceled, an unfinished one ErrNotFinished.
func (j *Job[T]) Result() (T, error) {
	select {
	case <-j.done:
		return j.value, j.err
	default:
		var zero T
		return zero, ErrNotFinished
	}
}

// Await blocks until the Job finishes, timeout elapses or ctx is done and
// reports whether the Job finished. It must not be called from a foreground
// callback: the Job may be waiting for that same context to deliver its result.
func (j *Job[T]) Await(ctx context.Context, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-j.done:
		return true
	case <-t.C:
		return j.IsFinished()
	case <-ctx.Done():
		return j.IsFinished()
	}
}

// OnFinish registers fn to run once the Job is terminal, on the goroutine
// that finished it. If the Job is already finished fn runs immediately.
func (j *Job[T]) OnFinish(fn func()) {
	j.mx.Lock()
	if j.finished {
		j.mx.Unlock()
		fn()
		return
	}
	j.hooks = append(j.hooks, fn)
	j.mx.Unlock()
}

// OnCancel registers fn to run when Cancel is called on the unfinished Job.
// fn runs on the cancelling goroutine before the work is signalled, so
// anything it records is visible to the callbacks that run afterwards.
// If Cancel was already called fn runs immediately.
func (j *Job[T]) OnCancel(fn func()) {
	j.mx.Lock()
	if j.cancelled {
		j.mx.Unlock()
		fn()
		return
	}
	if j.finished {
		j.mx.Unlock()
		return
	}
	j.cancelHooks = append(j.cancelHooks, fn)
	j.mx.Unlock()
}

func (j *Job[T]) start() bool {
	return j.state.CompareAndSwap(int32(Pending), int32(Running))
}

// settle moves the Job from one state to a terminal one exactly once.
func (j *Job[T]) settle(from, to State, v T, err error) bool {
	if !j.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	j.value, j.err = v, err
	j.cancel()

	if j.settled != nil {
		j.settled(to)
	}
	close(j.done)

	j.mx.Lock()
	j.finished = true
	hooks := j.hooks
	j.hooks = nil
	j.cancelHooks = nil
	j.mx.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return true
}
