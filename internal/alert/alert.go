// Package alert relays blocking alerts raised by a document to a foreground
// listener and hands the listener's reply back to the document.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
)

// Listener receives every alert on the foreground context. The exchange
// waits for the next alert only after Reply was called.
type Listener func(a engine.Alert)

type State int32

const (
	Stopped State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Option func(*Exchange)

// WithBackOff sets the delay policy between failed waits.
func WithBackOff(b backoff.BackOff) Option {
	return func(e *Exchange) {
		e.bo = b
	}
}

// Exchange keeps at most one wait for the next alert outstanding.
type Exchange struct {
	s     *jobs.Scheduler
	src   engine.AlertSource
	state atomic.Int32

	mx       sync.Mutex
	bo       backoff.BackOff
	listener Listener
	wait     *jobs.Job[*engine.Alert]
	gen      uint64
	pending  *engine.Alert
}

func New(s *jobs.Scheduler, src engine.AlertSource, opts ...Option) *Exchange {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	e := &Exchange{s: s, src: src, bo: bo}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) State() State {
	return State(e.state.Load())
}

// Start attaches listener and begins waiting for alerts.
func (e *Exchange) Start(listener Listener) error {
	if listener == nil {
		return fmt.Errorf("alert listener is required: %w", model.ErrInvalidInput)
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.state.CompareAndSwap(int32(Stopped), int32(Active)) {
		if e.State() == Closed {
			return fmt.Errorf("alert exchange: %w", model.ErrClosed)
		}
		return fmt.Errorf("alert exchange already started: %w", model.ErrInvalidInput)
	}
	e.listener = listener
	e.bo.Reset()
	e.queueNext(0)
	return nil
}

// Reply forwards the listener's answer to the document and issues the next
// wait before returning. Only the alert last delivered can be replied to.
func (e *Exchange) Reply(a engine.Alert) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.State() != Active {
		return fmt.Errorf("alert exchange %s: %w", e.State(), model.ErrClosed)
	}
	if e.pending == nil {
		return fmt.Errorf("no alert awaiting reply: %w", model.ErrInvalidInput)
	}
	e.pending = nil
	err := e.src.ReplyToAlert(a)
	e.queueNext(0)
	if err != nil {
		return fmt.Errorf("replying to alert %q: %w", a.Title, err)
	}
	return nil
}

// Stop cancels the outstanding wait and detaches the listener. The exchange
// can be started again.
func (e *Exchange) Stop() {
	if e.state.CompareAndSwap(int32(Active), int32(Stopped)) {
		e.detach()
	}
}

// Shutdown stops the exchange for good and waits for the outstanding wait
// to return.
func (e *Exchange) Shutdown(ctx context.Context) error {
	prev := State(e.state.Swap(int32(Closed)))
	if prev == Closed {
		return nil
	}
	j := e.detach()
	if j == nil {
		return nil
	}
	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for alert wait: %w", ctx.Err())
	}
}

func (e *Exchange) detach() *jobs.Job[*engine.Alert] {
	e.mx.Lock()
	defer e.mx.Unlock()
	j := e.wait
	if j != nil {
		j.Cancel()
	}
	e.wait = nil
	e.gen++
	e.pending = nil
	e.listener = nil
	return j
}

// queueNext must be called with e.mx held.
func (e *Exchange) queueNext(delay time.Duration) {
	if e.State() != Active {
		return
	}
	if e.wait != nil {
		e.wait.Cancel()
	}
	e.gen++
	gen := e.gen
	e.wait = jobs.SubmitBlocking(e.s, "alert.wait", func(ctx context.Context) (*engine.Alert, error) {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		a, err := e.src.WaitForAlert(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.received(gen, a, err)
		return a, err
	})
}

func (e *Exchange) received(gen uint64, a *engine.Alert, err error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if gen != e.gen || e.State() != Active {
		return
	}

	if err != nil {
		delay := e.bo.NextBackOff()
		if delay == backoff.Stop {
			delay = 0
			e.bo.Reset()
		}
		slog.Warn("waiting for alert failed, retrying", "error", err, "retry_in", delay)
		// the failing Job is finishing on its own
		e.wait = nil
		e.queueNext(delay)
		return
	}
	e.bo.Reset()
	if a == nil {
		slog.Debug("alert source shut down")
		return
	}

	e.pending = a
	listener := e.listener
	perr := e.s.Post(func() {
		e.mx.Lock()
		current := e.pending == a && e.State() == Active
		e.mx.Unlock()
		if current {
			listener(*a)
		}
	})
	if perr != nil && !errors.Is(perr, model.ErrClosed) {
		slog.Error("delivering alert", "error", perr)
	}
}
