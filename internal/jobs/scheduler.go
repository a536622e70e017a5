package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/folio-reader/folio/internal/log"
	"github.com/folio-reader/folio/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	// PoolSize bounds the number of concurrently running Jobs.
	PoolSize int
	// Registerer receives the scheduler metrics, nil keeps them unregistered.
	Registerer prometheus.Registerer
}

// Scheduler owns a bounded background pool and the foreground context.
// It must be released with Shutdown.
type Scheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted
	fg      *foreground
	metrics *Metrics

	mx      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	drained chan struct{}
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size %d: %w", cfg.PoolSize, model.ErrInvalidInput)
	}
	metrics, err := NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		fg:      newForeground(),
		metrics: metrics,
		drained: make(chan struct{}),
	}, nil
}

// Submit starts work on the background pool. After Shutdown the returned Job
// is already cancelled.
func Submit[T any](s *Scheduler, name string, work Work[T]) *Job[T] {
	return submit(s, name, work, true)
}

// SubmitBlocking starts work outside the pool bound. It is meant for Jobs
// that block on an external event for an unbounded time, such as waiting for
// the next alert of a document.
func SubmitBlocking[T any](s *Scheduler, name string, work Work[T]) *Job[T] {
	return submit(s, name, work, false)
}

func submit[T any](s *Scheduler, name string, work Work[T], bounded bool) *Job[T] {
	j := newJob[T](s.ctx, name)
	j.settled = func(st State) {
		s.metrics.finished.WithLabelValues(name, st.String()).Inc()
	}
	s.metrics.submitted.WithLabelValues(name).Inc()

	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		j.Cancel()
		return j
	}
	s.wg.Go(func() { run(s, j, work, bounded) })
	s.mx.Unlock()
	return j
}

func run[T any](s *Scheduler, j *Job[T], work Work[T], bounded bool) {
	if bounded {
		// a Job cancelled while waiting for a slot never starts
		if err := s.sem.Acquire(j.ctx, 1); err != nil {
			j.settle(Pending, Cancelled, *new(T), context.Canceled)
			return
		}
		defer s.sem.Release(1)
	}
	if j.ctx.Err() != nil {
		j.settle(Pending, Cancelled, *new(T), context.Canceled)
		return
	}
	if !j.start() {
		return
	}

	running := s.metrics.running.WithLabelValues(j.name)
	running.Inc()
	defer running.Dec()

	ctx := log.ContextAttrs(j.ctx,
		slog.String("job", j.name),
		slog.String("job_id", j.id.String()),
	)
	v, err := call(ctx, work)
	switch {
	case j.ctx.Err() != nil:
		j.settle(Running, Cancelled, *new(T), context.Canceled)
	case err != nil:
		slog.ErrorContext(ctx, "job failed", "error", err)
		j.settle(Running, Failed, *new(T), err)
	default:
		j.settle(Running, Completed, v, nil)
	}
}

func call[T any](ctx context.Context, work Work[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx)
}

// Post enqueues fn on the foreground context. Calls are strictly ordered and
// never dropped. It fails with model.ErrClosed once the foreground stopped.
func (s *Scheduler) Post(fn func()) error {
	return s.fg.post(fn)
}

// Shutdown cancels every Job, waits for the pool to drain, then runs the
// remaining foreground calls and stops the foreground context. When ctx ends
// first the foreground stops accepting calls anyway and an error is returned;
// a later Shutdown waits again.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mx.Lock()
	if !s.closed {
		s.closed = true
		s.cancel()
		go func() {
			s.wg.Wait()
			close(s.drained)
		}()
	}
	s.mx.Unlock()

	select {
	case <-s.drained:
	case <-ctx.Done():
		s.fg.stop()
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
	return s.fg.close(ctx)
}
