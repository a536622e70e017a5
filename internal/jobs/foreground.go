package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/folio-reader/folio/internal/model"
)

// foreground is a single goroutine draining an unbounded FIFO of calls.
type foreground struct {
	mx     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newForeground() *foreground {
	f := &foreground{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *foreground) post(fn func()) error {
	f.mx.Lock()
	if f.closed {
		f.mx.Unlock()
		return model.ErrClosed
	}
	f.queue = append(f.queue, fn)
	f.mx.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

func (f *foreground) loop() {
	defer close(f.done)
	for {
		f.mx.Lock()
		if len(f.queue) == 0 {
			closed := f.closed
			f.mx.Unlock()
			if closed {
				return
			}
			<-f.wake
			continue
		}
		fn := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		f.mx.Unlock()

		f.call(fn)
	}
}

func (f *foreground) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("foreground callback panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// stop makes post fail from now on. Queued calls still run.
func (f *foreground) stop() {
	f.mx.Lock()
	f.closed = true
	f.mx.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// close stops accepting calls and waits until the queued ones ran.
func (f *foreground) close(ctx context.Context) error {
	f.stop()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining foreground: %w", ctx.Err())
	}
}
