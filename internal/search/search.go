// Package search walks the pages of a document looking for a query, starting
// at any page and wrapping around the document exactly once.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/log"
)

type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Hit holds every match of the query on one page. Focus points at the first
// rectangle on forward searches and at the last one on backward searches.
type Hit struct {
	Page      int
	Query     string
	Rects     []engine.Rect
	Direction Direction
	Focus     int
}

func newHit(page int, query string, rects []engine.Rect, dir Direction) *Hit {
	h := &Hit{
		Page:      page,
		Query:     query,
		Rects:     rects,
		Direction: dir,
	}
	if dir == Backward {
		h.Focus = len(rects) - 1
	}
	return h
}

func (h *Hit) Focused() engine.Rect {
	return h.Rects[h.Focus]
}

// Callbacks run on the foreground context. Nil members are skipped.
type Callbacks struct {
	// OnProgress receives the one based number of the page about to be searched.
	OnProgress    func(page int)
	OnResult      func(hit *Hit)
	OnFirstResult func(hit *Hit)
	// OnComplete receives the first hit of the walk, or nil.
	OnComplete  func(first *Hit)
	OnCancelled func()
}

type State int32

const (
	Idle State = iota
	Searching
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type session struct {
	query string
	start int
	count int
	dir   Direction
	cb    Callbacks
	job   *jobs.Job[*Hit]
	first atomic.Pointer[Hit]
	// stale is set when the session was stopped or superseded; nothing but
	// OnCancelled is delivered afterwards
	stale    atomic.Bool
	terminal atomic.Bool
}

// Engine runs at most one search session at a time.
type Engine struct {
	s     *jobs.Scheduler
	doc   engine.Searcher
	state atomic.Int32

	mx      sync.Mutex
	current *session
}

func New(s *jobs.Scheduler, doc engine.Searcher) *Engine {
	return &Engine{s: s, doc: doc}
}

// Normalize maps index into [0, count) with floored modulo, so negative
// indices wrap to the tail. It returns 0 for an empty document.
func Normalize(index, count int) int {
	if count <= 0 {
		return 0
	}
	m := index % count
	if m < 0 {
		m += count
	}
	return m
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start cancels the active session, if any, and searches query from page
// startIndex in direction dir. A blank query or an empty document completes
// at once with a nil result.
func (e *Engine) Start(query string, dir Direction, startIndex int, cb Callbacks) *jobs.Job[*Hit] {
	if dir != Backward {
		dir = Forward
	}
	count := e.doc.PageCount()
	sess := &session{
		query: query,
		start: Normalize(startIndex, count),
		count: count,
		dir:   dir,
		cb:    cb,
	}

	e.mx.Lock()
	if prev := e.current; prev != nil {
		prev.stale.Store(true)
		prev.job.Cancel()
	}
	e.current = sess
	e.state.Store(int32(Searching))
	sess.job = jobs.Submit(e.s, "search", func(ctx context.Context) (*Hit, error) {
		return e.walk(ctx, sess)
	})
	e.mx.Unlock()

	// cancelling the returned Job stops the session like Stop does
	sess.job.OnCancel(func() { sess.stale.Store(true) })
	sess.job.OnFinish(func() { e.finish(sess) })
	return sess.job
}

// Stop cancels the active session. OnCancelled is delivered unless the
// session already delivered its terminal event.
func (e *Engine) Stop() {
	e.mx.Lock()
	sess := e.current
	e.mx.Unlock()
	if sess == nil {
		return
	}
	sess.stale.Store(true)
	sess.job.Cancel()
}

func (e *Engine) walk(ctx context.Context, sess *session) (*Hit, error) {
	if sess.count <= 0 || strings.TrimSpace(sess.query) == "" {
		return nil, nil
	}
	ctx = log.ContextAttrs(ctx,
		slog.String("query", sess.query),
		slog.String("direction", sess.dir.String()),
	)

	visited := 0
	page := sess.start
	for {
		if err := ctx.Err(); err != nil {
			return sess.first.Load(), err
		}
		visited++
		progress := page + 1
		e.post(sess, func() {
			if sess.cb.OnProgress != nil {
				sess.cb.OnProgress(progress)
			}
		})

		rects, err := e.doc.SearchPage(ctx, page, sess.query)
		if ctx.Err() != nil {
			return sess.first.Load(), ctx.Err()
		}
		if err != nil {
			return sess.first.Load(), fmt.Errorf("searching page %d: %w", page, err)
		}

		if len(rects) > 0 {
			hit := newHit(page, sess.query, rects, sess.dir)
			first := sess.first.CompareAndSwap(nil, hit)
			e.post(sess, func() {
				if sess.cb.OnResult != nil {
					sess.cb.OnResult(hit)
				}
				if first && sess.cb.OnFirstResult != nil {
					sess.cb.OnFirstResult(hit)
				}
			})
		}

		page = Normalize(page+int(sess.dir), sess.count)
		if page == sess.start {
			break
		}
	}
	slog.DebugContext(ctx, "search finished", "pages", visited, "found", sess.first.Load() != nil)
	return sess.first.Load(), nil
}

// post delivers fn unless the session became stale before the foreground
// got to it.
func (e *Engine) post(sess *session, fn func()) {
	err := e.s.Post(func() {
		if sess.stale.Load() || sess.terminal.Load() {
			return
		}
		fn()
	})
	if err != nil {
		slog.Debug("search event dropped", "error", err)
	}
}

// finish delivers exactly one terminal event for sess. A failed walk
// completes with the first hit found before the failure.
func (e *Engine) finish(sess *session) {
	err := e.s.Post(func() {
		if sess.terminal.Swap(true) {
			return
		}
		cancelled := sess.stale.Load() || sess.job.State() == jobs.Cancelled
		e.settle(sess, cancelled)
		if cancelled {
			if sess.cb.OnCancelled != nil {
				sess.cb.OnCancelled()
			}
			return
		}
		if sess.cb.OnComplete != nil {
			sess.cb.OnComplete(sess.first.Load())
		}
	})
	if err != nil {
		slog.Debug("search terminal event dropped", "error", err)
	}
}

func (e *Engine) settle(sess *session, cancelled bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.current != sess {
		return
	}
	to := Completed
	if cancelled {
		to = Cancelled
	}
	e.state.CompareAndSwap(int32(Searching), int32(to))
}
