package search_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/engine/textdoc"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/search"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDoc struct {
	pages int
	hits  map[int]int
	fail  map[int]error
	// SearchPage on a gated page waits for the gate or the context
	gates map[int]chan struct{}

	mx     sync.Mutex
	visits []int
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) PageSize(int) (engine.Size, error) { return engine.Size{W: 612, H: 792}, nil }

func (d *fakeDoc) SearchPage(ctx context.Context, page int, _ string) ([]engine.Rect, error) {
	d.mx.Lock()
	d.visits = append(d.visits, page)
	d.mx.Unlock()
	if gate, ok := d.gates[page]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := d.fail[page]; err != nil {
		return nil, err
	}
	rects := make([]engine.Rect, d.hits[page])
	for i := range rects {
		x := float32(i * 10)
		rects[i] = engine.Rect{X0: x, Y0: 0, X1: x + 6, Y1: 12}
	}
	return rects, nil
}

func (d *fakeDoc) Visits() []int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]int(nil), d.visits...)
}

// recorder turns callbacks into a flat event log.
type recorder struct {
	mx     sync.Mutex
	events []string
	first  *search.Hit
	hits   []*search.Hit
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) add(ev string) {
	r.mx.Lock()
	r.events = append(r.events, ev)
	r.mx.Unlock()
}

func (r *recorder) Events() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Callbacks() search.Callbacks {
	return search.Callbacks{
		OnProgress: func(page int) { r.add(fmt.Sprintf("progress %d", page)) },
		OnResult: func(hit *search.Hit) {
			r.mx.Lock()
			r.hits = append(r.hits, hit)
			r.mx.Unlock()
			r.add(fmt.Sprintf("result %d", hit.Page))
		},
		OnFirstResult: func(hit *search.Hit) { r.add(fmt.Sprintf("first %d", hit.Page)) },
		OnComplete: func(first *search.Hit) {
			r.first = first
			if first == nil {
				r.add("complete nil")
			} else {
				r.add(fmt.Sprintf("complete %d", first.Page))
			}
			close(r.done)
		},
		OnCancelled: func() {
			r.add("cancelled")
			close(r.done)
		},
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("search did not finish, events so far: %v", r.Events())
	}
}

func newScheduler(t *testing.T, size int) *jobs.Scheduler {
	t.Helper()
	s, err := jobs.NewScheduler(jobs.Config{PoolSize: size})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown(context.Background()))
	})
	return s
}

func flush(t *testing.T, s *jobs.Scheduler) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, s.Post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("foreground did not drain")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		index, count, then int
	}{
		{-1, 3, 2},
		{-3, 3, 0},
		{-4, 3, 2},
		{0, 3, 0},
		{3, 3, 0},
		{7, 3, 1},
		{5, 0, 0},
		{-2, 1, 0},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d mod %d", tc.index, tc.count), func(t *testing.T) {
			require.Equal(t, tc.then, search.Normalize(tc.index, tc.count))
		})
	}
}

func TestStart(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario  string
		query     string
		direction search.Direction
		start     int
		then      []string
		visits    []int
		focus     []int
	}{
		{
			scenario:  "forward from the middle wraps to the head",
			query:     "x",
			direction: search.Forward,
			start:     1,
			then:      []string{"progress 2", "progress 3", "result 2", "first 2", "progress 1", "result 0", "complete 2"},
			visits:    []int{1, 2, 0},
			focus:     []int{0, 0},
		},
		{
			scenario:  "forward from the head",
			query:     "x",
			direction: search.Forward,
			start:     0,
			then:      []string{"progress 1", "result 0", "first 0", "progress 2", "progress 3", "result 2", "complete 0"},
			visits:    []int{0, 1, 2},
			focus:     []int{0, 0},
		},
		{
			scenario:  "backward from the head wraps to the tail",
			query:     "x",
			direction: search.Backward,
			start:     0,
			then:      []string{"progress 1", "result 0", "first 0", "progress 3", "result 2", "progress 2", "complete 0"},
			visits:    []int{0, 2, 1},
			focus:     []int{0, 1},
		},
		{
			scenario:  "negative start index wraps to the tail",
			query:     "x",
			direction: search.Forward,
			start:     -1,
			then:      []string{"progress 3", "result 2", "first 2", "progress 1", "result 0", "progress 2", "complete 2"},
			visits:    []int{2, 0, 1},
			focus:     []int{0, 0},
		},
		{
			scenario:  "blank query",
			query:     "  ",
			direction: search.Forward,
			then:      []string{"complete nil"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			s := newScheduler(t, 2)
			doc := &fakeDoc{pages: 3, hits: map[int]int{0: 1, 2: 2}}
			e := search.New(s, doc)
			r := newRecorder()

			j := e.Start(tc.query, tc.direction, tc.start, r.Callbacks())
			r.wait(t)
			flush(t, s)

			require.Equal(t, tc.then, r.Events())
			require.Equal(t, tc.visits, doc.Visits())
			require.Equal(t, jobs.Completed, j.State())
			require.Equal(t, search.Completed, e.State())
			for i, hit := range r.hits {
				require.Equal(t, tc.focus[i], hit.Focus, "focus of hit on page %d", hit.Page)
				require.Equal(t, hit.Rects[hit.Focus], hit.Focused())
			}
		})
	}
}

func TestStart_NoHits(t *testing.T) {
	t.Parallel()
	for _, pages := range []int{1, 2, 5, 13} {
		t.Run(fmt.Sprintf("%d pages", pages), func(t *testing.T) {
			t.Parallel()
			s := newScheduler(t, 1)
			doc := &fakeDoc{pages: pages}
			r := newRecorder()

			search.New(s, doc).Start("x", search.Backward, pages/2, r.Callbacks())
			r.wait(t)
			flush(t, s)

			require.Len(t, doc.Visits(), pages)
			events := r.Events()
			require.Len(t, events, pages+1)
			require.Equal(t, "complete nil", events[pages])
			require.Nil(t, r.first)
		})
	}
}

func TestStart_EmptyDocument(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	doc := &fakeDoc{}
	r := newRecorder()

	j := search.New(s, doc).Start("x", search.Forward, 4, r.Callbacks())
	r.wait(t)

	require.Equal(t, []string{"complete nil"}, r.Events())
	require.Empty(t, doc.Visits())
	v, err := j.Result()
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestStart_EngineFailure(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	boom := errors.New("broken page tree")
	doc := &fakeDoc{pages: 4, hits: map[int]int{0: 1, 3: 1}, fail: map[int]error{2: boom}}
	r := newRecorder()

	j := search.New(s, doc).Start("x", search.Forward, 0, r.Callbacks())
	r.wait(t)
	flush(t, s)

	require.Equal(t, []string{"progress 1", "result 0", "first 0", "progress 2", "progress 3", "complete 0"}, r.Events())
	require.Equal(t, jobs.Failed, j.State())
	_, err := j.Result()
	require.ErrorIs(t, err, boom)
}

func TestStop_AfterProgress(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	doc := &fakeDoc{
		pages: 4,
		hits:  map[int]int{0: 1, 1: 3, 2: 1},
		gates: map[int]chan struct{}{1: make(chan struct{})},
	}
	e := search.New(s, doc)
	r := newRecorder()

	cb := r.Callbacks()
	progress := cb.OnProgress
	cb.OnProgress = func(page int) {
		progress(page)
		if page == 2 {
			e.Stop()
		}
	}
	cancelled := 0
	onCancelled := cb.OnCancelled
	cb.OnCancelled = func() {
		cancelled++
		onCancelled()
	}

	j := e.Start("x", search.Forward, 0, cb)
	r.wait(t)
	require.True(t, j.Await(t.Context(), 5*time.Second))
	e.Stop()
	flush(t, s)

	require.Equal(t, []string{"progress 1", "result 0", "first 0", "progress 2", "cancelled"}, r.Events())
	require.Equal(t, 1, cancelled)
	require.Equal(t, []int{0, 1}, doc.Visits())
	require.Equal(t, jobs.Cancelled, j.State())
	require.Equal(t, search.Cancelled, e.State())
}

func TestStart_SlowForeground(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	doc := &fakeDoc{pages: 5}
	r := newRecorder()

	hold := make(chan struct{})
	require.NoError(t, s.Post(func() { <-hold }))
	j := search.New(s, doc).Start("x", search.Forward, 0, r.Callbacks())
	require.True(t, j.Await(t.Context(), 5*time.Second))
	close(hold)
	r.wait(t)

	require.Equal(t, []string{
		"progress 1", "progress 2", "progress 3", "progress 4", "progress 5",
		"complete nil",
	}, r.Events())
}

func TestJobCancel_DropsQueuedEvents(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	hits := make(map[int]int)
	for p := range 6 {
		hits[p] = 1
	}
	doc := &fakeDoc{
		pages: 6,
		hits:  hits,
		gates: map[int]chan struct{}{5: make(chan struct{})},
	}
	e := search.New(s, doc)
	r := newRecorder()

	handle := make(chan *jobs.Job[*search.Hit], 1)
	cb := r.Callbacks()
	progress := cb.OnProgress
	cb.OnProgress = func(page int) {
		progress(page)
		if page == 1 {
			(<-handle).Cancel()
		}
	}

	hold := make(chan struct{})
	require.NoError(t, s.Post(func() { <-hold }))
	j := e.Start("x", search.Forward, 0, cb)
	handle <- j
	require.Eventually(t, func() bool { return len(doc.Visits()) == 6 }, 5*time.Second, time.Millisecond)
	close(hold)

	r.wait(t)
	require.True(t, j.Await(t.Context(), 5*time.Second))
	flush(t, s)

	require.Equal(t, []string{"progress 1", "cancelled"}, r.Events())
	require.Equal(t, jobs.Cancelled, j.State())
	require.Equal(t, search.Cancelled, e.State())
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	release := make(chan struct{})
	busy := jobs.Submit(s, "busy", func(ctx context.Context) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})
	require.Eventually(t, func() bool { return busy.State() == jobs.Running }, 5*time.Second, time.Millisecond)

	doc := &fakeDoc{pages: 3, hits: map[int]int{0: 1}}
	e := search.New(s, doc)
	r := newRecorder()
	j := e.Start("x", search.Forward, 0, r.Callbacks())
	e.Stop()
	close(release)

	r.wait(t)
	require.True(t, busy.Await(t.Context(), 5*time.Second))
	flush(t, s)

	require.Equal(t, []string{"cancelled"}, r.Events())
	require.Empty(t, doc.Visits())
	require.Equal(t, jobs.Cancelled, j.State())
}

func TestStart_Supersedes(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)
	doc := &fakeDoc{
		pages: 3,
		hits:  map[int]int{0: 1, 1: 1, 2: 1},
		gates: map[int]chan struct{}{1: make(chan struct{})},
	}
	e := search.New(s, doc)

	first := newRecorder()
	firstJob := e.Start("x", search.Forward, 0, first.Callbacks())
	require.Eventually(t, func() bool { return len(doc.Visits()) == 2 }, 5*time.Second, time.Millisecond)

	second := newRecorder()
	secondJob := e.Start("x", search.Backward, 0, second.Callbacks())
	close(doc.gates[1])

	first.wait(t)
	second.wait(t)
	require.True(t, firstJob.Await(t.Context(), 5*time.Second))
	flush(t, s)

	events := first.Events()
	require.Equal(t, "cancelled", events[len(events)-1])
	require.NotContains(t, events, "complete 0")
	require.Equal(t, []string{
		"progress 1", "result 0", "first 0",
		"progress 3", "result 2",
		"progress 2", "result 1",
		"complete 0",
	}, second.Events())
	require.Equal(t, jobs.Cancelled, firstJob.State())
	require.Equal(t, jobs.Completed, secondJob.State())
	require.Equal(t, search.Completed, e.State())
}

func TestStart_TextDocument(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)
	doc := textdoc.New(
		"the quick brown fox",
		"nothing to see here",
		"Fox and fox again",
	)
	e := search.New(s, doc)
	r := newRecorder()

	e.Start("fox", search.Backward, 0, r.Callbacks())
	r.wait(t)
	flush(t, s)

	require.Equal(t, []string{"progress 1", "result 0", "first 0", "progress 3", "result 2", "progress 2", "complete 0"}, r.Events())
	require.Len(t, r.hits[1].Rects, 2)
	require.Equal(t, 1, r.hits[1].Focus)
	require.Equal(t, search.Backward, r.hits[1].Direction)
	require.Equal(t, "fox", r.hits[1].Query)
}

func TestState(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	e := search.New(s, &fakeDoc{pages: 1})
	require.Equal(t, search.Idle, e.State())
	e.Stop()
	require.Equal(t, search.Idle, e.State())
	require.Equal(t, "searching", search.Searching.String())
}
