package controller_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folio-reader/folio/internal/controller"
	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/engine/textdoc"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
	"github.com/folio-reader/folio/internal/pdfops"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newScheduler(t *testing.T) *jobs.Scheduler {
	t.Helper()
	s, err := jobs.NewScheduler(jobs.Config{PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown(context.Background()))
	})
	return s
}

// flush waits until every call posted so far ran on the foreground.
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

func await[T any](t *testing.T, j *jobs.Job[T]) {
	t.Helper()
	require.True(t, j.Await(t.Context(), 5*time.Second), "job %s did not finish", j.Name())
}

type result[T any] struct {
	v   T
	err error
}

func collect[T any]() (controller.Callback[T], <-chan result[T]) {
	ch := make(chan result[T], 16)
	return func(v T, err error) { ch <- result[T]{v, err} }, ch
}

func TestFlight(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("page")
	dirty := controller.NewDirtyTracker(doc)

	t.Run("delivers result", func(t *testing.T) {
		f := controller.NewFlight[int](s, nil, controller.Options{Name: "answer"})
		cb, ch := collect[int]()
		j := f.Go(func(context.Context) (int, error) { return 42, nil }, cb)
		await(t, j)
		r := <-ch
		require.NoError(t, r.err)
		require.Equal(t, 42, r.v)
	})

	t.Run("delivers failure", func(t *testing.T) {
		f := controller.NewFlight[int](s, dirty, controller.Options{Name: "broken", Mutating: true})
		cb, ch := collect[int]()
		boom := errors.New("engine fault")
		f.Go(func(context.Context) (int, error) { return 0, boom }, cb)
		r := <-ch
		require.ErrorIs(t, r.err, boom)
		require.False(t, dirty.Dirty())
	})

	t.Run("nil callback still mutates", func(t *testing.T) {
		local := textdoc.New("page")
		tracker := controller.NewDirtyTracker(local)
		f := controller.NewFlight[struct{}](s, tracker, controller.Options{Name: "mutate", Mutating: true})
		j := f.Go(func(context.Context) (struct{}, error) { return struct{}{}, nil }, nil)
		await(t, j)
		require.True(t, tracker.Dirty())
	})

	t.Run("cancelled job delivers nothing", func(t *testing.T) {
		f := controller.NewFlight[int](s, nil, controller.Options{Name: "cancel"})
		started := make(chan struct{})
		var called atomic.Bool
		j := f.Go(func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 1, nil
		}, func(int, error) { called.Store(true) })
		<-started
		f.Cancel()
		await(t, j)
		flush(t, s)
		require.Equal(t, jobs.Cancelled, j.State())
		require.False(t, called.Load())
	})
}

func TestFlight_CancelPrevious(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	f := controller.NewFlight[int](s, nil, controller.Options{Name: "single", CancelPrevious: true})
	cb, ch := collect[int]()

	started := make(chan struct{})
	first := f.Go(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 1, nil
	}, cb)
	<-started

	second := f.Go(func(context.Context) (int, error) { return 2, nil }, cb)
	await(t, first)
	require.Equal(t, 2, (<-ch).v)
	flush(t, s)

	require.Equal(t, jobs.Cancelled, first.State())
	require.Equal(t, jobs.Completed, second.State())
	require.Same(t, second, f.Last())
	require.Empty(t, ch)
}

func TestFlight_SupersededResultDropped(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	f := controller.NewFlight[int](s, nil, controller.Options{Name: "single", CancelPrevious: true})
	cb, ch := collect[int]()

	// block the foreground so the first result is still queued when the
	// second request arrives
	gate := make(chan struct{})
	require.NoError(t, s.Post(func() { <-gate }))

	first := f.Go(func(context.Context) (int, error) { return 1, nil }, cb)
	await(t, first)
	second := f.Go(func(context.Context) (int, error) { return 2, nil }, cb)
	await(t, second)
	close(gate)
	require.Equal(t, 2, (<-ch).v)
	flush(t, s)

	require.Equal(t, jobs.Completed, first.State())
	require.Empty(t, ch)
}

func TestNewFlight_MutatingNeedsTracker(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	require.Panics(t, func() {
		controller.NewFlight[int](s, nil, controller.Options{Name: "bad", Mutating: true})
	})
}

func TestAnnotations(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("first page", "second page")
	dirty := controller.NewDirtyTracker(doc)
	a := controller.NewAnnotations(s, doc, dirty)

	quads := []engine.Point{{X: 0, Y: 0}, {X: 6, Y: 0}, {X: 0, Y: 12}, {X: 6, Y: 12}}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		_, err := a.AddText(i%2, quads[:1], "note", func(err error) {
			errs <- err
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.True(t, dirty.Dirty())

	for page := range 2 {
		list, err := doc.Annotations(t.Context(), page)
		require.NoError(t, err)
		require.Len(t, list, n/2)
	}

	j, err := a.AddMarkup(0, quads, engine.AnnotHighlight, nil)
	require.NoError(t, err)
	await(t, j)

	list, err := doc.Annotations(t.Context(), 0)
	require.NoError(t, err)
	last := list[len(list)-1]
	require.Equal(t, engine.AnnotHighlight, last.Type)

	done := make(chan error, 1)
	_, err = a.DeleteByObjectNumber(0, last.ObjectNumber, func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, <-done)

	_, err = a.Delete(0, 99, func(err error) { done <- err })
	require.NoError(t, err)
	require.ErrorIs(t, <-done, engine.ErrAnnotation)

	j, err = a.AddInk(1, [][]engine.Point{{{X: 1, Y: 1}, {X: 2, Y: 2}}}, nil)
	require.NoError(t, err)
	await(t, j)
	require.Equal(t, jobs.Completed, j.State())
}

func TestAnnotations_InvalidInput(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("page")
	a := controller.NewAnnotations(s, doc, controller.NewDirtyTracker(doc))
	quads := []engine.Point{{}, {}, {}, {}}

	var testCases = []struct {
		scenario string
		given    func() (*jobs.Job[struct{}], error)
	}{
		{"negative page", func() (*jobs.Job[struct{}], error) { return a.AddText(-1, quads, "x", nil) }},
		{"not a markup", func() (*jobs.Job[struct{}], error) { return a.AddMarkup(0, quads, engine.AnnotInk, nil) }},
		{"odd quads", func() (*jobs.Job[struct{}], error) { return a.AddMarkup(0, quads[:3], engine.AnnotUnderline, nil) }},
		{"no position", func() (*jobs.Job[struct{}], error) { return a.AddText(0, nil, "x", nil) }},
		{"no arcs", func() (*jobs.Job[struct{}], error) { return a.AddInk(0, nil, nil) }},
		{"negative index", func() (*jobs.Job[struct{}], error) { return a.Delete(0, -1, nil) }},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			j, err := tc.given()
			require.ErrorIs(t, err, model.ErrInvalidInput)
			require.Nil(t, j)
		})
	}
	require.False(t, doc.Dirty())
}

func TestWidgets(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("name {{name}} {{choice:size=s|m|l}}\n{{sig:approval}}")
	dirty := controller.NewDirtyTracker(doc)
	w := controller.NewWidgets(s, doc, dirty)

	areasCb, areasCh := collect[[]engine.Rect]()
	_, err := w.LoadAreas(0, areasCb)
	require.NoError(t, err)
	areas := <-areasCh
	require.NoError(t, areas.err)
	require.Len(t, areas.v, 3)

	clickCb, clickCh := collect[engine.PassClickResult]()
	_, err = w.PassClick(0, areas.v[0].X0+1, areas.v[0].Y0+1, clickCb)
	require.NoError(t, err)
	click := <-clickCh
	require.NoError(t, click.err)
	require.Equal(t, engine.WidgetText, click.v.Kind)
	require.False(t, dirty.Dirty())

	textCb, textCh := collect[bool]()
	_, err = w.SetText(0, "gopher", textCb)
	require.NoError(t, err)
	text := <-textCh
	require.NoError(t, text.err)
	require.True(t, text.v)
	require.True(t, dirty.Dirty())

	_, err = w.PassClick(0, areas.v[1].X0+1, areas.v[1].Y0+1, clickCb)
	require.NoError(t, err)
	require.NoError(t, (<-clickCh).err)

	choice := make(chan error, 1)
	w.SetChoice([]string{"xl"}, func(err error) { choice <- err })
	require.Error(t, <-choice)
	w.SetChoice([]string{"m"}, func(err error) { choice <- err })
	require.NoError(t, <-choice)

	_, err = w.SetText(-1, "x", nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	w.Cancel()
}

func TestSignatures(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("{{sig:approval}}")
	dirty := controller.NewDirtyTracker(doc)
	g := controller.NewSignatures(s, doc, dirty)
	w := controller.NewWidgets(s, doc, dirty)

	checkCb, checkCh := collect[string]()
	g.CheckFocused(checkCb)
	require.ErrorIs(t, (<-checkCh).err, engine.ErrNoFocusedWidget)

	clickCb, clickCh := collect[engine.PassClickResult]()
	_, err := w.PassClick(0, 1, 1, clickCb)
	require.NoError(t, err)
	require.Equal(t, engine.WidgetSignature, (<-clickCh).v.Kind)

	key := filepath.Join(t.TempDir(), "signer.p12")
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))

	signCb, signCh := collect[bool]()
	_, err = g.SignFocused(key, "pw", signCb)
	require.NoError(t, err)
	signed := <-signCh
	require.NoError(t, signed.err)
	require.True(t, signed.v)
	require.True(t, dirty.Dirty())

	g.CheckFocused(checkCb)
	check := <-checkCh
	require.NoError(t, check.err)
	require.Equal(t, "signed by signer.p12", check.v)

	_, err = g.SignFocused(" ", "pw", nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	g.Cancel()
}

func TestRejectedChangeKeepsDocumentClean(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("{{name=ann}}\n{{sig:approval}}")
	dirty := controller.NewDirtyTracker(doc)
	w := controller.NewWidgets(s, doc, dirty)
	g := controller.NewSignatures(s, doc, dirty)

	areasCb, areasCh := collect[[]engine.Rect]()
	_, err := w.LoadAreas(0, areasCb)
	require.NoError(t, err)
	areas := <-areasCh
	require.NoError(t, areas.err)
	require.Len(t, areas.v, 2)

	clickCb, clickCh := collect[engine.PassClickResult]()
	_, err = w.PassClick(0, areas.v[0].X0+1, areas.v[0].Y0+1, clickCb)
	require.NoError(t, err)
	require.Equal(t, engine.WidgetText, (<-clickCh).v.Kind)

	textCb, textCh := collect[bool]()
	_, err = w.SetText(0, "ann", textCb)
	require.NoError(t, err)
	text := <-textCh
	require.NoError(t, text.err)
	require.False(t, text.v)
	require.False(t, dirty.Dirty())

	_, err = w.PassClick(0, areas.v[1].X0+1, areas.v[1].Y0+1, clickCb)
	require.NoError(t, err)
	require.Equal(t, engine.WidgetSignature, (<-clickCh).v.Kind)

	key := filepath.Join(t.TempDir(), "signer.p12")
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))
	signCb, signCh := collect[bool]()
	_, err = g.SignFocused(key, "", signCb)
	require.NoError(t, err)
	signed := <-signCh
	require.NoError(t, signed.err)
	require.False(t, signed.v)
	require.False(t, dirty.Dirty())

	_, err = g.SignFocused(key, "pw", signCb)
	require.NoError(t, err)
	require.True(t, (<-signCh).v)
	require.True(t, dirty.Dirty())
}

// slowReader blocks TextLines of page 0 until its context is cancelled.
type slowReader struct {
	*textdoc.Doc
	entered chan struct{}
}

func (r slowReader) TextLines(ctx context.Context, page int) ([]engine.TextLine, error) {
	if page == 0 {
		close(r.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.Doc.TextLines(ctx, page)
}

func TestContent(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("zero", "one https://go.dev", "two")
	reader := slowReader{Doc: doc, entered: make(chan struct{})}
	c := controller.NewContent(s, reader, 2)

	textCb, textCh := collect[[]engine.TextLine]()
	first, err := c.LoadText(0, textCb)
	require.NoError(t, err)
	<-reader.entered
	second, err := c.LoadText(1, textCb)
	require.NoError(t, err)
	await(t, first)
	text := <-textCh
	require.NoError(t, text.err)
	require.Equal(t, "one", text.v[0].Words[0].Text)
	flush(t, s)

	require.Equal(t, jobs.Cancelled, first.State())
	require.Equal(t, jobs.Completed, second.State())
	require.Empty(t, textCh)

	linksCb, linksCh := collect[[]engine.Link]()
	_, err = c.LoadLinks(1, linksCb)
	require.NoError(t, err)
	links := <-linksCh
	require.NoError(t, links.err)
	require.Equal(t, "https://go.dev", links.v[0].URI)

	notesCb, notesCh := collect[[]engine.Annotation]()
	_, err = c.LoadAnnotations(2, notesCb)
	require.NoError(t, err)
	notes := <-notesCh
	require.NoError(t, notes.err)
	require.Empty(t, notes.v)

	pagesCb, pagesCh := collect[[]controller.PageContent]()
	_, err = c.LoadPages([]int{2, 1}, pagesCb)
	require.NoError(t, err)
	pages := <-pagesCh
	require.NoError(t, pages.err)
	require.Len(t, pages.v, 2)
	require.Equal(t, 2, pages.v[0].Page)
	require.Equal(t, 1, pages.v[1].Page)
	require.Len(t, pages.v[1].Links, 1)

	_, err = c.LoadPages([]int{1, 7}, pagesCb)
	require.NoError(t, err)
	require.ErrorIs(t, (<-pagesCh).err, engine.ErrPageRange)

	_, err = c.LoadPages(nil, pagesCb)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	c.Cancel()
}

type fakeToolkit struct {
	pdfops.Toolkit
	mx  sync.Mutex
	ops []pdfops.Op
	err error
}

func (f *fakeToolkit) Do(_ context.Context, op pdfops.Op) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.ops = append(f.ops, op)
	return f.err
}

func (f *fakeToolkit) Ops() []pdfops.Op {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]pdfops.Op(nil), f.ops...)
}

func TestSave(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("page one", "page two")
	dirty := controller.NewDirtyTracker(doc)
	ops := &fakeToolkit{}
	c := controller.NewSave(s, doc, dirty, ops)
	a := controller.NewAnnotations(s, doc, dirty)

	j, err := a.AddText(0, []engine.Point{{X: 1, Y: 1}}, "saved", nil)
	require.NoError(t, err)
	await(t, j)
	require.True(t, dirty.Dirty())

	path := filepath.Join(t.TempDir(), "doc.txt")
	done := make(chan error, 1)
	_, err = c.Save(path, func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.False(t, dirty.Dirty())
	require.FileExists(t, path)

	var exported atomic.Bool
	_, err = c.Export(func(context.Context) error {
		exported.Store(true)
		return nil
	}, func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.True(t, exported.Load())

	_, err = c.Save("", nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = c.Export(nil, nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSave_Structural(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("page")
	dirty := controller.NewDirtyTracker(doc)
	ops := &fakeToolkit{}
	c := controller.NewSave(s, doc, dirty, ops)

	done := make(chan error, 8)
	cb := func(err error) { done <- err }

	submit := []func() (*jobs.Job[struct{}], error){
		func() (*jobs.Job[struct{}], error) { return c.Merge("a.pdf", "b.pdf", "out.pdf", cb) },
		func() (*jobs.Job[struct{}], error) { return c.Extract("a.pdf", "1-2", "out.pdf", cb) },
		func() (*jobs.Job[struct{}], error) { return c.Assemble([]string{"a.pdf", "1", "b.pdf", "2"}, "out.pdf", cb) },
		func() (*jobs.Job[struct{}], error) { return c.Rotate("a.pdf", "+90:1", "out.pdf", cb) },
		func() (*jobs.Job[struct{}], error) { return c.Linearize("a.pdf", "out.pdf", cb) },
		func() (*jobs.Job[struct{}], error) { return c.Encrypt("a.pdf", "u", "o", 256, "out.pdf", cb) },
		func() (*jobs.Job[struct{}], error) { return c.Decrypt("a.pdf", "pw", "out.pdf", cb) },
	}
	for _, fn := range submit {
		// one at a time: the slot is single-flight
		j, err := fn()
		require.NoError(t, err)
		await(t, j)
		require.NoError(t, <-done)
	}
	names := make([]string, 0, len(submit))
	for _, op := range ops.Ops() {
		names = append(names, op.Name())
	}
	require.Equal(t, []string{"merge", "extract", "assemble", "rotate", "linearize", "encrypt", "decrypt"}, names)

	j, err := c.Assemble([]string{"a.pdf", "1", "b.pdf"}, "out.pdf", cb)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	require.Nil(t, j)
	require.Len(t, ops.Ops(), len(submit))
	require.False(t, dirty.Dirty())
}

func TestSave_Disabled(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	doc := textdoc.New("page")
	c := controller.NewSave(s, doc, controller.NewDirtyTracker(doc), pdfops.New(pdfops.Config{Enabled: false}))

	done := make(chan error, 1)
	_, err := c.Linearize("in.pdf", filepath.Join(t.TempDir(), "out.pdf"), func(err error) { done <- err })
	require.NoError(t, err)
	require.ErrorIs(t, <-done, model.ErrDisabled)
	c.Cancel()
}
