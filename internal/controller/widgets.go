package controller

import (
	"context"
	"slices"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
)

// Widgets drives form fields. Every operation is single-flight in its own slot.
type Widgets struct {
	doc    engine.WidgetEditor
	dirty  *DirtyTracker
	text   *Flight[bool]
	choice *Flight[struct{}]
	click  *Flight[engine.PassClickResult]
	areas  *Flight[[]engine.Rect]
}

func NewWidgets(s *jobs.Scheduler, doc engine.WidgetEditor, dirty *DirtyTracker) *Widgets {
	return &Widgets{
		doc:    doc,
		dirty:  dirty,
		text:   NewFlight[bool](s, dirty, Options{Name: "widget.text", CancelPrevious: true}),
		choice: NewFlight[struct{}](s, dirty, Options{Name: "widget.choice", CancelPrevious: true, Mutating: true}),
		click:  NewFlight[engine.PassClickResult](s, dirty, Options{Name: "widget.click", CancelPrevious: true}),
		areas:  NewFlight[[]engine.Rect](s, nil, Options{Name: "widget.areas", CancelPrevious: true}),
	}
}

// SetText sets the focused text field. The callback reports whether the
// engine accepted the value; a rejected value leaves the document clean.
func (w *Widgets) SetText(page int, text string, done Callback[bool]) (*jobs.Job[bool], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return w.text.Go(func(ctx context.Context) (bool, error) {
		var changed bool
		err := w.dirty.Apply(ctx, func(ctx context.Context) (bool, error) {
			var err error
			changed, err = w.doc.SetWidgetText(ctx, page, text)
			return changed, err
		})
		return changed, err
	}, done), nil
}

func (w *Widgets) SetChoice(selection []string, done func(error)) *jobs.Job[struct{}] {
	selection = slices.Clone(selection)
	return w.choice.Go(unit(func(ctx context.Context) error {
		return w.doc.SetWidgetChoice(ctx, selection)
	}), errCallback(done))
}

// PassClick forwards a click to the form layer. The document is marked dirty
// only when the click changed a field.
func (w *Widgets) PassClick(page int, x, y float32, done Callback[engine.PassClickResult]) (*jobs.Job[engine.PassClickResult], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return w.click.Go(func(ctx context.Context) (engine.PassClickResult, error) {
		var res engine.PassClickResult
		err := w.dirty.Apply(ctx, func(ctx context.Context) (bool, error) {
			var err error
			res, err = w.doc.PassClick(ctx, page, x, y)
			return res.Changed, err
		})
		return res, err
	}, done), nil
}

// LoadAreas loads the rectangles of every form field on page, superseding a
// load in progress.
func (w *Widgets) LoadAreas(page int, done Callback[[]engine.Rect]) (*jobs.Job[[]engine.Rect], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return w.areas.Go(func(ctx context.Context) ([]engine.Rect, error) {
		return w.doc.WidgetAreas(ctx, page)
	}, done), nil
}

// Cancel cancels every widget operation in flight.
func (w *Widgets) Cancel() {
	w.text.Cancel()
	w.choice.Cancel()
	w.click.Cancel()
	w.areas.Cancel()
}
