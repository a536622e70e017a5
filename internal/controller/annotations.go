package controller

import (
	"context"
	"fmt"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
)

// Annotations edits annotations fire-and-forget: edits run concurrently as
// independent Jobs and are serialized by the dirty tracker.
type Annotations struct {
	doc    engine.AnnotationEditor
	flight *Flight[struct{}]
}

func NewAnnotations(s *jobs.Scheduler, doc engine.AnnotationEditor, dirty *DirtyTracker) *Annotations {
	return &Annotations{
		doc: doc,
		flight: NewFlight[struct{}](s, dirty, Options{
			Name:     "annotation",
			Mutating: true,
		}),
	}
}

func (a *Annotations) AddMarkup(page int, quads []engine.Point, typ engine.AnnotationType, done func(error)) (*jobs.Job[struct{}], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	if !typ.Markup() {
		return nil, fmt.Errorf("annotation type %s is not a markup: %w", typ, model.ErrInvalidInput)
	}
	if len(quads) == 0 || len(quads)%4 != 0 {
		return nil, fmt.Errorf("markup needs quadruples of points, got %d: %w", len(quads), model.ErrInvalidInput)
	}
	return a.submit(func(ctx context.Context) error {
		return a.doc.AddMarkupAnnotation(ctx, page, quads, typ)
	}, done), nil
}

func (a *Annotations) AddText(page int, quads []engine.Point, contents string, done func(error)) (*jobs.Job[struct{}], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	if len(quads) == 0 {
		return nil, fmt.Errorf("text annotation needs a position: %w", model.ErrInvalidInput)
	}
	return a.submit(func(ctx context.Context) error {
		return a.doc.AddTextAnnotation(ctx, page, quads, contents)
	}, done), nil
}

func (a *Annotations) AddInk(page int, arcs [][]engine.Point, done func(error)) (*jobs.Job[struct{}], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	if len(arcs) == 0 {
		return nil, fmt.Errorf("ink annotation needs at least one arc: %w", model.ErrInvalidInput)
	}
	return a.submit(func(ctx context.Context) error {
		return a.doc.AddInkAnnotation(ctx, page, arcs)
	}, done), nil
}

func (a *Annotations) Delete(page, index int, done func(error)) (*jobs.Job[struct{}], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("annotation index %d: %w", index, model.ErrInvalidInput)
	}
	return a.submit(func(ctx context.Context) error {
		return a.doc.DeleteAnnotation(ctx, page, index)
	}, done), nil
}

func (a *Annotations) DeleteByObjectNumber(page int, objectNumber int64, done func(error)) (*jobs.Job[struct{}], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return a.submit(func(ctx context.Context) error {
		return a.doc.DeleteAnnotationByObjectNumber(ctx, page, objectNumber)
	}, done), nil
}

func (a *Annotations) submit(fn func(context.Context) error, done func(error)) *jobs.Job[struct{}] {
	return a.flight.Go(unit(fn), errCallback(done))
}

func unit(fn func(context.Context) error) jobs.Work[struct{}] {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}
}

func errCallback(done func(error)) Callback[struct{}] {
	if done == nil {
		return nil
	}
	return func(_ struct{}, err error) { done(err) }
}

func checkPage(page int) error {
	if page < 0 {
		return fmt.Errorf("page %d: %w", page, model.ErrInvalidInput)
	}
	return nil
}
