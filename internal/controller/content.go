package controller

import (
	"context"
	"fmt"
	"slices"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
	"github.com/folio-reader/folio/internal/parallel"
)

// PageContent is everything the content controller extracts from one page.
type PageContent struct {
	Page        int
	Lines       []engine.TextLine
	Links       []engine.Link
	Annotations []engine.Annotation
}

// Content loads text, links and annotations. Each kind is single-flight, so
// turning pages quickly only finishes the load of the last one.
type Content struct {
	doc   engine.ContentReader
	limit int
	text  *Flight[[]engine.TextLine]
	links *Flight[[]engine.Link]
	notes *Flight[[]engine.Annotation]
	pages *Flight[[]PageContent]
}

// NewContent returns a content controller. limit bounds the pages LoadPages
// reads concurrently.
func NewContent(s *jobs.Scheduler, doc engine.ContentReader, limit int) *Content {
	return &Content{
		doc:   doc,
		limit: max(limit, 1),
		text:  NewFlight[[]engine.TextLine](s, nil, Options{Name: "content.text", CancelPrevious: true}),
		links: NewFlight[[]engine.Link](s, nil, Options{Name: "content.links", CancelPrevious: true}),
		notes: NewFlight[[]engine.Annotation](s, nil, Options{Name: "content.annotations", CancelPrevious: true}),
		pages: NewFlight[[]PageContent](s, nil, Options{Name: "content.pages", CancelPrevious: true}),
	}
}

func (c *Content) LoadText(page int, done Callback[[]engine.TextLine]) (*jobs.Job[[]engine.TextLine], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return c.text.Go(func(ctx context.Context) ([]engine.TextLine, error) {
		return c.doc.TextLines(ctx, page)
	}, done), nil
}

func (c *Content) LoadLinks(page int, done Callback[[]engine.Link]) (*jobs.Job[[]engine.Link], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return c.links.Go(func(ctx context.Context) ([]engine.Link, error) {
		return c.doc.Links(ctx, page)
	}, done), nil
}

func (c *Content) LoadAnnotations(page int, done Callback[[]engine.Annotation]) (*jobs.Job[[]engine.Annotation], error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	return c.notes.Go(func(ctx context.Context) ([]engine.Annotation, error) {
		return c.doc.Annotations(ctx, page)
	}, done), nil
}

// LoadPages extracts the full content of several pages at once, keeping the
// order of pages in the result.
func (c *Content) LoadPages(pages []int, done Callback[[]PageContent]) (*jobs.Job[[]PageContent], error) {
	for _, p := range pages {
		if err := checkPage(p); err != nil {
			return nil, err
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to load: %w", model.ErrInvalidInput)
	}
	pages = slices.Clone(pages)
	return c.pages.Go(func(ctx context.Context) ([]PageContent, error) {
		return parallel.Map(ctx, c.limit, pages, c.load)
	}, done), nil
}

func (c *Content) load(ctx context.Context, page int) (PageContent, error) {
	var err error
	pc := PageContent{Page: page}
	if pc.Lines, err = c.doc.TextLines(ctx, page); err != nil {
		return pc, fmt.Errorf("text of page %d: %w", page, err)
	}
	if pc.Links, err = c.doc.Links(ctx, page); err != nil {
		return pc, fmt.Errorf("links of page %d: %w", page, err)
	}
	if pc.Annotations, err = c.doc.Annotations(ctx, page); err != nil {
		return pc, fmt.Errorf("annotations of page %d: %w", page, err)
	}
	return pc, nil
}

func (c *Content) Cancel() {
	c.text.Cancel()
	c.links.Cancel()
	c.notes.Cancel()
	c.pages.Cancel()
}
