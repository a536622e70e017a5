package controller

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
	"github.com/folio-reader/folio/internal/pdfops"
)

// ExportTask writes the document somewhere else, e.g. a flattened copy.
type ExportTask func(ctx context.Context) error

// Save persists the document and runs structural operations. Saving and
// exporting share one single-flight slot; structural operations another.
type Save struct {
	doc   engine.Saver
	dirty *DirtyTracker
	ops   pdfops.Toolkit
	save  *Flight[struct{}]
	op    *Flight[struct{}]
}

func NewSave(s *jobs.Scheduler, doc engine.Saver, dirty *DirtyTracker, ops pdfops.Toolkit) *Save {
	return &Save{
		doc:   doc,
		dirty: dirty,
		ops:   ops,
		save:  NewFlight[struct{}](s, nil, Options{Name: "save", CancelPrevious: true}),
		op:    NewFlight[struct{}](s, nil, Options{Name: "pdfops", CancelPrevious: true}),
	}
}

// Save writes the document to path while no mutation is in flight.
func (c *Save) Save(path string, done func(error)) (*jobs.Job[struct{}], error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("save path is required: %w", model.ErrInvalidInput)
	}
	return c.save.Go(unit(func(ctx context.Context) error {
		return c.dirty.Exclusive(ctx, func(ctx context.Context) error {
			return c.doc.Save(ctx, path)
		})
	}), errCallback(done)), nil
}

func (c *Save) Export(task ExportTask, done func(error)) (*jobs.Job[struct{}], error) {
	if task == nil {
		return nil, fmt.Errorf("export task is required: %w", model.ErrInvalidInput)
	}
	return c.save.Go(unit(func(ctx context.Context) error {
		return c.dirty.Exclusive(ctx, task)
	}), errCallback(done)), nil
}

// Structural validates op synchronously and runs it through the toolkit.
// Invalid input returns an error and no Job.
func (c *Save) Structural(op pdfops.Op, done func(error)) (*jobs.Job[struct{}], error) {
	if _, err := op.Args(); err != nil {
		return nil, err
	}
	return c.op.Go(unit(func(ctx context.Context) error {
		return c.ops.Do(ctx, op)
	}), errCallback(done)), nil
}

func (c *Save) Merge(a, b, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Merge{A: a, B: b, Out: out}, done)
}

func (c *Save) Extract(in, pageSpec, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Extract{In: in, PageSpec: pageSpec, Out: out}, done)
}

func (c *Save) Assemble(selections []string, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Assemble{Selections: slices.Clone(selections), Out: out}, done)
}

func (c *Save) Rotate(in, expr, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Rotate{In: in, Expr: expr, Out: out}, done)
}

func (c *Save) Linearize(in, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Linearize{In: in, Out: out}, done)
}

func (c *Save) Encrypt(in, userPassword, ownerPassword string, keyBits int, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Encrypt{
		In:            in,
		UserPassword:  userPassword,
		OwnerPassword: ownerPassword,
		KeyBits:       keyBits,
		Out:           out,
	}, done)
}

func (c *Save) Decrypt(in, password, out string, done func(error)) (*jobs.Job[struct{}], error) {
	return c.Structural(pdfops.Decrypt{In: in, Password: password, Out: out}, done)
}

func (c *Save) Cancel() {
	c.save.Cancel()
	c.op.Cancel()
}
