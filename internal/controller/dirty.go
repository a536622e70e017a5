package controller

import (
	"context"
	"sync"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
)

// DirtyTracker serializes every mutation of one document together with its
// dirty flag update. A foreground reader of Dirty therefore observes either
// the state before a mutation Job or after it, never in between.
type DirtyTracker struct {
	mx  sync.Mutex
	doc engine.Dirtier
}

func NewDirtyTracker(doc engine.Dirtier) *DirtyTracker {
	return &DirtyTracker{doc: doc}
}

func (d *DirtyTracker) Dirty() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.doc.Dirty()
}

// Apply runs fn exclusively and marks the document dirty when fn succeeds
// and reports a change.
func (d *DirtyTracker) Apply(ctx context.Context, fn func(context.Context) (changed bool, err error)) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	changed, err := fn(ctx)
	if err != nil {
		return err
	}
	if changed {
		d.doc.MarkDirty()
	}
	return nil
}

// Exclusive runs fn without other mutations in flight, for readers of the
// whole document such as save.
func (d *DirtyTracker) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return fn(ctx)
}

// Mutate runs work exclusively and marks the document dirty exactly once if
// it succeeds.
func Mutate[T any](ctx context.Context, d *DirtyTracker, work jobs.Work[T]) (T, error) {
	var v T
	err := d.Apply(ctx, func(ctx context.Context) (bool, error) {
		var err error
		v, err = work(ctx)
		return err == nil, err
	})
	return v, err
}
