package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/folio-reader/folio/internal/engine"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
)

type Signatures struct {
	doc   engine.Signer
	dirty *DirtyTracker
	check *Flight[string]
	sign  *Flight[bool]
}

func NewSignatures(s *jobs.Scheduler, doc engine.Signer, dirty *DirtyTracker) *Signatures {
	return &Signatures{
		doc:   doc,
		dirty: dirty,
		check: NewFlight[string](s, nil, Options{Name: "signature.check", CancelPrevious: true}),
		sign:  NewFlight[bool](s, dirty, Options{Name: "signature.sign", CancelPrevious: true}),
	}
}

// CheckFocused reports the verification state of the focused signature field.
func (g *Signatures) CheckFocused(done Callback[string]) *jobs.Job[string] {
	return g.check.Go(g.doc.CheckFocusedSignature, done)
}

// SignFocused signs the focused signature field with the key in keyFile.
// The callback receives false when the password was rejected, in which case
// the document is not marked dirty.
func (g *Signatures) SignFocused(keyFile, password string, done Callback[bool]) (*jobs.Job[bool], error) {
	if strings.TrimSpace(keyFile) == "" {
		return nil, fmt.Errorf("key file is required: %w", model.ErrInvalidInput)
	}
	return g.sign.Go(func(ctx context.Context) (bool, error) {
		var signed bool
		err := g.dirty.Apply(ctx, func(ctx context.Context) (bool, error) {
			var err error
			signed, err = g.doc.SignFocusedSignature(ctx, keyFile, password)
			return signed, err
		})
		return signed, err
	}, done), nil
}

func (g *Signatures) Cancel() {
	g.check.Cancel()
	g.sign.Cancel()
}
