package textdoc

import (
	"context"
	"errors"
	"slices"

	"github.com/folio-reader/folio/internal/engine"
)

var ErrClosed = errors.New("document closed")

// PushAlert queues an alert as if a document script raised it.
func (d *Doc) PushAlert(ctx context.Context, a engine.Alert) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}
	select {
	case d.alerts <- a:
		return nil
	case <-d.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Doc) WaitForAlert(ctx context.Context) (*engine.Alert, error) {
	select {
	case <-d.closed:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-d.alerts:
		return &a, nil
	}
}

func (d *Doc) ReplyToAlert(a engine.Alert) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}
	d.replyMx.Lock()
	d.replies = append(d.replies, a)
	d.replyMx.Unlock()
	return nil
}

// Replies returns every reply received so far, in order.
func (d *Doc) Replies() []engine.Alert {
	d.replyMx.Lock()
	defer d.replyMx.Unlock()
	return slices.Clone(d.replies)
}
