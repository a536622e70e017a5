package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	OutputStderr  = "stderr"
	OutputStdout  = "stdout"
	OutputDiscard = "discard"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler appends the attributes stored by ContextAttrs to every record
// logged with a *Context method.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextAttrs returns a context carrying attrs on top of the ones already stored.
// The parent slice is never modified, so sibling contexts do not see each other's attributes.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	parent, _ := ctx.Value(slogKey).([]slog.Attr)
	a := make([]slog.Attr, 0, len(parent)+len(attrs))
	a = append(a, parent...)
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// New returns a JSON logger writing to output, which is one of stderr, stdout,
// discard or a file path. The returned closer releases the file, if any.
func New(verbose bool, output string) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	w, closer, err := writer(output)
	if err != nil {
		return nil, nil, err
	}

	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func writer(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", OutputStderr:
		return os.Stderr, nopCloser{}, nil
	case OutputStdout:
		return os.Stdout, nopCloser{}, nil
	case OutputDiscard:
		return io.Discard, nopCloser{}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", output, err)
	}
	return f, f, nil
}
