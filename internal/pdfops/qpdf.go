// Package pdfops rewrites PDF structure (merge, page selection, rotation,
// linearization, encryption) by running the qpdf binary. The whole package is
// gated by a feature flag.
package pdfops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/folio-reader/folio/internal/log"
	"github.com/folio-reader/folio/internal/model"
)

// qpdf exits with 3 when it succeeded with warnings
const exitWarnings = 3

// Toolkit is the structural operation surface consumed by the save controller.
type Toolkit interface {
	Do(ctx context.Context, op Op) error
	Run(ctx context.Context, args []string) bool
	Version(ctx context.Context) (string, error)
	Merge(ctx context.Context, a, b, out string) error
	Extract(ctx context.Context, in, pageSpec, out string) error
	Assemble(ctx context.Context, selections []string, out string) error
	Rotate(ctx context.Context, in, expr, out string) error
	Linearize(ctx context.Context, in, out string) error
	Encrypt(ctx context.Context, in, userPassword, ownerPassword string, keyBits int, out string) error
	Decrypt(ctx context.Context, in, password, out string) error
}

// CommandLog captures one qpdf invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   []string `json:"stderr"`
}

// OpError is a failed structural operation together with its command log.
type OpError struct {
	Op         string     `json:"op"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("qpdf %s failed (exit=%d)", e.Op, e.CommandLog.ExitCode)
	if n := len(e.CommandLog.Stderr); n > 0 {
		msg += ": " + e.CommandLog.Stderr[n-1]
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Config struct {
	Enabled bool
	Path    string
	Timeout time.Duration
	// Runner defaults to ExecRunner logging stderr at debug level.
	Runner Runner
}

type Qpdf struct {
	enabled bool
	path    string
	timeout time.Duration
	runner  Runner
}

func New(cfg Config) *Qpdf {
	q := &Qpdf{
		enabled: cfg.Enabled,
		path:    cfg.Path,
		timeout: cfg.Timeout,
		runner:  cfg.Runner,
	}
	if q.path == "" {
		q.path = model.DefaultQpdfPath
	}
	if q.runner == nil {
		q.runner = ExecRunner{StderrFunc: LogStderr}
	}
	return q
}

// FromConfig builds the toolkit described by the qpdf section of cfg.
func FromConfig(cfg model.Config) (*Qpdf, error) {
	timeout, err := cfg.QpdfTimeout()
	if err != nil {
		return nil, fmt.Errorf("qpdf timeout: %w", err)
	}
	return New(Config{
		Enabled: cfg.QpdfEnabled(),
		Path:    cfg.QpdfPath(),
		Timeout: timeout,
	}), nil
}

func (q *Qpdf) Enabled() bool {
	return q.enabled
}

func (q *Qpdf) disabled(ctx context.Context, op string) error {
	slog.InfoContext(ctx, "qpdf op skipped", "op", op, "reason", "qpdf ops disabled by flag")
	return fmt.Errorf("qpdf %s: qpdf ops disabled by flag: %w", op, model.ErrDisabled)
}

// Do validates op and runs it. The output directory is created and a stale
// output file removed first.
func (q *Qpdf) Do(ctx context.Context, op Op) error {
	if !q.enabled {
		return q.disabled(ctx, op.Name())
	}
	args, err := op.Args()
	if err != nil {
		return err
	}
	if err := prepareOutput(op.Output()); err != nil {
		return &OpError{Op: op.Name(), CommandLog: CommandLog{Command: q.path, ExitCode: -1}, Err: err}
	}

	ctx = log.ContextAttrs(ctx, slog.String("op", op.Name()))
	res := q.runner.Run(ctx, Command{Path: q.path, Args: args, Timeout: q.timeout})
	if err := q.check(res); err != nil {
		logged := args
		if r, ok := op.(redacter); ok {
			logged = r.redact(args)
		}
		opErr := &OpError{
			Op: op.Name(),
			CommandLog: CommandLog{
				Command:  q.path,
				Args:     logged,
				ExitCode: res.ExitCode(),
				Stderr:   res.Stderr,
			},
			Err: err,
		}
		slog.ErrorContext(ctx, "qpdf op failed", "error", opErr)
		return opErr
	}
	slog.DebugContext(ctx, "qpdf op finished", "output", op.Output(), "took", res.Stopped.Sub(res.Started))
	return nil
}

func (q *Qpdf) check(res Result) error {
	if res.Err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(res.Err, &exitErr) && exitErr.ExitCode() == exitWarnings {
		return nil
	}
	if errors.Is(res.Err, exec.ErrNotFound) || errors.Is(res.Err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", model.ErrUnavailable, res.Err)
	}
	return res.Err
}

func prepareOutput(out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Run executes qpdf with raw arguments and reports success.
func (q *Qpdf) Run(ctx context.Context, args []string) bool {
	if !q.enabled {
		_ = q.disabled(ctx, "run")
		return false
	}
	res := q.runner.Run(ctx, Command{Path: q.path, Args: args, Timeout: q.timeout})
	if err := q.check(res); err != nil {
		slog.WarnContext(ctx, "qpdf run failed", "args", strings.Join(args, " "), "error", err)
		return false
	}
	return true
}

// Version probes the binary. It works with the flag off so callers can
// report availability.
func (q *Qpdf) Version(ctx context.Context) (string, error) {
	res := q.runner.Run(ctx, Command{Path: q.path, Args: []string{"--version"}, Timeout: q.timeout})
	if err := q.check(res); err != nil {
		return "", err
	}
	if res.Stdout == nil {
		return "", fmt.Errorf("qpdf --version: no output: %w", model.ErrUnavailable)
	}
	first, _, _ := strings.Cut(res.Stdout.String(), "\n")
	first = strings.TrimSpace(first)
	if v, ok := strings.CutPrefix(first, "qpdf version "); ok {
		return v, nil
	}
	if first == "" {
		return "", fmt.Errorf("qpdf --version: no output: %w", model.ErrUnavailable)
	}
	return first, nil
}

func (q *Qpdf) Merge(ctx context.Context, a, b, out string) error {
	return q.Do(ctx, Merge{A: a, B: b, Out: out})
}

func (q *Qpdf) Extract(ctx context.Context, in, pageSpec, out string) error {
	return q.Do(ctx, Extract{In: in, PageSpec: pageSpec, Out: out})
}

func (q *Qpdf) Assemble(ctx context.Context, selections []string, out string) error {
	return q.Do(ctx, Assemble{Selections: selections, Out: out})
}

func (q *Qpdf) Rotate(ctx context.Context, in, expr, out string) error {
	return q.Do(ctx, Rotate{In: in, Expr: expr, Out: out})
}

func (q *Qpdf) Linearize(ctx context.Context, in, out string) error {
	return q.Do(ctx, Linearize{In: in, Out: out})
}

func (q *Qpdf) Encrypt(ctx context.Context, in, userPassword, ownerPassword string, keyBits int, out string) error {
	return q.Do(ctx, Encrypt{In: in, UserPassword: userPassword, OwnerPassword: ownerPassword, KeyBits: keyBits, Out: out})
}

func (q *Qpdf) Decrypt(ctx context.Context, in, password, out string) error {
	return q.Do(ctx, Decrypt{In: in, Password: password, Out: out})
}

var _ Toolkit = (*Qpdf)(nil)
