package pdfops

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

type StderrFunc func(ctx context.Context, line string)

type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Stderr  []string
	Err     error
}

// ExitCode returns the process exit code or -1 when it did not run to the end.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Runner runs one command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands as child processes. Every stderr line is
// collected in Result.Stderr and passed to StderrFunc, if set.
type ExecRunner struct {
	StderrFunc StderrFunc
}

func (r ExecRunner) Run(ctx context.Context, proto Command) Result {
	res := Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, res.Path, res.Args...)
	if len(proto.Env) > 0 {
		cmd.Env = append([]string(nil), proto.Env...)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		res.Err = err
		return res
	}
	var buf bytes.Buffer
	res.Stdout = &buf
	cmd.Stdout = &buf

	res.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.Err = err
		return res
	}

	// the pipe must be drained before Wait closes it
	lines := make(chan []string, 1)
	go func() {
		lines <- r.processStderr(ctx, stderr)
	}()
	res.Stderr = <-lines

	res.Err = cmd.Wait()
	res.Stopped = time.Now().UTC()
	res.State = cmd.ProcessState
	if res.Err != nil && ctx.Err() != nil {
		res.Err = errors.Join(res.Err, ctx.Err())
	}
	return res
}

func (r ExecRunner) processStderr(ctx context.Context, stderr io.Reader) []string {
	var out []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		out = append(out, line)
		if r.StderrFunc != nil {
			r.StderrFunc(ctx, line)
		}
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
	return out
}

// LogStderr is a StderrFunc forwarding tool output to slog at debug level.
func LogStderr(ctx context.Context, line string) {
	if line = strings.TrimSpace(line); line != "" {
		slog.DebugContext(ctx, "qpdf", "stderr", line)
	}
}
