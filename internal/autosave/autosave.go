// Package autosave saves a dirty document on a cron or interval schedule.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/folio-reader/folio/internal/controller"
	"github.com/folio-reader/folio/internal/model"
)

type Autosave struct {
	ctx       context.Context
	cancel    context.CancelFunc
	path      string
	dirty     *controller.DirtyTracker
	save      *controller.Save
	scheduler gocron.Scheduler
}

// New prepares an autosave of path. The schedule starts with Start.
func New(ctx context.Context, trigger model.Trigger, path string, dirty *controller.DirtyTracker, save *controller.Save) (*Autosave, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("autosave path is required: %w", model.ErrInvalidInput)
	}

	var job gocron.JobDefinition
	switch {
	case trigger.Cron != "":
		job = gocron.CronJob(trigger.Cron, false)
		slog.DebugContext(ctx, "autosave scheduled", "cron", trigger.Cron)
	case trigger.Every > 0:
		job = gocron.DurationJob(trigger.Every)
		slog.DebugContext(ctx, "autosave scheduled", "every", trigger.Every.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &Autosave{
		ctx:       ctx,
		cancel:    cancel,
		path:      path,
		dirty:     dirty,
		save:      save,
		scheduler: s,
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(a.tick),
		gocron.WithName("autosave"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, errors.Join(
			fmt.Errorf("initializing gocron job: %w", err),
			s.Shutdown(),
		)
	}
	return a, nil
}

func (a *Autosave) Start() {
	a.scheduler.Start()
}

func (a *Autosave) tick() {
	saved, err := a.Tick(a.ctx)
	switch {
	case err != nil:
		slog.ErrorContext(a.ctx, "autosave failed", "path", a.path, "error", err)
	case saved:
		slog.InfoContext(a.ctx, "autosaved", "path", a.path)
	}
}

// Tick saves the document if it is dirty and waits for the save to finish.
func (a *Autosave) Tick(ctx context.Context) (bool, error) {
	if !a.dirty.Dirty() {
		slog.DebugContext(ctx, "document clean: skipping autosave")
		return false, nil
	}
	j, err := a.save.Save(a.path, nil)
	if err != nil {
		return false, err
	}
	select {
	case <-j.Done():
	case <-ctx.Done():
		j.Cancel()
		return false, ctx.Err()
	}
	if _, err := j.Result(); err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown stops the schedule and waits for a running tick.
func (a *Autosave) Shutdown() error {
	a.cancel()
	if err := a.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}
