package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/folio-reader/folio/internal/autosave"
	"github.com/folio-reader/folio/internal/controller"
	"github.com/folio-reader/folio/internal/engine/textdoc"
	"github.com/folio-reader/folio/internal/jobs"
	"github.com/folio-reader/folio/internal/model"
	"github.com/folio-reader/folio/internal/pdfops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// session is one opened document with the controllers working on it.
type session struct {
	path     string
	sched    *jobs.Scheduler
	doc      *textdoc.Doc
	dirty    *controller.DirtyTracker
	save     *controller.Save
	toolkit  pdfops.Toolkit
	autosave *autosave.Autosave
	metrics  *http.Server
}

// openSession opens the document at path. An empty path opens no document,
// which is enough for the structural operations.
func openSession(ctx context.Context, cfg model.Config, path, metricsAddr string) (*session, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched, err := jobs.NewScheduler(jobs.Config{
		PoolSize:   cfg.PoolSize(),
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}
	s := &session{path: path, sched: sched}

	toolkit, err := pdfops.FromConfig(cfg)
	if err != nil {
		return nil, errors.Join(err, s.Close(ctx))
	}
	s.toolkit = toolkit

	if path != "" {
		doc, err := textdoc.Open(path)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("opening %s: %w", path, err), s.Close(ctx))
		}
		s.doc = doc
		s.dirty = controller.NewDirtyTracker(s.doc)
		s.save = controller.NewSave(sched, s.doc, s.dirty, toolkit)

		if cfg.Autosave != nil && model.Get(cfg.Autosave.Enabled) {
			trigger, err := cfg.Autosave.Trigger()
			if err != nil {
				return nil, errors.Join(err, s.Close(ctx))
			}
			target := path
			if p := model.Get(cfg.Autosave.Path); p != "" {
				target = p
			}
			s.autosave, err = autosave.New(ctx, trigger, target, s.dirty, s.save)
			if err != nil {
				return nil, errors.Join(err, s.Close(ctx))
			}
			s.autosave.Start()
		}
	} else {
		s.save = controller.NewSave(sched, nil, nil, toolkit)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.InfoContext(ctx, "serving metrics", "addr", metricsAddr)
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "metrics server failed", "error", err)
			}
		}()
	}
	return s, nil
}

// Close stops autosave, drains the scheduler and closes the document.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.autosave != nil {
		errs = append(errs, s.autosave.Shutdown())
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	errs = append(errs, s.sched.Shutdown(ctx))
	if s.doc != nil {
		errs = append(errs, s.doc.Close())
	}
	if s.metrics != nil {
		errs = append(errs, s.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// wait blocks until j finished. A cancelled ctx cancels j.
func wait[T any](ctx context.Context, j *jobs.Job[T]) (T, error) {
	select {
	case <-j.Done():
	case <-ctx.Done():
		j.Cancel()
		<-j.Done()
	}
	return j.Result()
}
