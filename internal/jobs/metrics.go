package jobs

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	running   *prometheus.GaugeVec
}

// NewMetrics creates the job metrics and registers them on reg when it is
// not nil. Collectors already registered by another Scheduler are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Name:      "jobs_submitted_total",
			Help:      "Jobs submitted to the background pool.",
		}, []string{"job"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"job", "state"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "folio",
			Name:      "jobs_running",
			Help:      "Jobs currently running.",
		}, []string{"job"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	m.submitted, err = register(reg, m.submitted)
	if err != nil {
		return nil, err
	}
	m.finished, err = register(reg, m.finished)
	if err != nil {
		return nil, err
	}
	m.running, err = register(reg, m.running)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}
