package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/medprice/internal/events"
)

// PrometheusSink turns task events into per-source counters and latency
// histograms.
type PrometheusSink struct {
	searches      prometheus.Counter
	tasksInFlight *prometheus.GaugeVec
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	products      *prometheus.CounterVec
}

// NewPrometheusSink registers its collectors on reg (the default registerer
// when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medprice_searches_total",
			Help: "Searches started.",
		}),
		tasksInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medprice_source_tasks_in_flight",
			Help: "Source tasks started but not yet finished.",
		}, []string{"source"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medprice_source_tasks_total",
			Help: "Finished source tasks by outcome and failure kind.",
		}, []string{"source", "outcome", "kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medprice_source_task_duration_seconds",
			Help:    "Wall time per source task.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}, []string{"source", "outcome"}),
		products: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medprice_source_products_total",
			Help: "Products returned per source.",
		}, []string{"source"}),
	}
	for _, c := range []prometheus.Collector{s.searches, s.tasksInFlight, s.tasks, s.taskDuration, s.products} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case events.StageSearchStart:
			s.searches.Inc()
		case events.StageTaskStart:
			s.tasksInFlight.WithLabelValues(evt.Source).Inc()
		case events.StageTaskDone, events.StageTaskFailed, events.StageTaskTimeout:
			s.finish(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt events.Event) {
	outcome := "success"
	switch evt.Stage {
	case events.StageTaskFailed:
		outcome = "failure"
	case events.StageTaskTimeout:
		outcome = "timeout"
	}
	kind := evt.Kind
	if kind == "" {
		kind = "none"
	}
	s.tasksInFlight.WithLabelValues(evt.Source).Dec()
	s.tasks.WithLabelValues(evt.Source, outcome, kind).Inc()
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(evt.Source, outcome).Observe(evt.Dur.Seconds())
	}
	if evt.Products > 0 {
		s.products.WithLabelValues(evt.Source).Add(float64(evt.Products))
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
