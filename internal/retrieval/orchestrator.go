package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/events"
)

// DefaultTaskTimeout bounds a source without a configured timeout.
const DefaultTaskTimeout = 30 * time.Second

// OrchestratorConfig wires the Orchestrator's collaborators. Only Browsers is
// required by browser-backed adapters; the rest default to no-ops.
type OrchestratorConfig struct {
	Browsers       Browsers
	Emitter        events.Emitter
	Logger         *zap.Logger
	DefaultTimeout time.Duration
	Now            func() time.Time
}

// Orchestrator runs every enabled adapter concurrently, each under its own
// deadline, and folds the outcomes into one Aggregate.
type Orchestrator struct {
	adapters       map[Source]Adapter
	browsers       Browsers
	emitter        events.Emitter
	logger         *zap.Logger
	tracer         trace.Tracer
	defaultTimeout time.Duration
	now            func() time.Time
}

type nopEmitter struct{}

func (nopEmitter) Emit(events.Event) {}

// NewOrchestrator registers adapters by their Source. A later adapter for the
// same Source replaces an earlier one.
func NewOrchestrator(cfg OrchestratorConfig, adapters ...Adapter) *Orchestrator {
	o := &Orchestrator{
		adapters:       make(map[Source]Adapter, len(adapters)),
		browsers:       cfg.Browsers,
		emitter:        cfg.Emitter,
		logger:         cfg.Logger,
		tracer:         otel.Tracer("github.com/JakeFAU/medprice/internal/retrieval"),
		defaultTimeout: cfg.DefaultTimeout,
		now:            cfg.Now,
	}
	if o.emitter == nil {
		o.emitter = nopEmitter{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.defaultTimeout <= 0 {
		o.defaultTimeout = DefaultTaskTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	for _, a := range adapters {
		o.adapters[a.Source()] = a
	}
	return o
}

// Has reports whether an adapter is registered for src.
func (o *Orchestrator) Has(src Source) bool {
	_, ok := o.adapters[src]
	return ok
}

// Run executes plan. The returned Aggregate has exactly one entry per source
// in plan.Enabled, and Run returns no later than the largest per-source
// timeout (or earlier if ctx ends).
func (o *Orchestrator) Run(ctx context.Context, plan Plan) Aggregate {
	start := o.now()
	o.emit(events.Event{SearchID: plan.SearchID, Stage: events.StageSearchStart, Keyword: plan.Keyword})

	agg := make(Aggregate, len(plan.Enabled))
	var mu sync.Mutex
	var wg conc.WaitGroup
	seen := make(map[Source]struct{}, len(plan.Enabled))
	for _, src := range plan.Enabled {
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		wg.Go(func() {
			res := o.runTask(ctx, plan, src)
			mu.Lock()
			agg[src] = res
			mu.Unlock()
		})
	}
	wg.Wait()

	elapsed := o.now().Sub(start)
	o.emit(events.Event{
		SearchID: plan.SearchID,
		Stage:    events.StageSearchDone,
		Keyword:  plan.Keyword,
		Dur:      max(elapsed, 0),
		Note:     fmt.Sprintf("%d/%d sources succeeded", agg.Succeeded(), len(agg)),
	})
	o.logger.Info("search finished",
		zap.String("search_id", plan.SearchID),
		zap.String("keyword", plan.Keyword),
		zap.Int("sources", len(agg)),
		zap.Int("succeeded", agg.Succeeded()),
		zap.Duration("elapsed", elapsed),
	)
	return agg
}

func (o *Orchestrator) timeoutFor(plan Plan, src Source) time.Duration {
	if d, ok := plan.Timeouts[src]; ok {
		return d
	}
	return o.defaultTimeout
}

func (o *Orchestrator) runTask(ctx context.Context, plan Plan, src Source) Result {
	timeout := o.timeoutFor(plan, src)
	ctx, span := o.tracer.Start(ctx, "source.fetch", trace.WithAttributes(
		attribute.String("medprice.source", string(src)),
		attribute.String("medprice.search_id", plan.SearchID),
		attribute.Int64("medprice.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	o.emit(events.Event{SearchID: plan.SearchID, Stage: events.StageTaskStart, Source: string(src)})
	start := o.now()

	res := o.fetch(ctx, plan.Keyword, src, timeout)

	elapsed := max(o.now().Sub(start), 0)
	kind := res.Kind()
	evt := events.Event{
		SearchID: plan.SearchID,
		Source:   string(src),
		Products: res.ProductsCount(),
		Kind:     string(kind),
		Dur:      elapsed,
	}
	logger := o.logger.With(
		zap.String("search_id", plan.SearchID),
		zap.String("source", string(src)),
		zap.Duration("elapsed", elapsed),
	)
	switch {
	case res.OK():
		evt.Stage = events.StageTaskDone
		span.SetAttributes(attribute.Int("medprice.products", res.ProductsCount()))
		logger.Info("source succeeded", zap.Int("products", res.ProductsCount()))
	case kind == KindTimeout:
		evt.Stage = events.StageTaskTimeout
		evt.Note = res.Err().Error()
		span.SetStatus(codes.Error, "timeout")
		logger.Warn("source timed out", zap.Duration("timeout", timeout))
	default:
		evt.Stage = events.StageTaskFailed
		evt.Note = res.Err().Error()
		span.RecordError(res.Err())
		span.SetStatus(codes.Error, string(kind))
		logger.Warn("source failed", zap.String("kind", string(kind)), zap.Error(res.Err()))
	}
	o.emit(evt)
	return res
}

func (o *Orchestrator) fetch(ctx context.Context, keyword string, src Source, timeout time.Duration) Result {
	adapter, ok := o.adapters[src]
	if !ok {
		return Failuref("no adapter registered for %s", src)
	}
	res, err := RunWithDeadline(ctx, string(src), timeout, func(taskCtx context.Context) Result {
		return adapter.Fetch(taskCtx, keyword, o.browsers)
	})
	switch {
	case err == nil:
		return res
	case errors.Is(err, ErrPanic):
		return Failure(fmt.Errorf("%s %w", src, err))
	default:
		return Failure(err)
	}
}

func (o *Orchestrator) emit(evt events.Event) {
	evt.TS = o.now()
	o.emitter.Emit(evt)
}
