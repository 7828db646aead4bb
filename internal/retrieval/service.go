package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownSource is returned for a single-source search on a source with no
// registered adapter.
var ErrUnknownSource = errors.New("unknown source")

const defaultHistoryTimeout = time.Second

// IDGenerator creates search IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SearchRecord is what the Service hands to a Recorder after every search.
type SearchRecord struct {
	SearchID  string
	Keyword   string
	StartedAt time.Time
	Duration  time.Duration
	Results   Aggregate
}

// Recorder persists finished searches.
type Recorder interface {
	Record(ctx context.Context, rec SearchRecord) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Orchestrator *Orchestrator
	// Defaults is the enabled set used when a request does not override it.
	// Nil enables every known source.
	Defaults map[Source]bool
	Timeouts map[Source]time.Duration
	IDs      IDGenerator
	Clock    Clock
	Recorder Recorder
	// HistoryTimeout bounds the Recorder call made before Search returns.
	// Zero means one second.
	HistoryTimeout time.Duration
	Logger         *zap.Logger
}

// Service is the request boundary: it validates input, resolves the enabled
// set and runs the orchestrator.
type Service struct {
	orch     *Orchestrator
	defaults map[Source]bool
	timeouts map[Source]time.Duration
	ids      IDGenerator
	clock    Clock
	recorder Recorder
	recordBy time.Duration
	logger   *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// NewService validates cfg and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	s := &Service{
		orch:     cfg.Orchestrator,
		defaults: cfg.Defaults,
		timeouts: cfg.Timeouts,
		ids:      cfg.IDs,
		clock:    cfg.Clock,
		recorder: cfg.Recorder,
		recordBy: cfg.HistoryTimeout,
		logger:   cfg.Logger,
	}
	if s.recordBy <= 0 {
		s.recordBy = defaultHistoryTimeout
	}
	if s.defaults == nil {
		s.defaults = make(map[Source]bool)
		for _, src := range AllSources() {
			s.defaults[src] = true
		}
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Response is the aggregate returned to callers.
type Response struct {
	SearchID string
	Keyword  string
	Duration time.Duration
	Results  Aggregate
}

// MarshalJSON flattens per-source results next to the envelope fields.
func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Results)+4)
	out["success"] = true
	out["searchId"] = r.SearchID
	out["keyword"] = r.Keyword
	out["durationMs"] = r.Duration.Milliseconds()
	for src, res := range r.Results {
		out[string(src)] = res
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}

// NormalizeKeyword trims kw and rejects an empty result.
func NormalizeKeyword(kw string) (string, error) {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return "", ErrInvalidKeyword
	}
	return kw, nil
}

// Search runs every enabled source for keyword. overrides toggles sources by
// name on top of the configured defaults. Only an invalid keyword or a
// failure to mint a search ID is returned as an error.
func (s *Service) Search(ctx context.Context, keyword string, overrides map[string]bool) (Response, error) {
	return s.run(ctx, keyword, EnabledSet(s.defaults, overrides))
}

// SearchSource runs a single source regardless of the default enabled set.
func (s *Service) SearchSource(ctx context.Context, src Source, keyword string) (Response, error) {
	if !s.orch.Has(src) {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	return s.run(ctx, keyword, []Source{src})
}

func (s *Service) run(ctx context.Context, keyword string, enabled []Source) (Response, error) {
	kw, err := NormalizeKeyword(keyword)
	if err != nil {
		return Response{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Response{}, fmt.Errorf("new search id: %w", err)
	}

	started := s.clock.Now()
	agg := s.orch.Run(ctx, Plan{
		SearchID: id,
		Keyword:  kw,
		Enabled:  enabled,
		Timeouts: s.timeouts,
	})
	resp := Response{
		SearchID: id,
		Keyword:  kw,
		Duration: max(s.clock.Now().Sub(started), 0),
		Results:  agg,
	}
	s.record(ctx, resp, started)
	return resp, nil
}

func (s *Service) record(ctx context.Context, resp Response, started time.Time) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordBy)
	defer cancel()
	err := s.recorder.Record(ctx, SearchRecord{
		SearchID:  resp.SearchID,
		Keyword:   resp.Keyword,
		StartedAt: started,
		Duration:  resp.Duration,
		Results:   resp.Results,
	})
	if err != nil {
		s.logger.Warn("failed to record search history",
			zap.String("search_id", resp.SearchID),
			zap.Error(err),
		)
	}
}
