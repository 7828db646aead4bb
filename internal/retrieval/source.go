// Package retrieval fans a keyword search out to every enabled pharmacy
// source and folds their outcomes into one aggregate response.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/medprice/internal/browser"
)

// Source identifies one upstream pharmacy.
type Source string

// Known sources.
const (
	SourceApollo    Source = "apollo"
	SourcePharmEasy Source = "pharmeasy"
	SourceNetmeds   Source = "netmeds"
	SourceOneMg     Source = "onemg"
	SourceTruemeds  Source = "truemeds"
)

// AllSources lists every known source in a stable order.
func AllSources() []Source {
	return []Source{SourceApollo, SourcePharmEasy, SourceNetmeds, SourceOneMg, SourceTruemeds}
}

// ParseSource maps a case-insensitive name onto a known Source.
func ParseSource(name string) (Source, bool) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllSources() {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// Browsers hands out the shared rendering engine. *browser.Manager
// satisfies it.
type Browsers interface {
	Acquire(ctx context.Context) (*browser.Browser, error)
}

// Adapter retrieves and normalizes products for a single source.
//
// Fetch must not panic and must report every failure through the returned
// Result. The orchestrator still recovers panics and enforces the deadline,
// so a misbehaving adapter only ever degrades its own key.
type Adapter interface {
	Source() Source
	Fetch(ctx context.Context, keyword string, browsers Browsers) Result
}

// Plan describes one orchestration run.
type Plan struct {
	SearchID string
	Keyword  string
	Enabled  []Source
	Timeouts map[Source]time.Duration
}

// EnabledSet resolves a client supplied toggle map against defaults. Sources
// missing from overrides keep their default; unknown names are ignored.
func EnabledSet(defaults map[Source]bool, overrides map[string]bool) []Source {
	enabled := make(map[Source]bool, len(defaults))
	for src, on := range defaults {
		enabled[src] = on
	}
	for name, on := range overrides {
		if src, ok := ParseSource(name); ok {
			enabled[src] = on
		}
	}
	out := make([]Source, 0, len(enabled))
	for src, on := range enabled {
		if on {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
