// Package history records finished searches, one row per source, so recent
// prices can be listed without re-running a search.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

// Limits for listing recent rows.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Row is the outcome of one source within one search.
type Row struct {
	SearchID   string    `json:"searchId"`
	Keyword    string    `json:"keyword"`
	Source     string    `json:"source"`
	OK         bool      `json:"ok"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Products   int       `json:"productsCount"`
	TotalFound int       `json:"totalFound,omitempty"`
	BestPrice  *float64  `json:"bestPrice,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
}

// Store persists rows.
type Store interface {
	Insert(ctx context.Context, rows []Row) error
	Recent(ctx context.Context, limit int) ([]Row, error)
}

// Rows flattens a search into one row per source, ordered by source.
func Rows(rec retrieval.SearchRecord) []Row {
	rows := make([]Row, 0, len(rec.Results))
	for _, src := range rec.Results.Sources() {
		res := rec.Results[src]
		row := Row{
			SearchID:   rec.SearchID,
			Keyword:    rec.Keyword,
			Source:     string(src),
			OK:         res.OK(),
			Kind:       string(res.Kind()),
			StartedAt:  rec.StartedAt.UTC(),
			DurationMs: rec.Duration.Milliseconds(),
		}
		if payload, ok := res.Payload(); ok {
			row.Products = len(payload.Products)
			row.TotalFound = payload.TotalFound
			row.BestPrice = lowestPrice(payload.Products)
		} else {
			row.Error = res.Err().Error()
		}
		rows = append(rows, row)
	}
	return rows
}

func lowestPrice(products []retrieval.Product) *float64 {
	var best *float64
	for _, p := range products {
		if p.SellingPrice == nil {
			continue
		}
		if best == nil || *p.SellingPrice < *best {
			v := *p.SellingPrice
			best = &v
		}
	}
	return best
}

// ClampLimit maps a requested page size onto [1, MaxLimit], using
// DefaultLimit for non-positive values.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// Recorder adapts a Store to retrieval.Recorder.
type Recorder struct {
	store Store
}

// NewRecorder wraps store.
func NewRecorder(store Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	return &Recorder{store: store}, nil
}

// Record implements retrieval.Recorder.
func (r *Recorder) Record(ctx context.Context, rec retrieval.SearchRecord) error {
	rows := Rows(rec)
	if len(rows) == 0 {
		return nil
	}
	if err := r.store.Insert(ctx, rows); err != nil {
		return fmt.Errorf("record search %s: %w", rec.SearchID, err)
	}
	return nil
}

// Recent lists the newest rows.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Row, error) {
	rows, err := r.store.Recent(ctx, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent searches: %w", err)
	}
	return rows, nil
}
