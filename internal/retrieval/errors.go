package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/scan"
)

// Failure taxonomy. Only ErrInvalidKeyword fails a whole request; the rest
// are reported per source.
var (
	ErrInvalidKeyword = errors.New("keyword must be a non-empty string")
	ErrResource       = errors.New("shared browser unavailable")
	ErrTimeout        = errors.New("timed out")
	ErrExtraction     = errors.New("extraction failed")
	ErrUpstreamShape  = errors.New("unexpected upstream response")
	ErrNoProducts     = fmt.Errorf("%w: no products found in response", ErrUpstreamShape)
	ErrPanic          = errors.New("adapter panicked")
)

// Kind is a coarse failure label used in metrics and events.
type Kind string

// Failure kinds.
const (
	KindNone       Kind = ""
	KindTimeout    Kind = "timeout"
	KindResource   Kind = "resource"
	KindExtraction Kind = "extraction"
	KindUpstream   Kind = "upstream"
	KindPanic      Kind = "panic"
	KindCanceled   Kind = "canceled"
	KindUnknown    Kind = "unknown"
)

// TimeoutError records a task that outlived its deadline.
type TimeoutError struct {
	Label string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %dms", e.Label, e.After.Milliseconds())
}

// Unwrap lets errors.Is match ErrTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Classify maps an error onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrPanic):
		return KindPanic
	case errors.Is(err, ErrResource), errors.Is(err, browser.ErrLaunch), errors.Is(err, browser.ErrClosed):
		return KindResource
	case errors.Is(err, ErrExtraction), errors.Is(err, scan.ErrNotFound):
		return KindExtraction
	case errors.Is(err, ErrUpstreamShape):
		return KindUpstream
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Kind classifies a failed result; successes report KindNone.
func (r Result) Kind() Kind {
	if r.OK() {
		return KindNone
	}
	return Classify(r.Err())
}
