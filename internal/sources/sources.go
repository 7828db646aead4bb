// Package sources holds one retrieval.Adapter per pharmacy. Browser-backed
// adapters render the search page on the shared browser; truemeds calls its
// JSON API directly. Parsing is kept in pure functions so it can be tested
// against saved documents.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/artifacts"
	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/policy/ratelimit"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

// Options carries what every adapter shares. All fields are optional.
type Options struct {
	Limiter   *ratelimit.Limiter
	Artifacts *artifacts.Recorder
	Logger    *zap.Logger
	// Settle is how long apollo waits after load for client-side rendering.
	Settle time.Duration
}

const defaultSettle = 2500 * time.Millisecond

func (o Options) logger(src retrieval.Source) *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger.Named(string(src))
}

func (o Options) settle() time.Duration {
	if o.Settle <= 0 {
		return defaultSettle
	}
	return o.Settle
}

// All builds every adapter with shared options.
func All(opts Options, truemeds TruemedsConfig) []retrieval.Adapter {
	return []retrieval.Adapter{
		NewApollo(opts),
		NewPharmEasy(opts),
		NewNetmeds(opts),
		NewOneMg(opts),
		NewTruemeds(opts, truemeds),
	}
}

// begin waits for the source's politeness budget and opens a rendering
// session. Failures are wrapped so they classify as resource errors.
func begin(ctx context.Context, opts Options, src retrieval.Source, browsers retrieval.Browsers) (*browser.Session, error) {
	if err := opts.Limiter.Wait(ctx, string(src)); err != nil {
		return nil, err
	}
	if browsers == nil {
		return nil, fmt.Errorf("%w: no browser configured", retrieval.ErrResource)
	}
	b, err := browsers.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", retrieval.ErrResource, err)
	}
	sess, err := b.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", retrieval.ErrResource, err)
	}
	return sess, nil
}

// encodeComponent escapes s like a URI component: spaces become %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// parsePrice keeps the digits and decimal point of a display price such as
// "MRP ₹1,234.50*". It returns nil when nothing numeric is left.
func parsePrice(text string) *float64 {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// firstSrcset returns the URL of the first srcset candidate.
func firstSrcset(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func imageURL(img *goquery.Selection, attrs ...string) string {
	for _, attr := range attrs {
		if attr == "srcset" {
			if v := firstSrcset(img.AttrOr("srcset", "")); v != "" {
				return v
			}
			continue
		}
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", retrieval.ErrExtraction, err)
	}
	return doc, nil
}

func round2(v float64) float64 {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	out, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return v
	}
	return out
}

// noProducts is the shared failure for a parsed page with nothing usable.
func noProducts(src retrieval.Source) error {
	return fmt.Errorf("%s: %w", src, retrieval.ErrNoProducts)
}

var (
	errNoDocument  = errors.New("empty document")
	errNoMenuItems = errors.New("failed to extract menu items")
)
