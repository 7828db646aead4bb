package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

var (
	// ErrUnexpectedStatus is returned when the correlated response carries a
	// status other than the one requested.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrResponseFailed is returned when the correlated request fails to load.
	ErrResponseFailed = errors.New("response failed to load")
	// ErrRedirected is returned when the correlated request is redirected to a
	// URL the match does not accept.
	ErrRedirected = errors.New("response redirected away")
	// ErrResponseNotSeen is returned when navigation finished but the
	// correlated response did not resolve within the grace period.
	ErrResponseNotSeen = errors.New("response not seen after navigation")
)

// ResponseMatch selects one response out of the traffic a page generates.
// Requests are correlated by method and URL; arrival order is irrelevant.
type ResponseMatch struct {
	Method string
	URL    string
	// Status is the required status code. Zero means 200.
	Status int
	// Type restricts the resource type, e.g. network.ResourceTypeDocument.
	// Empty accepts any type.
	Type network.ResourceType
}

func (m ResponseMatch) method() string {
	if m.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(m.Method)
}

func (m ResponseMatch) status() int64 {
	if m.Status == 0 {
		return http.StatusOK
	}
	return int64(m.Status)
}

// responseWaiter follows CDP network events and resolves once the matching
// request has fully loaded. It is registered before navigation starts.
type responseWaiter struct {
	match ResponseMatch
	want  string

	mu         sync.Mutex
	candidates map[network.RequestID]struct{}
	received   map[network.RequestID]struct{}
	done       chan struct{}
	id         network.RequestID
	err        error
}

func newResponseWaiter(match ResponseMatch) *responseWaiter {
	return &responseWaiter{
		match:      match,
		want:       normalizeURL(match.URL),
		candidates: make(map[network.RequestID]struct{}),
		received:   make(map[network.RequestID]struct{}),
		done:       make(chan struct{}),
	}
}

// handle is a chromedp.ListenTarget callback. It runs on the event loop and
// must not block.
func (w *responseWaiter) handle(ev any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished() {
		return
	}
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		// A redirect reuses the request ID with a new URL.
		if w.accepts(e.Request.Method, e.Request.URL, e.Type) {
			w.candidates[e.RequestID] = struct{}{}
			return
		}
		if _, ok := w.candidates[e.RequestID]; !ok {
			return
		}
		delete(w.candidates, e.RequestID)
		if len(w.candidates) == 0 && len(w.received) == 0 {
			w.finish("", fmt.Errorf("%w: %s", ErrRedirected, e.Request.URL))
		}
	case *network.EventResponseReceived:
		if _, ok := w.candidates[e.RequestID]; !ok || e.Response == nil {
			return
		}
		if e.Response.Status != w.match.status() {
			w.finish("", fmt.Errorf("%w: %s returned %d, want %d",
				ErrUnexpectedStatus, e.Response.URL, e.Response.Status, w.match.status()))
			return
		}
		w.received[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		if _, ok := w.received[e.RequestID]; ok {
			w.finish(e.RequestID, nil)
		}
	case *network.EventLoadingFailed:
		if _, ok := w.candidates[e.RequestID]; ok {
			w.finish("", fmt.Errorf("%w: %s", ErrResponseFailed, e.ErrorText))
		}
	}
}

func (w *responseWaiter) accepts(method, rawURL string, typ network.ResourceType) bool {
	if !strings.EqualFold(method, w.match.method()) {
		return false
	}
	if w.match.Type != "" && typ != "" && typ != w.match.Type {
		return false
	}
	return normalizeURL(rawURL) == w.want
}

func (w *responseWaiter) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// finish must be called with mu held.
func (w *responseWaiter) finish(id network.RequestID, err error) {
	w.id = id
	w.err = err
	close(w.done)
}

// wait blocks until the match resolves or ctx ends.
func (w *responseWaiter) wait(ctx context.Context) (network.RequestID, error) {
	select {
	case <-w.done:
		return w.result()
	case <-ctx.Done():
		return "", fmt.Errorf("wait for %s %s: %w", w.match.method(), w.match.URL, ctx.Err())
	}
}

// waitAfterLoad is wait for a page whose navigation already finished. An
// outcome still unknown after grace is ErrResponseNotSeen, so callers can tell
// it apart from their own deadline.
func (w *responseWaiter) waitAfterLoad(ctx context.Context, grace time.Duration) (network.RequestID, error) {
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	id, err := w.wait(graceCtx)
	if err == nil {
		return id, nil
	}
	if w.resolved() {
		return w.result()
	}
	if ctx.Err() != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %s %s within %s", ErrResponseNotSeen, w.match.method(), w.match.URL, grace)
}

// resolved reports whether the outcome is already known.
func (w *responseWaiter) resolved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished()
}

func (w *responseWaiter) result() (network.RequestID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id, w.err
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = u.Query().Encode()
	return u.String()
}
