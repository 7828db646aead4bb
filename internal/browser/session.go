package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// captureGrace bounds how long Capture waits for the matched response once
// navigation has finished.
const captureGrace = 3 * time.Second

// Session is one browser tab owned by a single task. It is not safe for
// concurrent use.
type Session struct {
	ctx       context.Context
	cancel    func()
	userAgent string
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
}

// Navigate loads rawURL and waits until the document body is ready.
func (s *Session) Navigate(rawURL string) error {
	if err := chromedp.Run(s.ctx, s.navigateTasks(rawURL)); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

func (s *Session) navigateTasks(rawURL string) chromedp.Tasks {
	tasks := chromedp.Tasks{network.Enable()}
	if s.userAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.userAgent))
	}
	return append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitVisible waits up to timeout for selector to become visible.
func (s *Session) WaitVisible(selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// OuterHTML returns the outer HTML of the first node matching selector.
func (s *Session) OuterHTML(selector string) (string, error) {
	var html string
	if err := chromedp.Run(s.ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html %q: %w", selector, err)
	}
	return html, nil
}

// OuterHTMLAll returns the outer HTML of every node matching selector.
func (s *Session) OuterHTMLAll(selector string) ([]string, error) {
	var out []string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(n => n.outerHTML)`, selector)
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, fmt.Errorf("outer html all %q: %w", selector, err)
	}
	return out, nil
}

// Sleep pauses for d or until the session ends.
func (s *Session) Sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := chromedp.Run(s.ctx, chromedp.Sleep(d)); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}

// Capture navigates to rawURL and returns the body of the response selected
// by match. The matcher is installed before navigation so a response that
// arrives before the load event is still seen. A match redirected away, or
// still unseen shortly after navigation, is an error that does not wrap the
// session's context error.
func (s *Session) Capture(rawURL string, match ResponseMatch) ([]byte, error) {
	if match.URL == "" {
		match.URL = rawURL
	}
	w := newResponseWaiter(match)
	listenCtx, stopListening := context.WithCancel(s.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, w.handle)

	navErr := chromedp.Run(s.ctx, s.navigateTasks(rawURL))
	if navErr != nil && !w.resolved() {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, navErr)
	}
	id, err := w.waitAfterLoad(s.ctx, captureGrace)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var bodyErr error
		body, bodyErr = network.GetResponseBody(id).Do(ctx)
		return bodyErr
	}))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
