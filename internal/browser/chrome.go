package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrBrowserGone reports that the shared instance died under a session.
var ErrBrowserGone = errors.New("browser is no longer running")

// Config controls how Chrome is started.
type Config struct {
	Headless      bool
	ExecPath      string
	NoSandbox     bool
	UserAgent     string
	LaunchTimeout time.Duration
}

const defaultLaunchTimeout = 30 * time.Second

// Browser is one running Chrome process. It is safe for concurrent use;
// every task opens its own Session on it.
type Browser struct {
	ctx        context.Context
	shutdown   func() error
	userAgent  string
	generation uint64
	launchedAt time.Time
	onDead     func(reason string)

	closeOnce sync.Once
	closeErr  error
}

// Generation numbers launches; it grows by one per successful launch.
func (b *Browser) Generation() uint64 {
	return b.generation
}

// Done is closed when the browser context ends.
func (b *Browser) Done() <-chan struct{} {
	return b.ctx.Done()
}

func (b *Browser) close() error {
	b.closeOnce.Do(func() {
		if b.shutdown != nil {
			b.closeErr = b.shutdown()
		}
	})
	return b.closeErr
}

func (b *Browser) reportDead(reason string) {
	if b.onDead != nil {
		b.onDead(reason)
	}
}

// NewSession opens a fresh tab bound to ctx: the tab closes when ctx ends or
// Close is called. A tab that cannot be opened while ctx is still live marks
// the browser dead so the manager relaunches it for later tasks.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	if err := b.ctx.Err(); err != nil {
		b.reportDead("browser context ended")
		return nil, fmt.Errorf("%w: %w", ErrBrowserGone, err)
	}
	tabCtx, cancelTab := chromedp.NewContext(b.ctx)
	stopForward := forwardCancel(ctx, cancelTab)
	if err := chromedp.Run(tabCtx); err != nil {
		stopForward()
		cancelTab()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open tab: %w", ctx.Err())
		}
		b.reportDead(err.Error())
		return nil, fmt.Errorf("%w: open tab: %w", ErrBrowserGone, err)
	}
	return &Session{
		ctx:       tabCtx,
		userAgent: b.userAgent,
		cancel: func() {
			stopForward()
			cancelTab()
		},
	}, nil
}

// ChromeLauncher returns a LaunchFunc starting a local Chrome with cfg.
func ChromeLauncher(cfg Config) LaunchFunc {
	return func(ctx context.Context) (*Browser, error) {
		timeout := cfg.LaunchTimeout
		if timeout <= 0 {
			timeout = defaultLaunchTimeout
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		// The first Run starts the process. It runs on the long-lived browser
		// context, so the launch deadline is enforced from the outside.
		warm := make(chan error, 1)
		go func() { warm <- chromedp.Run(browserCtx) }()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		var err error
		select {
		case err = <-warm:
		case <-timer.C:
			err = fmt.Errorf("chrome did not start within %s", timeout)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}

		return &Browser{
			ctx:       browserCtx,
			userAgent: cfg.UserAgent,
			shutdown: func() error {
				defer allocCancel()
				if err := chromedp.Cancel(browserCtx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("close chrome: %w", err)
				}
				return nil
			},
		}, nil
	}
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// forwardCancel cancels child when parent ends. The returned function stops
// the forwarding goroutine.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
