// Package browser owns the single headless Chrome instance shared by every
// source adapter and hands out per-task rendering sessions on it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/medprice/internal/metrics"
)

var (
	// ErrLaunch wraps every launch failure.
	ErrLaunch = errors.New("browser launch failed")
	// ErrClosed is returned once the manager has been released.
	ErrClosed = errors.New("browser manager closed")
)

// State is the lifecycle of the shared instance.
type State int

// Lifecycle states.
const (
	StateUnstarted State = iota
	StateLaunching
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LaunchFunc starts a new browser. It must not return a nil Browser without
// an error.
type LaunchFunc func(ctx context.Context) (*Browser, error)

const launchKey = "browser"

// Status is a point-in-time view of the manager.
type Status struct {
	State      string    `json:"state"`
	Generation uint64    `json:"generation"`
	LaunchedAt time.Time `json:"launched_at,omitzero"`
}

// Manager lazily launches one Browser and shares it between all callers.
// Concurrent Acquire calls during a launch wait on that same launch.
type Manager struct {
	launch LaunchFunc
	logger *zap.Logger
	flight singleflight.Group

	mu         sync.Mutex
	state      State
	current    *Browser
	generation uint64
}

// NewManager returns a Manager in the Unstarted state.
func NewManager(launch LaunchFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{launch: launch, logger: logger}
}

// Acquire returns the shared Browser, launching it if needed. A failed launch
// is reported to every waiter and leaves the manager Unstarted so the next
// call retries. ctx only bounds this caller's wait, never the launch itself.
func (m *Manager) Acquire(ctx context.Context) (*Browser, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		b := m.current
		m.mu.Unlock()
		return b, nil
	case StateClosed:
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	ch := m.flight.DoChan(launchKey, m.launchShared)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		b, ok := res.Val.(*Browser)
		if !ok || b == nil {
			return nil, fmt.Errorf("%w: launcher returned no browser", ErrLaunch)
		}
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for browser launch: %w", ctx.Err())
	}
}

func (m *Manager) launchShared() (any, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		b := m.current
		m.mu.Unlock()
		return b, nil
	case StateClosed:
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.state = StateLaunching
	m.mu.Unlock()
	metrics.SetBrowserState(StateLaunching.String())

	m.logger.Info("launching shared browser")
	start := time.Now()
	b, err := m.launch(context.Background())
	if err == nil && b == nil {
		err = errors.New("launcher returned no browser")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if m.state == StateLaunching {
			m.state = StateUnstarted
		}
		metrics.ObserveBrowserLaunch("error", time.Since(start))
		metrics.SetBrowserState(m.state.String())
		m.logger.Error("browser launch failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	if m.state == StateClosed {
		m.logger.Info("discarding browser launched after release")
		m.closeBrowser(b)
		return nil, ErrClosed
	}
	m.generation++
	b.generation = m.generation
	b.launchedAt = time.Now()
	b.onDead = func(reason string) { m.invalidate(b, reason) }
	m.current = b
	m.state = StateReady
	metrics.ObserveBrowserLaunch("success", time.Since(start))
	metrics.SetBrowserState(m.state.String())
	m.logger.Info("shared browser ready",
		zap.Uint64("generation", b.generation),
		zap.Duration("elapsed", time.Since(start)),
	)
	go m.watch(b)
	return b, nil
}

func (m *Manager) watch(b *Browser) {
	<-b.Done()
	m.invalidate(b, "browser context ended")
}

// invalidate drops b if it is still the current instance so the next Acquire
// launches a fresh browser.
func (m *Manager) invalidate(b *Browser, reason string) {
	m.mu.Lock()
	if m.state != StateReady || m.current != b {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.state = StateUnstarted
	m.mu.Unlock()
	metrics.SetBrowserState(StateUnstarted.String())

	m.logger.Warn("shared browser lost; next acquire relaunches",
		zap.Uint64("generation", b.generation),
		zap.String("reason", reason),
	)
	m.closeBrowser(b)
}

// Reset tears down the current instance and returns the manager to
// Unstarted. Sessions open on the old instance fail. It is meant for
// operators; tasks never call it.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	b := m.current
	if m.state == StateReady {
		m.current = nil
		m.state = StateUnstarted
	}
	m.mu.Unlock()
	if b != nil {
		metrics.SetBrowserState(StateUnstarted.String())
		m.logger.Info("shared browser reset", zap.Uint64("generation", b.generation))
		m.closeBrowser(b)
	}
	return nil
}

// Release closes the shared instance and moves to Closed for good. It is
// safe to call any number of times. A launch still in progress is discarded
// when it completes.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	b := m.current
	m.current = nil
	m.state = StateClosed
	m.mu.Unlock()
	metrics.SetBrowserState(StateClosed.String())

	if b == nil {
		m.logger.Info("browser manager released before launch")
		return
	}
	m.logger.Info("releasing shared browser", zap.Uint64("generation", b.generation))
	m.closeBrowser(b)
}

// ReleaseOnSignal releases the manager the first time one of signals
// arrives. The returned stop function detaches the handler.
func (m *Manager) ReleaseOnSignal(signals ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	done := make(chan struct{})
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			m.logger.Info("signal received, releasing browser", zap.String("signal", sig.String()))
			m.Release()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status reports state, generation and launch time.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state.String(), Generation: m.generation}
	if m.current != nil {
		st.LaunchedAt = m.current.launchedAt
	}
	return st
}

func (m *Manager) closeBrowser(b *Browser) {
	if err := b.close(); err != nil {
		m.logger.Warn("browser close failed", zap.Error(err), zap.Uint64("generation", b.generation))
	}
}
