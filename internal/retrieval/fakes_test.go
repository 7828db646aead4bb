package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type adapterFunc struct {
	src Source
	fn  func(ctx context.Context, keyword string) Result
}

func (a adapterFunc) Source() Source { return a.src }

func (a adapterFunc) Fetch(ctx context.Context, keyword string, _ Browsers) Result {
	return a.fn(ctx, keyword)
}

func succeed(src Source, n int) Adapter {
	return adapterFunc{src: src, fn: func(context.Context, string) Result {
		products := make([]Product, n)
		for i := range products {
			products[i] = Product{Name: string(src)}
		}
		return Success(products, n, "")
	}}
}

func hangUntilCanceled(src Source) Adapter {
	return adapterFunc{src: src, fn: func(ctx context.Context, _ string) Result {
		<-ctx.Done()
		return Failure(ctx.Err())
	}}
}

func panicking(src Source, v any) Adapter {
	return adapterFunc{src: src, fn: func(context.Context, string) Result {
		panic(v)
	}}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type failingBrowsers struct{}

func (failingBrowsers) Acquire(context.Context) (*browser.Browser, error) {
	return nil, errors.New("no chrome")
}
