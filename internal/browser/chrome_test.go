package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChromeSessionCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>window.__DATA__ = {"items": [{"name": "Dolo 650"}]};</script><div id="grid">ok</div></body></html>`)
	}))
	defer srv.Close()

	m := NewManager(ChromeLauncher(Config{Headless: true, NoSandbox: true, LaunchTimeout: 20 * time.Second}), zap.NewNop())
	defer m.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b, err := m.Acquire(ctx)
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	sess, err := b.NewSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	target := srv.URL + "/products?q=dolo"
	body, err := sess.Capture(target, ResponseMatch{Type: network.ResourceTypeDocument})
	require.NoError(t, err)
	require.Contains(t, string(body), `"items"`)

	require.NoError(t, sess.WaitVisible("#grid", 5*time.Second))
	html, err := sess.OuterHTML("html")
	require.NoError(t, err)
	require.True(t, strings.Contains(html, `id="grid"`))
}
