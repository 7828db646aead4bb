package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/config"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

const truemedsBody = `{
  "responseData": {
    "productList": [
      {"product": {
        "productCode": "TM-TACR1-011522",
        "skuName": "Dolo 650 Tablet",
        "manufacturerName": "Micro Labs Ltd",
        "mrp": 33.6,
        "sellingPrice": "25.2",
        "packSize": "15",
        "packForm": "Strip"
      }}
    ]
  }
}`

func noChrome(context.Context) (*browser.Browser, error) {
	return nil, errors.New("chrome not installed")
}

func testConfig(t *testing.T, truemedsURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Browser.Prelaunch = true
	cfg.Events.LogEnabled = false
	cfg.Events.Batch.MaxWaitMs = 10
	cfg.Artifacts.Enabled = true
	cfg.Artifacts.Backend = "memory"
	tm := cfg.Sources[string(retrieval.SourceTruemeds)]
	tm.Endpoint = truemedsURL
	cfg.Sources[string(retrieval.SourceTruemeds)] = tm
	return cfg
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithLauncher(noChrome),
	)
	require.NoError(t, err)
	return a
}

func TestBuildAndSearch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("searchString") != "dolo 650" {
			http.Error(w, "unexpected keyword", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(truemedsBody))
	}))
	defer upstream.Close()

	a := buildTestApp(t, testConfig(t, upstream.URL))

	resp, err := a.Search(context.Background(), " dolo 650 ", nil)
	require.NoError(t, err)
	require.Equal(t, "dolo 650", resp.Keyword)
	require.NotEmpty(t, resp.SearchID)
	require.Len(t, resp.Results, len(retrieval.AllSources()))

	truemeds := resp.Results[retrieval.SourceTruemeds]
	require.True(t, truemeds.OK(), "truemeds: %v", truemeds.Err())
	payload, _ := truemeds.Payload()
	require.Equal(t, "Dolo 650 Tablet", payload.Products[0].Name)

	for _, src := range []retrieval.Source{retrieval.SourceApollo, retrieval.SourceNetmeds, retrieval.SourceOneMg, retrieval.SourcePharmEasy} {
		res := resp.Results[src]
		require.False(t, res.OK(), src)
		require.Equal(t, retrieval.KindResource, res.Kind(), src)
	}

	rows, err := a.History().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, len(retrieval.AllSources()))
	for _, row := range rows {
		require.Equal(t, resp.SearchID, row.SearchID)
	}

	var captured bool
	for _, key := range a.artifactStore.Keys() {
		if strings.Contains(key, "truemeds") {
			captured = true
		}
	}
	require.True(t, captured, "expected a raw truemeds capture, got %v", a.artifactStore.Keys())

	a.Close(context.Background())

	msgs := a.publisher.Messages()
	require.NotEmpty(t, msgs)
	require.Equal(t, eventsTopic, msgs[0].Topic)
	require.Equal(t, browser.StateClosed, a.browsers.State())
}

func TestSearchRejectsBlankKeyword(t *testing.T) {
	a := buildTestApp(t, testConfig(t, "http://127.0.0.1:1"))
	defer a.Close(context.Background())

	_, err := a.Search(context.Background(), "   ", nil)
	require.ErrorIs(t, err, retrieval.ErrInvalidKeyword)
}

func TestHandlerServesHealthAndReadiness(t *testing.T) {
	a := buildTestApp(t, testConfig(t, "http://127.0.0.1:1"))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"env":"development"`)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	a.Close(context.Background())

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildFailsOnUnusableArtifactDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Artifacts.Backend = "local"
	cfg.Artifacts.Local.BaseDir = file

	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithLauncher(noChrome),
	)
	require.ErrorContains(t, err, "local artifact store init failed")
}

func TestBuildWithoutEvents(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Events.Enabled = false

	a := buildTestApp(t, cfg)
	defer a.Close(context.Background())
	require.Nil(t, a.hub)
	require.Nil(t, a.publisher)
}
