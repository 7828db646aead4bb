package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/medprice/internal/config"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

type fakeRunner struct {
	keyword   string
	overrides map[string]bool
	closed    bool
}

func (f *fakeRunner) Run(context.Context) error { return nil }

func (f *fakeRunner) Search(_ context.Context, keyword string, overrides map[string]bool) (retrieval.Response, error) {
	f.keyword = keyword
	f.overrides = overrides
	return retrieval.Response{
		SearchID: "search-1",
		Keyword:  keyword,
		Duration: 1500 * time.Millisecond,
		Results: retrieval.Aggregate{
			retrieval.SourceTruemeds: retrieval.Success([]retrieval.Product{{Name: "Dolo 650 Tablet"}}, 1, ""),
		},
	}, nil
}

func (f *fakeRunner) Close(context.Context) { f.closed = true }

func useFakeApp(t *testing.T) *fakeRunner {
	t.Helper()
	fake := &fakeRunner{}
	prev := buildApp
	buildApp = func(context.Context, config.Config) (runner, error) { return fake, nil }
	t.Cleanup(func() { buildApp = prev })
	return fake
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSearchCommandPrintsAggregate(t *testing.T) {
	fake := useFakeApp(t)

	out, err := execute(t, "search", "dolo", "650")
	require.NoError(t, err)
	require.Equal(t, "dolo 650", fake.keyword)
	require.Nil(t, fake.overrides)
	require.True(t, fake.closed)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "search-1", body["searchId"])
	require.EqualValues(t, 1500, body["durationMs"])
	require.Equal(t, true, body["truemeds"].(map[string]any)["ok"])
}

func TestSearchCommandRestrictsSources(t *testing.T) {
	fake := useFakeApp(t)

	_, err := execute(t, "search", "--sources", "Truemeds,netmeds", "crocin")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{
		"apollo":    false,
		"pharmeasy": false,
		"netmeds":   true,
		"onemg":     false,
		"truemeds":  true,
	}, fake.overrides)
}

func TestSearchCommandRejectsUnknownSource(t *testing.T) {
	fake := useFakeApp(t)

	_, err := execute(t, "search", "--sources", "walmart", "crocin")
	require.ErrorContains(t, err, `unknown source "walmart"`)
	require.Empty(t, fake.keyword)
}

func TestSearchCommandNeedsKeyword(t *testing.T) {
	useFakeApp(t)

	_, err := execute(t, "search")
	require.Error(t, err)
}

func TestMissingConfigFileFails(t *testing.T) {
	useFakeApp(t)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "search", "dolo")
	require.ErrorContains(t, err, "load config")
}

func TestServeCommandRunsApp(t *testing.T) {
	useFakeApp(t)

	_, err := execute(t, "serve")
	require.NoError(t, err)
}
