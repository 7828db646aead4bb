package scan

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentAfterIgnoresBracketsInsideStrings(t *testing.T) {
	t.Parallel()

	doc := `prefix {"items":[{"a":"]"},{"b":1}]} suffix`
	got, err := SegmentAfter(doc, `"items":[`)
	require.NoError(t, err)
	require.Equal(t, `[{"a":"]"},{"b":1}]`, got)
}

func TestSegmentCases(t *testing.T) {
	t.Parallel()

	itemsMarker := regexp.MustCompile(`"items"\s*:\s*\[`)
	testCases := []struct {
		name    string
		doc     string
		marker  *regexp.Regexp
		want    string
		wantErr bool
	}{
		{
			name:   "whitespace around colon",
			doc:    `<script>window.__DATA__={"page":1,"items" :  [1,[2,3],4],"x":[]}</script>`,
			marker: itemsMarker,
			want:   `[1,[2,3],4]`,
		},
		{
			name:   "escaped quote keeps string open",
			doc:    `"items":[{"name":"say \"]\" twice"}] trailing ]`,
			marker: itemsMarker,
			want:   `[{"name":"say \"]\" twice"}]`,
		},
		{
			name:   "escaped backslash closes string",
			doc:    `"items":[{"path":"C:\\"},{"n":"["}]`,
			marker: itemsMarker,
			want:   `[{"path":"C:\\"},{"n":"["}]`,
		},
		{
			name:   "first match wins",
			doc:    `"items":[1] "items":[2]`,
			marker: itemsMarker,
			want:   `[1]`,
		},
		{
			name:   "marker before whitespace and object",
			doc:    `var state =   {"a":{"b":"}"}} rest`,
			marker: regexp.MustCompile(`var state =`),
			want:   `{"a":{"b":"}"}}`,
		},
		{
			name:    "no marker",
			doc:     `<html><body>nothing here</body></html>`,
			marker:  itemsMarker,
			wantErr: true,
		},
		{
			name:    "unterminated structure",
			doc:     `"items":[{"a":1},{"b":2}`,
			marker:  itemsMarker,
			wantErr: true,
		},
		{
			name:    "marker not followed by bracket",
			doc:     `var state = "hello"`,
			marker:  regexp.MustCompile(`var state =`),
			wantErr: true,
		},
		{
			name:    "nil marker",
			doc:     `"items":[]`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Segment(tc.doc, tc.marker)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrNotFound)
				require.Empty(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSegmentIsRestartable(t *testing.T) {
	t.Parallel()

	doc := `{"items":[{"id":1}]}`
	for range 3 {
		got, err := SegmentAfter(doc, `"items":[`)
		require.NoError(t, err)
		require.Equal(t, `[{"id":1}]`, got)
	}
}

func TestSegmentLargeEmbeddedPayload(t *testing.T) {
	t.Parallel()

	var items []map[string]string
	for range 500 {
		items = append(items, map[string]string{"name": `Dolo 650 [strip] "tab"`})
	}
	payload, err := json.Marshal(items)
	require.NoError(t, err)
	doc := "<html><script>" + strings.Repeat(" ", 1024) + `{"items":` + string(payload) + `}</script></html>`

	got, err := SegmentAfter(doc, `"items":[`)
	require.NoError(t, err)
	require.JSONEq(t, string(payload), got)
}

func TestSegmentAfterEmptyMarker(t *testing.T) {
	t.Parallel()

	_, err := SegmentAfter(`[1]`, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func FuzzSegmentAfter(f *testing.F) {
	for _, seed := range []string{
		`{"items":[1,2,3]}`,
		`"items":["]","[",{"a":"\"]"}]`,
		`"items":[`,
		``,
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, doc string) {
		got, err := SegmentAfter(doc, `"items":[`)
		if err != nil {
			return
		}
		if !strings.HasPrefix(got, "[") {
			t.Fatalf("segment %q does not start with an opening bracket", got)
		}
		if last := got[len(got)-1]; last != ']' && last != '}' {
			t.Fatalf("segment %q does not end with a closing bracket", got)
		}
		if !strings.Contains(doc, got) {
			t.Fatalf("segment %q is not a substring of the document", got)
		}
	})
}
