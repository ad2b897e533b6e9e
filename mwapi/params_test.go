package mwapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type editParams struct {
	Action  string   `url:"action"`
	Title   string   `url:"title"`
	Tags    []string `url:"tags,omitempty"`
	Bot     bool     `url:"bot,int,omitempty"`
	Section int      `url:"section,omitempty"`
}

func TestNormalizeParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want map[string]string
	}{
		{
			name: "defaults",
			in:   nil,
			want: map[string]string{"action": "query", "format": "json", "formatversion": "2", "errorformat": "plaintext"},
		},
		{
			name: "map any",
			in:   map[string]any{"titles": []string{"A", "B"}, "redirects": true, "minor": false, "limit": 50, "skip": nil},
			want: map[string]string{"titles": "A|B", "redirects": "1", "limit": "50"},
		},
		{
			name: "url values join",
			in:   url.Values{"prop": {"info", "revisions"}},
			want: map[string]string{"prop": "info|revisions"},
		},
		{
			name: "params override defaults",
			in:   Params{"action": "parse", "formatversion": "1"},
			want: map[string]string{"action": "parse", "formatversion": "1"},
		},
		{
			name: "struct",
			in:   editParams{Action: "edit", Title: "Sandbox", Tags: []string{"a", "b"}, Bot: true},
			want: map[string]string{"action": "edit", "title": "Sandbox", "tags": "a|b", "bot": "1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			np, err := normalizeParams(tt.in)
			require.NoError(t, err)
			for k, v := range tt.want {
				assert.Equal(t, v, np.Values.Get(k), k)
			}
			assert.False(t, np.Values.Has("minor"))
			assert.False(t, np.Values.Has("skip"))
		})
	}

	_, err := normalizeParams(42)
	assert.Error(t, err)
}

func TestNormalizeParams_FilesGoMultipart(t *testing.T) {
	t.Parallel()

	var contentType, field string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		parseForm(r)
		field = r.FormValue("filename")
		writeJSON(w, map[string]any{"upload": map[string]any{"result": "Success"}})
	})

	c, ctx := newTestClient(t, srv)
	_, err := c.Post(ctx, map[string]any{
		"action":   "upload",
		"filename": "Example.png",
		"file":     []byte("\x89PNG"),
	})
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/form-data")
	assert.Equal(t, "Example.png", field)
}

func TestParamsEncodeSorted(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a=1&b=x%7Cy&c=", Params{"c": "", "b": "x|y", "a": "1"}.Encode())
}

func TestWithContinuationDoesNotAlias(t *testing.T) {
	t.Parallel()

	np, err := normalizeParams(Params{"list": "allpages"})
	require.NoError(t, err)
	next := np.withContinuation(ContinuationState{"apcontinue": "B", "continue": "-||"})

	assert.Equal(t, "B", next.Values.Get("apcontinue"))
	assert.False(t, np.Values.Has("apcontinue"))
}

func TestPost_FileResentAfterTransportRetry(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		got.Store(string(b))
		writeJSON(w, map[string]any{"upload": map[string]any{"result": "Success"}})
	})

	for name, file := range map[string]any{
		"bytes":  []byte("PNGDATA"),
		"reader": strings.NewReader("PNGDATA"),
		"file":   File{Filename: "Example.png", Reader: strings.NewReader("PNGDATA")},
	} {
		t.Run(name, func(t *testing.T) {
			ft := &flakyTransport{fails: 1}
			c, ctx := newTestClient(t, srv, WithTransport(ft))
			_, err := c.Post(ctx, map[string]any{
				"action":   "upload",
				"filename": "Example.png",
				"file":     file,
			})
			require.NoError(t, err)
			assert.EqualValues(t, 2, ft.n.Load())
			assert.Equal(t, "PNGDATA", got.Load())
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestNormalizeParams_UnreadableFile(t *testing.T) {
	t.Parallel()

	_, err := normalizeParams(map[string]any{"file": failingReader{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestMergeQuery_OverlayWins(t *testing.T) {
	t.Parallel()

	base := url.Values{"title": {"Foo"}, "curid": {"1", "2"}}
	got := mergeQuery(base, url.Values{"title": {"Bar"}, "action": {"raw"}})

	assert.Equal(t, url.Values{"title": {"Bar"}, "curid": {"1", "2"}, "action": {"raw"}}, got)
	assert.Equal(t, "Foo", base.Get("title"))
}
