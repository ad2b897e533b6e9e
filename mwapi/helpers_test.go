package mwapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code, info string) {
	writeJSON(w, map[string]any{
		"error": map[string]any{"code": code, "info": info},
	})
}

func parseForm(r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		_ = r.ParseMultipartForm(32 << 20)
		return
	}
	_ = r.ParseForm()
}

// fastBackoff keeps retry tests in the millisecond range.
func fastBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxLagRetries:    3,
		LagBaseDelay:     time.Millisecond,
		LagMaxDelay:      5 * time.Millisecond,
		TransportRetries: 2,
		TransportDelay:   time.Millisecond,
	}
}

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) (*Client, context.Context) {
	t.Helper()
	opts = append([]Option{WithBackoff(fastBackoff())}, opts...)
	c := New(srv.URL+"/api.php", opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c, ctx
}

func tokenResponse(tokenType TokenType, value string) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"tokens": map[string]any{string(tokenType) + "token": value},
		},
	}
}

func isTokenQuery(r *http.Request, tokenType TokenType) bool {
	return r.Form.Get("action") == "query" && r.Form.Get("meta") == "tokens" && r.Form.Get("type") == string(tokenType)
}
