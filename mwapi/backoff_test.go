package mwapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maxlagResponse(lag float64) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Envelope:   Envelope{Error: &MWError{Code: "maxlag", Info: "Waiting for db", Lag: lag}},
	}
}

func TestBackoffPolicy_Decide(t *testing.T) {
	t.Parallel()

	p := DefaultBackoffPolicy()
	ok := &Response{StatusCode: http.StatusOK}

	tests := []struct {
		name   string
		st     RetryState
		resp   *Response
		err    error
		action Action
		delay  time.Duration
	}{
		{name: "success", resp: ok, action: Proceed},
		{name: "first maxlag", resp: maxlagResponse(0), action: RetryAfter, delay: time.Second},
		{name: "third maxlag doubles", st: RetryState{LagRetries: 2}, resp: maxlagResponse(0), action: RetryAfter, delay: 4 * time.Second},
		{name: "lag hint wins when longer", resp: maxlagResponse(7.5), action: RetryAfter, delay: 7500 * time.Millisecond},
		{name: "delay capped", st: RetryState{LagRetries: 4}, resp: maxlagResponse(600), action: RetryAfter, delay: time.Minute},
		{name: "maxlag budget spent", st: RetryState{LagRetries: 5}, resp: maxlagResponse(0), action: Abort},
		{name: "other api error", resp: &Response{Envelope: Envelope{Error: &MWError{Code: "permissiondenied"}}}, action: Abort},
		{name: "connection reset", err: syscall.ECONNRESET, action: RetryAfter, delay: 500 * time.Millisecond},
		{name: "eof second retry", st: RetryState{TransportRetries: 1}, err: io.ErrUnexpectedEOF, action: RetryAfter, delay: time.Second},
		{name: "transport budget spent", st: RetryState{TransportRetries: 3}, err: io.EOF, action: Abort},
		{name: "canceled", err: context.Canceled, action: Abort},
		{name: "not transient", err: errors.New("x509: certificate signed by unknown authority"), action: Abort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.st, tt.resp, tt.err)
			assert.Equal(t, tt.action, d.Action, d.Action.String())
			if tt.action == RetryAfter {
				assert.Equal(t, tt.delay, d.Delay)
			}
			if tt.action == Abort {
				assert.Error(t, d.Err)
			}
		})
	}
}

func TestBackoffPolicy_ExhaustionErrors(t *testing.T) {
	t.Parallel()

	p := DefaultBackoffPolicy()

	d := p.Decide(RetryState{LagRetries: 5}, maxlagResponse(1), nil)
	assert.ErrorIs(t, d.Err, ErrRetryExhausted)
	assert.True(t, IsMaxLag(d.Err))

	d = p.Decide(RetryState{TransportRetries: 3}, nil, syscall.ECONNREFUSED)
	var te *TransportError
	require.ErrorAs(t, d.Err, &te)
	assert.Equal(t, 4, te.Attempts)
	assert.ErrorIs(t, d.Err, syscall.ECONNREFUSED)
}

func TestLagHint_RetryAfterHeader(t *testing.T) {
	t.Parallel()

	resp := maxlagResponse(0)
	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, lagHint(resp))

	resp = maxlagResponse(0)
	resp.Error.Data = map[string]any{"lag": 2.0}
	assert.Equal(t, 2*time.Second, lagHint(resp))
}

func TestClient_RetriesMaxLagThenSucceeds(t *testing.T) {
	t.Parallel()

	var edits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if isTokenQuery(r, TokenCSRF) {
			writeJSON(w, tokenResponse(TokenCSRF, "T"))
			return
		}
		if edits.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, map[string]any{"error": map[string]any{"code": "maxlag", "info": "Waiting", "lag": 0.001}})
			return
		}
		writeJSON(w, map[string]any{"edit": map[string]any{"result": "Success"}})
	})

	c, ctx := newTestClient(t, srv)
	resp, err := c.PostWithToken(ctx, TokenCSRF, map[string]any{"action": "edit", "title": "X"}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.EqualValues(t, 3, edits.Load())
}

func TestClient_MaxLagExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, "maxlag", "Waiting for a database server")
	})

	c, ctx := newTestClient(t, srv)
	_, err := c.Get(ctx, Params{"meta": "siteinfo"})
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.EqualValues(t, fastBackoff().MaxLagRetries+1, calls.Load())
}

// flakyTransport fails the first n round trips with a connection reset.
type flakyTransport struct {
	n     atomic.Int32
	fails int32
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.n.Add(1) <= f.fails {
		return nil, syscall.ECONNRESET
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"batchcomplete": true})
	})

	t.Run("recovers", func(t *testing.T) {
		ft := &flakyTransport{fails: 2}
		c, ctx := newTestClient(t, srv, WithTransport(ft))
		_, err := c.Get(ctx, Params{"meta": "siteinfo"})
		require.NoError(t, err)
		assert.EqualValues(t, 3, ft.n.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		ft := &flakyTransport{fails: 100}
		c, ctx := newTestClient(t, srv, WithTransport(ft))
		_, err := c.Get(ctx, Params{"meta": "siteinfo"})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.EqualValues(t, fastBackoff().TransportRetries+1, ft.n.Load())
	})
}

func TestClient_EditRateLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if isTokenQuery(r, TokenCSRF) {
			writeJSON(w, tokenResponse(TokenCSRF, "T"))
			return
		}
		writeJSON(w, map[string]any{"edit": map[string]any{"result": "Success"}})
	})

	c, ctx := newTestClient(t, srv, WithEditRate(50*time.Millisecond))
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.PostWithToken(ctx, TokenCSRF, map[string]any{"action": "edit", "title": "X"}, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
