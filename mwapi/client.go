package mwapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

type Option func(*Client)

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.ua = ua
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if c.hc == nil {
			return
		}
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.hc == nil {
			return
		}
		if d > 0 {
			c.hc.Timeout = d
		}
	}
}

func WithThrowOnApiError(v bool) Option {
	return func(c *Client) {
		c.throwOnApiError = v
	}
}

func WithKeepLogin(v bool) Option {
	return func(c *Client) {
		c.keepLogin = v
	}
}

func WithReloginRetry(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.reloginRetry = n
		}
	}
}

// WithTokenRetry sets how many attempts PostWithToken makes; 2 means one retry after a bad token.
func WithTokenRetry(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.tokenRetry = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithOAuth signs every request with OAuth 1.0a instead of relying on a cookie login.
func WithOAuth(cred OAuthCredentials) Option {
	return func(c *Client) {
		c.oauth = NewOAuthSigner(cred)
	}
}

func WithOAuthSigner(s *OAuthSigner) Option {
	return func(c *Client) {
		c.oauth = s
	}
}

func WithBackoff(p BackoffPolicy) Option {
	return func(c *Client) {
		c.backoff = p
	}
}

// WithMaxLag sets the maxlag value added to state-changing requests. 0 disables it.
func WithMaxLag(seconds int) Option {
	return func(c *Client) {
		if seconds >= 0 {
			c.maxlag = seconds
		}
	}
}

// WithEditRate holds each state-changing request until interval has passed since the previous one.
func WithEditRate(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.editLimiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithMetrics records client counters in reg. NewClient fails when reg rejects a collector
// for any reason other than an identical one already being registered.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		if reg != nil {
			c.metrics, c.initErr = newClientMetrics(reg)
		}
	}
}

// WithDefaultMergePolicy sets the merge policy QueryAll uses when a call does not pass one.
func WithDefaultMergePolicy(p MergePolicy) Option {
	return func(c *Client) {
		c.mergePolicy = p
	}
}

func WithMaxContinuations(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxContinuations = n
		}
	}
}

type cachedToken struct {
	value    string
	identity string
}

// Client talks to one api.php endpoint. It holds one session: a cookie jar,
// a token cache and either no credentials, a cookie login, or OAuth credentials.
// Logins on one Client must not overlap; use separate clients for parallel sessions.
type Client struct {
	endpoint *url.URL
	hc       *http.Client
	ua       string
	logger   zerolog.Logger

	throwOnApiError bool
	keepLogin       bool
	reloginRetry    int
	tokenRetry      int

	oauth       *OAuthSigner
	backoff     BackoffPolicy
	maxlag      int
	editLimiter *rate.Limiter
	metrics     *clientMetrics

	mergePolicy      MergePolicy
	maxContinuations int

	mu     sync.Mutex
	tokens map[TokenType]cachedToken
	_sf    *singleflight.Group

	loggedInUser string
	loginUser    string
	loginPass    string

	siteInfo *Node
	user     *User
	userFor  string

	// initErr is set by options that cannot be applied.
	initErr error
}

func New(endpoint string, opts ...Option) *Client {
	c, err := NewClient(endpoint, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint URL (expect full URL): %q", endpoint)
	}
	if !strings.HasSuffix(u.Path, "api.php") {
		return nil, fmt.Errorf("invalid endpoint path (expect .../api.php): %q", u.Path)
	}

	jar, _ := cookiejar.New(nil)
	hc := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
	}

	c := &Client{
		endpoint:         u,
		hc:               hc,
		ua:               "mwapi-go/0.2",
		logger:           zerolog.Nop(),
		throwOnApiError:  true,
		keepLogin:        true,
		reloginRetry:     3,
		tokenRetry:       2,
		backoff:          DefaultBackoffPolicy(),
		maxlag:           5,
		mergePolicy:      DefaultMergePolicy,
		maxContinuations: DefaultMaxContinuations,
		tokens:           map[TokenType]cachedToken{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.initErr != nil {
		return nil, c.initErr
	}

	if c.hc == nil {
		c.hc = hc
	}
	if c.hc.Jar == nil {
		jar2, _ := cookiejar.New(nil)
		c.hc.Jar = jar2
	}

	return c, nil
}

// Endpoint returns the api.php URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

func (c *Client) Get(ctx context.Context, p any) (*Response, error) {
	return c.do(ctx, http.MethodGet, p, doOptions{})
}

func (c *Client) Post(ctx context.Context, p any) (*Response, error) {
	return c.do(ctx, http.MethodPost, p, doOptions{})
}

type doOptions struct {
	skipAssert  bool
	skipRelogin bool
}

func (c *Client) do(ctx context.Context, method string, p any, opt doOptions) (*Response, error) {
	np, err := normalizeParams(p)
	if err != nil {
		return nil, err
	}
	return c.doParams(ctx, method, np, opt)
}

func (c *Client) doParams(ctx context.Context, method string, np normalizedParams, opt doOptions) (*Response, error) {
	action := strings.ToLower(np.Values.Get("action"))
	meta := strings.ToLower(np.Values.Get("meta"))
	typ := strings.ToLower(np.Values.Get("type"))

	// Keep-login: inject assertuser=username, but never for login or login-token.
	shouldSkipAssert := opt.skipAssert
	if action == "login" {
		shouldSkipAssert = true
	}
	if action == "query" && meta == "tokens" && strings.Contains(typ, "login") {
		shouldSkipAssert = true
	}
	if c.keepLogin && !shouldSkipAssert {
		c.mu.Lock()
		user := c.loggedInUser
		c.mu.Unlock()
		if user != "" && np.Values.Get("assertuser") == "" {
			np.Values.Set("assertuser", user)
		}
	}

	if np.isEditQuery(method) {
		if c.maxlag > 0 && np.Values.Get("maxlag") == "" {
			np.Values.Set("maxlag", strconv.Itoa(c.maxlag))
		}
		if c.editLimiter != nil {
			if err := c.editLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("edit rate limiter wait: %w", err)
			}
		}
	}

	var lastErr error
	maxRelogin := 0
	if !opt.skipRelogin {
		maxRelogin = c.reloginRetry
	}

	for attempt := 0; attempt <= maxRelogin; attempt++ {
		resp, err := c.send(ctx, method, np)
		if err == nil {
			if code := responseErrorCode(resp); isAssertUserFailedCode(code) && attempt < maxRelogin {
				lastErr = &MediaWikiApiError{
					Code:       code,
					Message:    "assertuser failed",
					HTTPStatus: resp.StatusCode,
					Response:   resp,
				}
				if err2 := c.Relogin(ctx); err2 != nil {
					return resp, errors.Join(lastErr, err2)
				}
				continue
			}
			if code := responseErrorCode(resp); isAssertUserFailedCode(code) && attempt == maxRelogin {
				return resp, &MediaWikiApiError{
					Code:       code,
					Message:    "assertuser failed",
					HTTPStatus: resp.StatusCode,
					Response:   resp,
				}
			}
			return resp, nil
		}
		lastErr = err

		e, ok := IsMediaWikiApiError(err)
		if !ok || e.Code == "" || !isAssertUserFailedCode(e.Code) {
			return resp, err
		}
		if attempt == maxRelogin {
			return resp, err
		}
		if err2 := c.Relogin(ctx); err2 != nil {
			return resp, errors.Join(err, err2)
		}
		// Retry the original request after relogin.
	}

	return nil, lastErr
}

// send performs one logical request, retrying maxlag rejections and transient
// connection failures as the backoff policy decides.
func (c *Client) send(ctx context.Context, method string, np normalizedParams) (*Response, error) {
	var st RetryState
	for {
		resp, err := c.doOnce(ctx, method, np)
		if err != nil && ctx.Err() != nil {
			c.metrics.request(method, "canceled")
			return nil, err
		}

		d := c.backoff.Decide(st, resp, err)
		switch d.Action {
		case Proceed:
			c.metrics.request(method, "ok")
			return resp, nil
		case Abort:
			if apiErr, ok := d.Err.(*MediaWikiApiError); ok {
				c.metrics.request(method, "api_error")
				if !c.throwOnApiError {
					return resp, nil
				}
				return resp, apiErr
			}
			if err != nil {
				c.metrics.request(method, "error")
			} else {
				c.metrics.request(method, "api_error")
			}
			return resp, d.Err
		}

		if err != nil {
			st.TransportRetries++
		} else {
			st.LagRetries++
		}
		c.metrics.retry(d.Reason)
		c.logger.Debug().
			Str("reason", d.Reason).
			Int("lag_retries", st.LagRetries).
			Int("transport_retries", st.TransportRetries).
			Dur("delay", d.Delay).
			Err(err).
			Msg("retrying API request")

		if err := sleepContext(ctx, d.Delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method string, np normalizedParams) (*Response, error) {
	req, err := c.buildRequest(ctx, method, np)
	if err != nil {
		return nil, err
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	const maxBody = 32 << 20 // 32MiB
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Raw:        json.RawMessage(body),
	}

	// Best-effort parse; non-JSON bodies leave Body nil.
	_ = json.Unmarshal(body, &resp.Envelope)
	resp.Body, _ = ParseNode(body)

	c.logger.Debug().
		Str("method", method).
		Str("action", np.Values.Get("action")).
		Int("status", res.StatusCode).
		Str("error", responseErrorCode(resp)).
		Msg("API request")

	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, method string, np normalizedParams) (*http.Request, error) {
	base := *c.endpoint
	baseQuery := base.Query()

	if method == http.MethodGet {
		merged := mergeQuery(baseQuery, np.Values)
		base.RawQuery = merged.Encode()
		req, err := http.NewRequestWithContext(ctx, method, base.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.ua)
		if err := c.authorize(req, nil); err != nil {
			return nil, err
		}
		return req, nil
	}

	// POST: body wins if the same key exists in endpoint query.
	if len(np.Values) > 0 {
		for k := range np.Values {
			baseQuery.Del(k)
		}
	}
	base.RawQuery = baseQuery.Encode()

	var body io.Reader
	contentType := "application/x-www-form-urlencoded"
	signed := np.Values

	if len(np.Files) == 0 {
		body = strings.NewReader(np.Values.Encode())
	} else {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, vs := range np.Values {
			if len(vs) == 0 {
				continue
			}
			_ = w.WriteField(k, vs[0])
		}
		for _, f := range np.Files {
			filename := f.File.Filename
			if filename == "" {
				filename = f.Field
			}
			fw, err := w.CreateFormFile(f.Field, filename)
			if err != nil {
				_ = w.Close()
				return nil, err
			}
			if _, err := fw.Write(f.data); err != nil {
				_ = w.Close()
				return nil, err
			}
		}
		_ = w.Close()
		body = &buf
		contentType = w.FormDataContentType()
		// Multipart bodies are not part of the OAuth signature.
		signed = nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.ua)
	if err := c.authorize(req, signed); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) authorize(req *http.Request, form url.Values) error {
	if c.oauth == nil {
		return nil
	}
	h, err := c.oauth.Authorization(req.Method, req.URL.String(), form)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", h)
	return nil
}

func mergeQuery(base url.Values, overlay url.Values) url.Values {
	out := url.Values{}
	for k, vs := range base {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	for k, vs := range overlay {
		// For safety, use Set (single value) for overlay.
		if len(vs) > 0 {
			out.Set(k, vs[0])
		}
	}
	return out
}

func responseApiError(r *Response) *MediaWikiApiError {
	if r == nil || (r.Error == nil && len(r.Errors) == 0) {
		return nil
	}
	var code, msg string
	var errs []MWError
	if r.Error != nil {
		code = r.Error.Code
		msg = firstNonEmpty(r.Error.Info, r.Error.Text)
		errs = append(errs, *r.Error)
	}
	if len(r.Errors) > 0 {
		if code == "" {
			code = r.Errors[0].Code
		}
		if msg == "" {
			msg = firstNonEmpty(r.Errors[0].Info, r.Errors[0].Text)
		}
		errs = append(errs, r.Errors...)
	}
	if msg == "" {
		msg = "MediaWiki API error"
	}
	return &MediaWikiApiError{
		Code:       code,
		Message:    msg,
		HTTPStatus: r.StatusCode,
		Errors:     errs,
		Response:   r,
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
