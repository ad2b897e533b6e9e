package mwapi

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
)

type PostWithTokenOptions struct {
	TokenName string
	Retry     int
	NoCache   bool
}

func (c *Client) InvalidateToken(tokenType TokenType) {
	c.mu.Lock()
	delete(c.tokens, tokenType)
	c.mu.Unlock()
}

func (c *Client) InvalidateAllTokens() {
	c.mu.Lock()
	c.tokens = map[TokenType]cachedToken{}
	c.mu.Unlock()
}

// cachedTokenLocked returns a token cached under the current session identity.
func (c *Client) cachedTokenLocked(tokenType TokenType) (string, bool) {
	ct, ok := c.tokens[tokenType]
	if !ok || ct.value == "" || ct.identity != c.loggedInUser {
		return "", false
	}
	return ct.value, true
}

// GetToken returns the cached token of tokenType, fetching one when the cache is empty
// or was filled under a different login.
func (c *Client) GetToken(ctx context.Context, tokenType TokenType) (string, error) {
	c.mu.Lock()
	if tok, ok := c.cachedTokenLocked(tokenType); ok {
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	// Prevent token stampede within a single process.
	v, err, _ := c.tokenSF().Do("token:"+string(tokenType), func() (any, error) {
		c.mu.Lock()
		if tok, ok := c.cachedTokenLocked(tokenType); ok {
			c.mu.Unlock()
			return tok, nil
		}
		identity := c.loggedInUser
		c.mu.Unlock()

		c.metrics.tokenFetch(tokenType)
		resp, err := c.Post(ctx, map[string]any{
			"action": "query",
			"meta":   "tokens",
			"type":   string(tokenType),
		})
		if err != nil {
			return "", err
		}

		tok, err := extractToken(resp.Body, tokenType)
		if err != nil {
			return "", err
		}
		c.logger.Debug().Str("type", string(tokenType)).Msg("fetched token")

		c.mu.Lock()
		c.tokens[tokenType] = cachedToken{value: tok, identity: identity}
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// PostWithToken posts p with a token of tokenType attached. A bad-token answer
// drops the cached token and retries with a fresh one, up to the configured attempts.
func (c *Client) PostWithToken(ctx context.Context, tokenType TokenType, p map[string]any, opt *PostWithTokenOptions) (*Response, error) {
	tokenName := "token"
	retry := c.tokenRetry
	noCache := false
	if opt != nil {
		if opt.TokenName != "" {
			tokenName = opt.TokenName
		}
		if opt.Retry > 0 {
			retry = opt.Retry
		}
		if opt.NoCache {
			noCache = true
		}
	}

	p2 := map[string]any{}
	for k, v := range p {
		p2[k] = v
	}

	var lastErr error
	for attempt := 0; attempt < retry; attempt++ {
		if attempt > 0 || noCache {
			c.InvalidateToken(tokenType)
		}

		tok, err := c.GetToken(ctx, tokenType)
		if err != nil {
			return nil, err
		}
		p2[tokenName] = tok

		resp, err := c.Post(ctx, p2)
		if err == nil {
			// Even when throwOnApiError=false, token errors can appear in envelope.
			if code := responseErrorCode(resp); isTokenErrorCode(code) {
				lastErr = &MediaWikiApiError{
					Code:       code,
					Message:    "token error",
					HTTPStatus: resp.StatusCode,
					Response:   resp,
				}
				continue
			}
			return resp, nil
		}

		lastErr = err
		if IsBadToken(err) {
			c.logger.Debug().Str("type", string(tokenType)).Int("attempt", attempt+1).Msg("token rejected, refreshing")
			continue
		}
		return resp, err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("token retry exhausted")
	}
	return nil, fmt.Errorf("token retry exhausted: %w", lastErr)
}

func responseErrorCode(resp *Response) string {
	if resp == nil {
		return ""
	}
	if resp.Error != nil {
		return resp.Error.Code
	}
	if len(resp.Errors) > 0 {
		return resp.Errors[0].Code
	}
	return ""
}

func extractToken(body *Node, tokenType TokenType) (string, error) {
	key := strings.ToLower(string(tokenType)) + "token"
	n, err := body.Path("query", "tokens", key)
	if err != nil {
		return "", &TokenError{Type: tokenType, Err: err}
	}
	tok, err := n.AsString()
	if err != nil || tok == "" {
		return "", &TokenError{Type: tokenType, Err: err}
	}
	return tok, nil
}

func (c *Client) tokenSF() *singleflight.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c._sf == nil {
		c._sf = &singleflight.Group{}
	}
	return c._sf
}
