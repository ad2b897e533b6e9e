package mwapi

import (
	"context"
	"fmt"
	"strings"
)

type LoginResult struct {
	Result   string `json:"result"`
	LgUserID int    `json:"lguserid"`
	LgName   string `json:"lgusername"`
	Reason   string `json:"reason,omitempty"`
	// Token is only sent back with a NeedToken result.
	Token string `json:"token,omitempty"`
}

const loginAttempts = 2

// Login performs action=login with a bot password. A NeedToken answer is retried
// once with the token it carries; WrongToken is retried once with a fresh login token.
// On success every cached token and the cached user are dropped.
func (c *Client) Login(ctx context.Context, user, pass string) (*LoginResult, error) {
	if c.oauth != nil {
		return nil, ErrOAuthMode
	}

	var lastErr error
	var next string

	for attempt := 0; attempt < loginAttempts; attempt++ {
		tok := next
		if tok == "" {
			// Login token is sensitive to session state; avoid reusing cached one.
			c.InvalidateToken(TokenLogin)
			var err error
			if tok, err = c.GetToken(ctx, TokenLogin); err != nil {
				return nil, err
			}
		}
		next = ""

		resp, err := c.Post(ctx, map[string]any{
			"action":     "login",
			"lgname":     user,
			"lgpassword": pass,
			"lgtoken":    tok,
		})
		if err != nil {
			lastErr = err
			if e, ok := IsMediaWikiApiError(err); ok && isTokenErrorCode(e.Code) {
				continue
			}
			c.metrics.login("error")
			return nil, err
		}

		var out struct {
			Login LoginResult `json:"login"`
		}
		if err := resp.Into(&out); err != nil {
			return nil, err
		}

		c.logger.Debug().
			Str("user", user).
			Str("result", out.Login.Result).
			Int("attempt", attempt+1).
			Msg("login response")

		switch strings.ToLower(out.Login.Result) {
		case "success":
			c.mu.Lock()
			c.loginUser = user
			c.loginPass = pass
			c.loggedInUser = out.Login.LgName
			c.user = nil
			c.mu.Unlock()

			// Session changed; invalidate all tokens.
			c.InvalidateAllTokens()
			c.metrics.login("success")
			return &out.Login, nil
		case "needtoken":
			next = out.Login.Token
			lastErr = &LoginError{Result: out.Login.Result, Reason: out.Login.Reason}
			continue
		case "wrongtoken":
			lastErr = &LoginError{Result: out.Login.Result, Reason: out.Login.Reason}
			continue
		default:
			c.metrics.login("rejected")
			return &out.Login, &LoginError{Result: out.Login.Result, Reason: out.Login.Reason}
		}
	}

	c.metrics.login("rejected")
	if lastErr == nil {
		lastErr = fmt.Errorf("login retry exhausted")
	}
	return nil, fmt.Errorf("login retry exhausted: %w", lastErr)
}

func (c *Client) Relogin(ctx context.Context) error {
	c.mu.Lock()
	user := c.loginUser
	pass := c.loginPass
	c.mu.Unlock()

	if user == "" || pass == "" {
		return fmt.Errorf("relogin requested but no stored credentials")
	}
	c.logger.Info().Str("user", user).Msg("session lost, logging in again")
	_, err := c.Login(ctx, user, pass)
	return err
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.PostWithToken(ctx, TokenCSRF, map[string]any{
		"action": "logout",
	}, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.loggedInUser = ""
	c.loginUser = ""
	c.loginPass = ""
	c.user = nil
	c.mu.Unlock()
	c.InvalidateAllTokens()
	return nil
}

// LoggedInUser returns the name the server reported at the last successful login.
func (c *Client) LoggedInUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedInUser
}
