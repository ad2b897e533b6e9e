package mwapi

import (
	"context"
	"slices"
)

// User is the account the session acts as, from meta=userinfo.
type User struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Anon   bool     `json:"anon,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Rights []string `json:"rights,omitempty"`
}

func (u *User) HasRight(right string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Rights, right)
}

func (u *User) InGroup(group string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Groups, group)
}

func (u *User) IsBot() bool { return u.HasRight("bot") }

func (u *User) CanEdit() bool { return u.HasRight("edit") }

// CurrentUser returns the user the session acts as. The answer is cached until
// the next Login or Logout.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	c.mu.Lock()
	identity := c.loggedInUser
	if c.user != nil && c.userFor == identity {
		u := c.user
		c.mu.Unlock()
		return u, nil
	}
	c.mu.Unlock()

	resp, err := c.Get(ctx, map[string]any{
		"action": "query",
		"meta":   "userinfo",
		"uiprop": []string{"groups", "rights"},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Query struct {
			UserInfo User `json:"userinfo"`
		} `json:"query"`
	}
	if err := resp.Into(&out); err != nil {
		return nil, err
	}
	u := out.Query.UserInfo

	c.mu.Lock()
	if c.loggedInUser == identity {
		c.user = &u
		c.userFor = identity
	}
	c.mu.Unlock()
	return &u, nil
}
