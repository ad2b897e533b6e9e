package mwapi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sort"
)

const DefaultMaxContinuations = 1000

type QueryOption func(*queryOptions)

type queryOptions struct {
	policy      MergePolicy
	maxPages    int
	resultLimit int
}

// WithMergePolicy overrides how pages are merged for one call.
func WithMergePolicy(p MergePolicy) QueryOption {
	return func(o *queryOptions) {
		o.policy = p
	}
}

// WithPageLimit overrides the client's continuation page cap for one call.
func WithPageLimit(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

// WithResultLimit stops fetching once the first list under "query" holds at least n items.
func WithResultLimit(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.resultLimit = n
		}
	}
}

// QueryAll issues a GET and follows continuation until the server reports no more data,
// returning every page merged into one document.
func (c *Client) QueryAll(ctx context.Context, p any, opts ...QueryOption) (*Node, error) {
	return c.fetchAll(ctx, http.MethodGet, p, opts)
}

// PostAll is QueryAll over POST, for long parameter lists.
func (c *Client) PostAll(ctx context.Context, p any, opts ...QueryOption) (*Node, error) {
	return c.fetchAll(ctx, http.MethodPost, p, opts)
}

// Pages yields each continuation page in server order. Breaking out of the loop
// stops fetching. API errors are yielded as *MediaWikiApiError regardless of WithThrowOnApiError.
func (c *Client) Pages(ctx context.Context, method string, p any) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		np, err := normalizeParams(p)
		if err != nil {
			yield(nil, err)
			return
		}
		for resp, err := range c.pages(ctx, method, np, c.maxContinuations) {
			if !yield(resp, err) {
				return
			}
		}
	}
}

func (c *Client) fetchAll(ctx context.Context, method string, p any, opts []QueryOption) (*Node, error) {
	np, err := normalizeParams(p)
	if err != nil {
		return nil, err
	}

	o := queryOptions{policy: c.mergePolicy, maxPages: c.maxContinuations}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var merged *Node
	for resp, err := range c.pages(ctx, method, np, o.maxPages) {
		if err != nil {
			var e *ContinuationLimitError
			if errors.As(err, &e) {
				e.Partial = merged
				return nil, e
			}
			return nil, err
		}
		merged = o.policy.Merge(merged, withoutContinuation(resp.Body))
		if o.resultLimit > 0 && queryResultCount(merged) >= o.resultLimit {
			c.logger.Debug().Int("limit", o.resultLimit).Msg("result limit reached, stopping continuation")
			break
		}
	}
	if merged == nil {
		merged = NewObject()
	}
	return merged, nil
}

func (c *Client) pages(ctx context.Context, method string, np normalizedParams, maxPages int) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		var cont ContinuationState
		for page := 0; page < maxPages; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			resp, err := c.doParams(ctx, method, np.withContinuation(cont), doOptions{})
			if err == nil {
				if apiErr := responseApiError(resp); apiErr != nil {
					err = apiErr
				} else if resp.Body == nil {
					err = fmt.Errorf("mwapi: continuation page %d is not a JSON document (HTTP %d)", page, resp.StatusCode)
				}
			}
			if err != nil {
				yield(resp, err)
				return
			}

			next, more := extractContinuation(resp.Body)
			c.metrics.page()
			c.logger.Debug().
				Int("page", page).
				Bool("more", more).
				Strs("continue", continuationKeys(next)).
				Msg("fetched continuation page")

			if !yield(resp, nil) || !more {
				return
			}
			cont = next
		}
		yield(nil, &ContinuationLimitError{Pages: maxPages})
	}
}

func extractContinuation(body *Node) (ContinuationState, bool) {
	if cont, err := body.Get("continue"); err == nil && cont.Kind() == KindObject {
		st := ContinuationState{}
		for _, k := range cont.keys {
			st[k] = cont.fields[k].Text()
		}
		return st, true
	}
	// Pre-1.26 servers: {"query-continue": {"module": {"param": "value"}}}.
	if legacy, err := body.Get("query-continue"); err == nil && legacy.Kind() == KindObject {
		st := ContinuationState{}
		for _, module := range legacy.keys {
			m := legacy.fields[module]
			for _, k := range m.Keys() {
				st[k] = m.fields[k].Text()
			}
		}
		return st, true
	}
	return nil, false
}

func withoutContinuation(body *Node) *Node {
	if body.Kind() != KindObject || (!body.Has("continue") && !body.Has("query-continue")) {
		return body
	}
	out := &Node{kind: KindObject, fields: make(map[string]*Node, len(body.fields))}
	for _, k := range body.keys {
		if k == "continue" || k == "query-continue" {
			continue
		}
		out.keys = append(out.keys, k)
		out.fields[k] = body.fields[k]
	}
	return out
}

// queryResultCount is the length of the first list under "query", or 0 when unknown.
func queryResultCount(result *Node) int {
	q, err := result.Get("query")
	if err != nil {
		return 0
	}
	for _, k := range q.Keys() {
		if v := q.fields[k]; v.Kind() == KindArray {
			return v.Len()
		}
	}
	return 0
}

func continuationKeys(st ContinuationState) []string {
	keys := make([]string, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
