package mwapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SiteInfo returns meta=siteinfo (general and namespaces), loading it once per client.
func (c *Client) SiteInfo(ctx context.Context) (*Node, error) {
	c.mu.Lock()
	si := c.siteInfo
	c.mu.Unlock()
	if si != nil {
		return si, nil
	}

	resp, err := c.Get(ctx, Params{
		"action": "query",
		"meta":   "siteinfo",
		"siprop": "general|namespaces",
	})
	if err != nil {
		return nil, err
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("siteinfo: response is not JSON (HTTP %d)", resp.StatusCode)
	}

	c.mu.Lock()
	c.siteInfo = resp.Body
	c.mu.Unlock()
	return resp.Body, nil
}

// SiteInfoString returns query.<group>.<key> from the site info as a string.
func (c *Client) SiteInfoString(ctx context.Context, group, key string) (string, error) {
	si, err := c.SiteInfo(ctx)
	if err != nil {
		return "", err
	}
	n, err := si.Path("query", group, key)
	if err != nil {
		return "", fmt.Errorf("no query.%s.%s in site info: %w", group, key, err)
	}
	s, err := n.AsString()
	if err != nil {
		return "", fmt.Errorf("query.%s.%s in site info: %w", group, key, err)
	}
	return s, nil
}

// NamespaceInfo returns query.namespaces.<id> from the site info.
func (c *Client) NamespaceInfo(ctx context.Context, id int) (*Node, error) {
	si, err := c.SiteInfo(ctx)
	if err != nil {
		return nil, err
	}
	ns, err := si.Path("query", "namespaces", strconv.Itoa(id))
	if err != nil {
		return nil, fmt.Errorf("namespace %d: %w", id, err)
	}
	return ns, nil
}

// CanonicalNamespaceName returns the English canonical name of namespace id,
// or its local name when the namespace has no canonical one.
func (c *Client) CanonicalNamespaceName(ctx context.Context, id int) (string, error) {
	return c.namespaceName(ctx, id, "canonical", "name", "*")
}

// LocalNamespaceName returns the name of namespace id in the wiki's content language.
func (c *Client) LocalNamespaceName(ctx context.Context, id int) (string, error) {
	return c.namespaceName(ctx, id, "name", "*", "canonical")
}

// namespaceName returns the first string field of keys; "*" is where formatversion=1 puts the name.
func (c *Client) namespaceName(ctx context.Context, id int, keys ...string) (string, error) {
	ns, err := c.NamespaceInfo(ctx, id)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		v, err := ns.Get(k)
		if err != nil {
			continue
		}
		if s, err := v.AsString(); err == nil {
			return s, nil
		}
	}
	return "", fmt.Errorf("namespace %d: %w: no name", id, ErrNotFound)
}

// SPARQL runs query against the Wikibase query service the wiki advertises
// in general.wikibase-sparql.
func (c *Client) SPARQL(ctx context.Context, query string) (*Node, error) {
	endpoint, err := c.SiteInfoString(ctx, "general", "wikibase-sparql")
	if err != nil {
		return nil, err
	}
	form := url.Values{"query": {query}, "format": {"json"}}

	var st RetryState
	for {
		body, err := c.sparqlOnce(ctx, endpoint, form)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		d := c.backoff.Decide(st, nil, err)
		switch d.Action {
		case Proceed:
			return body, nil
		case Abort:
			return nil, d.Err
		}
		st.TransportRetries++
		c.metrics.retry(d.Reason)
		if err := sleepContext(ctx, d.Delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) sparqlOnce(ctx context.Context, endpoint string, form url.Values) (*Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.ua)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sparql: HTTP %d", res.StatusCode)
	}
	c.logger.Debug().Str("endpoint", endpoint).Int("bytes", len(body)).Msg("SPARQL query")
	return ParseNode(body)
}

// ExtractEntityFromURI strips the wiki's concept base URI from uri,
// turning http://www.wikidata.org/entity/Q42 into Q42.
func (c *Client) ExtractEntityFromURI(ctx context.Context, uri string) (string, error) {
	base, err := c.SiteInfoString(ctx, "general", "wikibase-conceptbaseuri")
	if err != nil {
		return "", err
	}
	id, ok := strings.CutPrefix(uri, base)
	if !ok {
		return "", fmt.Errorf("%s does not start with %s", uri, base)
	}
	return id, nil
}

// EntitiesFromSPARQL collects the entity IDs bound to variable in a SPARQL result.
// Bindings that are not entity URIs of this wiki are skipped.
func (c *Client) EntitiesFromSPARQL(ctx context.Context, result *Node, variable string) ([]string, error) {
	base, err := c.SiteInfoString(ctx, "general", "wikibase-conceptbaseuri")
	if err != nil {
		return nil, err
	}
	bindings, err := result.Path("results", "bindings")
	if err != nil {
		return nil, nil
	}
	var out []string
	for _, b := range bindings.Elems() {
		v, err := b.Path(variable, "value")
		if err != nil {
			continue
		}
		s, err := v.AsString()
		if err != nil {
			continue
		}
		if id, ok := strings.CutPrefix(s, base); ok {
			out = append(out, id)
		}
	}
	return out, nil
}
