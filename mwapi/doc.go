// Package mwapi provides a MediaWiki Action API client.
//
// It focuses on server-side usage: cookie-based sessions or OAuth 1.0a owner-only
// consumers, token management, and a mw.Api-like workflow
// (New -> Login (optional) -> Get/Post/PostWithToken).
//
// Paginated queries follow the server's continuation protocol with QueryAll, which
// returns every page merged into one Node tree or an error, never a partial result.
// Pages streams the raw pages instead.
//
// State-changing requests carry maxlag and are retried with backoff while the
// database replicas lag; dropped connections are retried a bounded number of times.
package mwapi
