package mwapi

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLoginRejected             = errors.New("mwapi: login rejected")
	ErrTokenUnavailable          = errors.New("mwapi: token unavailable")
	ErrContinuationLimitExceeded = errors.New("mwapi: continuation limit exceeded")
	ErrRetryExhausted            = errors.New("mwapi: retry budget exhausted")
	ErrOAuthMode                 = errors.New("mwapi: cookie login is unavailable with OAuth credentials")
)

type MediaWikiApiError struct {
	Code       string
	Message    string
	HTTPStatus int
	Errors     []MWError
	Response   *Response
}

func (e *MediaWikiApiError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsMediaWikiApiError(err error) (*MediaWikiApiError, bool) {
	var e *MediaWikiApiError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsBadToken reports whether err carries one of the token rejection codes.
// Callers use it to invalidate the cached token and retry once.
func IsBadToken(err error) bool {
	e, ok := IsMediaWikiApiError(err)
	return ok && isTokenErrorCode(e.Code)
}

func IsMaxLag(err error) bool {
	e, ok := IsMediaWikiApiError(err)
	return ok && isMaxLagCode(e.Code)
}

// TransportError wraps network failures that outlived the transport retry budget.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mwapi: %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type LoginError struct {
	Result string
	Reason string
}

func (e *LoginError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("login failed: %s (%s)", e.Result, e.Reason)
	}
	return fmt.Sprintf("login failed: %s", e.Result)
}

func (e *LoginError) Is(target error) bool { return target == ErrLoginRejected }

type TokenError struct {
	Type TokenType
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("missing %s token", e.Type)
	}
	return fmt.Sprintf("missing %s token: %v", e.Type, e.Err)
}

func (e *TokenError) Is(target error) bool { return target == ErrTokenUnavailable }

func (e *TokenError) Unwrap() error { return e.Err }

// ContinuationLimitError is returned when a server keeps answering with continuation
// past the page limit. Partial holds what was merged so far and is never returned as a result.
type ContinuationLimitError struct {
	Pages   int
	Partial *Node
}

func (e *ContinuationLimitError) Error() string {
	return fmt.Sprintf("mwapi: continuation did not finish after %d pages", e.Pages)
}

func (e *ContinuationLimitError) Is(target error) bool { return target == ErrContinuationLimitExceeded }

type SigningError struct {
	Field  string
	Reason string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("mwapi: cannot sign parameter %q: %s", e.Field, e.Reason)
}

type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("mwapi: gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func isTokenErrorCode(code string) bool {
	switch strings.ToLower(code) {
	case "badtoken", "notoken", "needtoken", "wrongtoken":
		return true
	default:
		return false
	}
}

func isAssertUserFailedCode(code string) bool {
	switch strings.ToLower(code) {
	case "assertuserfailed", "assertnameduserfailed":
		return true
	default:
		return false
	}
}

func isMaxLagCode(code string) bool {
	return strings.ToLower(code) == "maxlag"
}
