package mwapi

import (
	"encoding/json"
	"net/http"
)

type TokenType string

const (
	TokenCSRF          TokenType = "csrf"
	TokenLogin         TokenType = "login"
	TokenWatch         TokenType = "watch"
	TokenPatrol        TokenType = "patrol"
	TokenRollback      TokenType = "rollback"
	TokenUserRights    TokenType = "userrights"
	TokenCreateAccount TokenType = "createaccount"
)

type MWError struct {
	Code string `json:"code"`
	Info string `json:"info,omitempty"`
	Text string `json:"text,omitempty"`

	// Lag is set on maxlag errors (errorformat=bc); newer formats put it in Data.
	Lag  float64        `json:"lag,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

type Envelope struct {
	Error  *MWError  `json:"error,omitempty"`
	Errors []MWError `json:"errors,omitempty"`
	// Warnings is a list with errorformat=plaintext and an object keyed by module otherwise.
	Warnings json.RawMessage `json:"warnings,omitempty"`
}

type Response struct {
	StatusCode int
	Header     http.Header
	Envelope

	Raw json.RawMessage
	// Body is the parsed document; nil when the server did not return JSON.
	Body *Node
}

func (r *Response) Into(out any) error {
	return json.Unmarshal(r.Raw, out)
}

// Continuation reports the parameters the server asked to be sent back.
// ok is true whenever a continuation object is present, even if all values are empty.
func (r *Response) Continuation() (ContinuationState, bool) {
	if r == nil {
		return nil, false
	}
	return extractContinuation(r.Body)
}

// ContinuationState maps continuation parameter names to their opaque values.
type ContinuationState map[string]string
