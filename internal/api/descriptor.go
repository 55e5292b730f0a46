// Package api implements the resilient request executor: a thin HTTP/JSON
// client that transparently handles token refresh, rate limiting and
// transient server/network failures according to a retry policy.
package api

import (
	"encoding/json"
	"net/http"
)

// Descriptor describes one HTTP call against the backend. It is immutable
// once created and is used both for live calls and for queued mutations,
// which is why it is JSON-serializable.
type Descriptor struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Body   json.RawMessage   `json:"body,omitempty"`
	Header map[string]string `json:"header,omitempty"`
}

// Mutating reports whether the call changes server state and therefore
// qualifies for offline queueing.
func (d Descriptor) Mutating() bool {
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// Response is the materialized result of a dispatched call: status, headers
// and the fully read body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the status code is in the 2xx range.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}
