// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
	"net/url"
)

// OutboundRequest is a request to the upstream profiling service. It is built
// once per call and not mutated afterwards; the byte-slice body makes the
// request replayable across retry attempts.
type OutboundRequest struct {
	Method string
	Path   string // path with the encoded query string already appended
	Header http.Header
	Body   []byte // nil when the request has no body
}

// NewOutboundRequest builds an OutboundRequest, appending the URL-encoded
// query string to path when params is non-empty.
func NewOutboundRequest(method, path string, params url.Values, header http.Header, body []byte) *OutboundRequest {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}
	h := make(http.Header)
	for key, vals := range header {
		h[http.CanonicalHeaderKey(key)] = vals
	}
	return &OutboundRequest{
		Method: method,
		Path:   path,
		Header: h,
		Body:   body,
	}
}

// ProxyResponse represents the upstream response to be streamed back.
//
// Body is a forward-only, single-consumption stream: reading it a second time
// yields nothing. The owner must fully drain or close it to release the
// underlying pooled connection.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
