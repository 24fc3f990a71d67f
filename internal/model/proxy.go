// Package model defines shared types for the proxy pipeline.
package model

import (
	"context"
	"io"
	"maps"
	"net"
	"net/http"
	"strconv"
)

// HostSpec is a normalized proxy target.
type HostSpec struct {
	Hostname string
	Port     int
	TLS      bool
}

// Scheme returns "https" for TLS targets and "http" otherwise.
func (h HostSpec) Scheme() string {
	if h.TLS {
		return "https"
	}
	return "http"
}

// Addr returns the target as host:port.
func (h HostSpec) Addr() string {
	return net.JoinHostPort(h.Hostname, strconv.Itoa(h.Port))
}

// InboundRequest is a read-only view of the client request that triggered
// one pipeline execution.
type InboundRequest struct {
	Ctx           context.Context
	Method        string
	URL           string // request URI, including the query string
	Path          string
	Host          string
	Header        http.Header
	Body          io.Reader
	ContentLength int64

	// ParsedBody is set when an earlier handler already consumed and parsed
	// the body. When non-nil, Body is not read.
	ParsedBody any
	Params     map[string]string
	Session    any
}

// OutboundRequest describes the request sent to the target. It is passed by
// value between pipeline stages; use Clone before handing it to code that
// may mutate its maps.
type OutboundRequest struct {
	Hostname string
	Port     int
	Method   string
	Path     string
	URL      string
	Header   http.Header

	// Body holds the acquired request body: []byte, string or a structured
	// value that is JSON-serialized when the body is finalized.
	Body    any
	Params  map[string]string
	Session any
}

// Clone returns a deep copy of the header and params maps. Byte slice bodies
// are copied too; other body values are shared.
func (r OutboundRequest) Clone() OutboundRequest {
	out := r
	out.Header = r.Header.Clone()
	if r.Params != nil {
		out.Params = maps.Clone(r.Params)
	}
	if b, ok := r.Body.([]byte); ok {
		out.Body = append([]byte(nil), b...)
	}
	return out
}

// UpstreamResponse is the fully buffered response returned by the target.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ResponseBundle carries the upstream response through header copying and
// interception. Sent reports that the interceptor wrote the response itself.
type ResponseBundle struct {
	Response UpstreamResponse
	Body     []byte
	Sent     bool
}
