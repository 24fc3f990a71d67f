package service

import (
	"net/http"
)

// projectHeaders builds the outbound header set. Defaults are applied first
// and inbound headers override them, except Connection, Content-Length and
// (unless preserveHost) Host, which are never copied. Connection is always
// forced to "close".
func projectHeaders(inbound, defaults http.Header, preserveHost bool) http.Header {
	out := defaults.Clone()
	if out == nil {
		out = make(http.Header, len(inbound)+1)
	}

	for name, values := range inbound {
		key := http.CanonicalHeaderKey(name)
		if skipInboundHeader(key, preserveHost) {
			continue
		}
		out[key] = append([]string(nil), values...)
	}

	out.Set("Connection", "close")
	return out
}

func skipInboundHeader(key string, preserveHost bool) bool {
	switch key {
	case "Connection", "Content-Length":
		return true
	case "Host":
		return !preserveHost
	default:
		return false
	}
}

// withHostHeader returns h with a Host entry when the inbound request's host
// is to be preserved. net/http moves Host out of the header map, so it is
// restored here for projection.
func withHostHeader(h http.Header, host string) http.Header {
	if host == "" || h.Get("Host") != "" {
		return h
	}
	out := h.Clone()
	if out == nil {
		out = make(http.Header, 1)
	}
	out.Set("Host", host)
	return out
}

// copyResponseHeaders copies upstream headers onto the sink, skipping
// Transfer-Encoding.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if http.CanonicalHeaderKey(name) == "Transfer-Encoding" {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}
