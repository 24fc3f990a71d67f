package service

import (
	"net/http"
	"reflect"
	"testing"
)

func TestProjectHeaders(t *testing.T) {
	inbound := http.Header{
		"Connection":     {"keep-alive"},
		"Content-Length": {"5"},
		"Host":           {"proxy.local"},
		"Keep-Alive":     {"timeout=5"},
		"Te":             {"trailers"},
		"Upgrade":        {"websocket"},
		"X-Request":      {"a", "b"},
		"X-Shared":       {"inbound"},
	}
	defaults := http.Header{
		"X-Default": {"d"},
		"X-Shared":  {"default"},
	}

	got := projectHeaders(inbound, defaults, false)

	tests := []struct {
		key  string
		want []string
	}{
		{"Connection", []string{"close"}},
		{"Content-Length", nil},
		{"Host", nil},
		{"Keep-Alive", []string{"timeout=5"}},
		{"Te", []string{"trailers"}},
		{"Upgrade", []string{"websocket"}},
		{"X-Request", []string{"a", "b"}},
		{"X-Shared", []string{"inbound"}},
		{"X-Default", []string{"d"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if v := got.Values(tt.key); !reflect.DeepEqual(v, tt.want) {
				t.Errorf("%s = %v, want %v", tt.key, v, tt.want)
			}
		})
	}

	if defaults.Get("X-Shared") != "default" {
		t.Error("projectHeaders mutated the defaults")
	}
	if inbound.Get("Connection") != "keep-alive" {
		t.Error("projectHeaders mutated the inbound headers")
	}
}

func TestProjectHeaders_PreserveHost(t *testing.T) {
	got := projectHeaders(http.Header{"Host": {"proxy.local"}}, nil, true)
	if h := got.Get("Host"); h != "proxy.local" {
		t.Errorf("Host = %q, want %q", h, "proxy.local")
	}
}

func TestProjectHeaders_Idempotent(t *testing.T) {
	inbound := http.Header{
		"Connection": {"upgrade"},
		"Accept":     {"text/html"},
		"Host":       {"proxy.local"},
	}
	defaults := http.Header{"X-Default": {"d"}}

	for _, preserve := range []bool{false, true} {
		once := projectHeaders(inbound, defaults, preserve)
		twice := projectHeaders(once, defaults, preserve)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("preserveHost=%v: second projection = %v, want %v", preserve, twice, once)
		}
	}
}

func TestWithHostHeader(t *testing.T) {
	h := http.Header{"Accept": {"*/*"}}
	got := withHostHeader(h, "proxy.local")
	if got.Get("Host") != "proxy.local" {
		t.Errorf("Host = %q, want proxy.local", got.Get("Host"))
	}
	if h.Get("Host") != "" {
		t.Error("withHostHeader mutated its input")
	}

	if got := withHostHeader(nil, ""); got != nil {
		t.Errorf("withHostHeader(nil, \"\") = %v, want nil", got)
	}
}

func TestCopyResponseHeaders(t *testing.T) {
	dst := http.Header{"X-Existing": {"keep"}}
	src := http.Header{
		"Content-Type":      {"text/plain"},
		"Transfer-Encoding": {"chunked"},
		"Set-Cookie":        {"a=1", "b=2"},
	}

	copyResponseHeaders(dst, src)

	if dst.Get("Transfer-Encoding") != "" {
		t.Error("Transfer-Encoding should not be copied")
	}
	if dst.Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", dst.Get("Content-Type"))
	}
	if got := dst.Values("Set-Cookie"); len(got) != 2 {
		t.Errorf("Set-Cookie = %v, want 2 values", got)
	}
	if dst.Get("X-Existing") != "keep" {
		t.Error("existing header was dropped")
	}
}
