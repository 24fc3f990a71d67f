package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hostOf returns the HostSpec of an httptest server.
func hostOf(t *testing.T, srv *httptest.Server) model.HostSpec {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return model.HostSpec{Hostname: u.Hostname(), Port: port, TLS: u.Scheme == "https"}
}

func TestUpstream_Send(t *testing.T) {
	var gotBody, gotConnection, gotHost string
	var gotLength int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotLength = r.ContentLength
		gotConnection = r.Header.Get("Connection")
		if r.Close {
			gotConnection = "close"
		}
		gotHost = r.Host
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := New(Options{}, testLogger(), m)
	host := hostOf(t, srv)

	req := model.OutboundRequest{
		Method: http.MethodPost,
		Path:   "/items?x=1",
		Header: http.Header{"Connection": {"close"}, "Content-Type": {"text/plain"}},
	}
	resp, err := c.Send(context.Background(), host, req, []byte("hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", resp.Body, `{"status":"ok"}`)
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Errorf("X-Upstream = %q, want %q", resp.Header.Get("X-Upstream"), "yes")
	}
	if gotBody != "hello" || gotLength != 5 {
		t.Errorf("upstream got body %q (length %d), want %q (5)", gotBody, gotLength, "hello")
	}
	if gotConnection != "close" {
		t.Errorf("upstream Connection = %q, want close", gotConnection)
	}
	if gotHost != host.Addr() {
		t.Errorf("upstream Host = %q, want %q", gotHost, host.Addr())
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "intercept_proxy_upstream_responses_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected intercept_proxy_upstream_responses_total to be recorded")
	}
}

func TestUpstream_Send_PreservedHost(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
	}))
	defer srv.Close()

	c := New(Options{}, testLogger(), nil)
	req := model.OutboundRequest{
		Method: http.MethodGet,
		Path:   "/",
		Header: http.Header{"Host": {"client.example.org"}},
	}
	if _, err := c.Send(context.Background(), hostOf(t, srv), req, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotHost != "client.example.org" {
		t.Errorf("upstream Host = %q, want %q", gotHost, "client.example.org")
	}
}

func TestUpstream_Send_ConnectionRefused(t *testing.T) {
	c := New(Options{Timeout: time.Second}, testLogger(), nil)

	host := model.HostSpec{Hostname: "127.0.0.1", Port: 1}
	_, err := c.Send(context.Background(), host, model.OutboundRequest{Method: http.MethodGet, Path: "/"}, nil)
	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("Send() error = %v, want ErrTransport", err)
	}
}

func TestUpstream_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Options{Timeout: 50 * time.Millisecond}, testLogger(), nil)

	start := time.Now()
	_, err := c.Send(context.Background(), hostOf(t, srv), model.OutboundRequest{Method: http.MethodGet, Path: "/slow"}, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("Send() error = %v, want ErrTransport", err)
	}
	if !model.IsTimeout(err) {
		t.Errorf("error = %v, want a timeout cause", err)
	}
	if elapsed >= 500*time.Millisecond {
		t.Errorf("Send() took %v, want close to 50ms", elapsed)
	}
}

func TestUpstream_Send_CanceledContextNotPropagated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Options{}, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := c.Send(ctx, hostOf(t, srv), model.OutboundRequest{Method: http.MethodGet, Path: "/"}, nil)
	if err != nil {
		t.Fatalf("Send() error = %v; caller cancellation should not abort the request", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q, want %q", resp.Body, "ok")
	}
}

func TestUpstream_Send_TruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("short"))
		w.(http.Flusher).Flush()
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	c := New(Options{}, testLogger(), nil)
	_, err := c.Send(context.Background(), hostOf(t, srv), model.OutboundRequest{Method: http.MethodGet, Path: "/"}, nil)
	if !errors.Is(err, model.ErrUpstreamStream) {
		t.Fatalf("Send() error = %v, want ErrUpstreamStream", err)
	}
}

func TestUpstream_Send_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	c := New(Options{}, testLogger(), nil)
	// Trust the test server's certificate.
	c.httpClient.Transport.(*http.Transport).TLSClientConfig = srv.Client().Transport.(*http.Transport).TLSClientConfig

	host := hostOf(t, srv)
	if !host.TLS {
		t.Fatal("expected TLS host")
	}
	resp, err := c.Send(context.Background(), host, model.OutboundRequest{Method: http.MethodGet, Path: "/"}, nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if string(resp.Body) != "secure" {
		t.Errorf("body = %q, want %q", resp.Body, "secure")
	}
}
