// Package client provides the outbound HTTP transport for the proxy.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

// Options configures an Upstream.
type Options struct {
	// Timeout is the socket idle timeout armed when the connection is
	// established. Zero disables it.
	Timeout time.Duration
	// DialTimeout bounds connection establishment when Timeout is zero.
	DialTimeout time.Duration
}

// Upstream sends one outbound request per call and buffers the full
// response. Connections are never reused.
type Upstream struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstream creates an Upstream from the proxy configuration.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstream(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	return New(Options{Timeout: cfg.Proxy.Timeout()}, logger, m)
}

// New creates an Upstream with explicit options.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	if opts.Timeout > 0 && opts.Timeout < dialTimeout {
		dialTimeout = opts.Timeout
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		Proxy:              nil,
		DisableKeepAlives:  true,
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if opts.Timeout <= 0 {
				return conn, nil
			}
			return &idleTimeoutConn{Conn: conn, timeout: opts.Timeout}, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Upstream{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are relayed to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: opts.Timeout,
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Send issues req to host with body and waits for the complete response.
// Cancellation of ctx is not propagated; only the idle timeout aborts the
// request.
func (c *Upstream) Send(ctx context.Context, host model.HostSpec, req model.OutboundRequest, body []byte) (*model.UpstreamResponse, error) {
	httpReq, err := c.buildRequest(context.WithoutCancel(ctx), host, req, body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upstream request",
		"method", httpReq.Method,
		"target", host.Addr(),
		"path", req.Path,
		"bytes_out", len(body),
	)

	method := metrics.NormalizeMethod(httpReq.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(method, start, 0)
		return nil, c.transportError(host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(method, start, 0)
		if model.IsTimeout(err) {
			return nil, c.transportError(host, err)
		}
		return nil, model.NewError(model.KindUpstreamStream, "read upstream response", host.Addr(), err)
	}

	c.observe(method, start, resp.StatusCode)
	if c.metrics != nil {
		c.metrics.UpstreamBytes.Observe(float64(len(data)))
	}

	c.logger.Debug("upstream response",
		"target", host.Addr(),
		"status", resp.StatusCode,
		"size", humanize.Bytes(uint64(len(data))),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Upstream) buildRequest(ctx context.Context, host model.HostSpec, req model.OutboundRequest, body []byte) (*http.Request, error) {
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := host.Scheme() + "://" + host.Addr() + path

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, model.NewError(model.KindConfiguration, "build upstream request", target, err)
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if h := header.Get("Host"); h != "" {
		httpReq.Host = h
	}
	header.Del("Host")
	header.Del("Content-Length")
	httpReq.Header = header

	httpReq.ContentLength = int64(len(body))
	httpReq.Close = true
	return httpReq, nil
}

func (c *Upstream) observe(method string, start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status != 0 {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}

func (c *Upstream) transportError(host model.HostSpec, err error) error {
	if model.IsTimeout(err) {
		return model.NewError(model.KindTransport, "upstream request",
			fmt.Sprintf("%s timed out after %s", host.Addr(), c.timeout), err)
	}
	return model.NewError(model.KindTransport, "upstream request", host.Addr(), err)
}
