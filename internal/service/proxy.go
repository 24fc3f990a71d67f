// Package service implements the proxy pipeline: one inbound request is
// filtered, mapped to an outbound request, sent, optionally intercepted and
// delivered back to the caller.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"

	"intercept-proxy-go/internal/codec"
	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/model"
)

// ErrPassThrough is returned by Run when the filter rejects a request. It is
// not a failure: the request should be served by the next handler.
var ErrPassThrough = errors.New("request not proxied: rejected by filter")

// ProxyService runs the proxy pipeline. It holds no per-request state and is
// safe for concurrent use.
type ProxyService struct {
	opts      Options
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
	stages    []stage
}

// stage is one step of the pipeline. Stages run in order; the first error
// ends the execution.
type stage struct {
	name string
	run  func(*execution) error
}

// execution is the state of one pipeline run. It is never shared between
// requests.
type execution struct {
	ctx    context.Context
	in     *model.InboundRequest
	sink   ResponseSink
	host   model.HostSpec
	req    model.OutboundRequest
	body   []byte
	bundle model.ResponseBundle

	// saved holds the sink headers as they were before the upstream
	// headers were copied. nil until copyHeaders runs.
	saved http.Header
}

// NewProxyService creates a ProxyService from configuration.
// The metrics parameter is optional; pass nil to disable pipeline metrics.
func NewProxyService(t Transport, cfg *config.Config, hooks Hooks, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	if cfg.Proxy.Host == "" {
		return nil, model.Errorf(model.KindConfiguration, "new proxy service", "host should not be empty")
	}
	return New(t, OptionsFromConfig(cfg, hooks), logger, m)
}

// New creates a ProxyService with explicit options.
func New(t Transport, opts Options, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	if t == nil {
		return nil, fmt.Errorf("new proxy service: transport is required")
	}
	if opts.Host == nil {
		return nil, model.Errorf(model.KindConfiguration, "new proxy service", "host should not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = codec.DefaultLimit
	}

	s := &ProxyService{
		opts:      opts,
		transport: t,
		logger:    logger.With("component", "proxy_service"),
		metrics:   m,
	}
	s.stages = []stage{
		{"filter", s.filter},
		{"resolve_host", s.resolveHost},
		{"build_request", s.buildRequest},
		{"read_body", s.readBody},
		{"forward_path", s.forwardPath},
		{"decorate", s.decorate},
		{"finalize_body", s.finalizeBody},
		{"send", s.send},
		{"copy_headers", s.copyHeaders},
		{"intercept", s.intercept},
		{"deliver", s.deliver},
	}
	return s, nil
}

// Handle runs the pipeline and reports the outcome through next: next(nil)
// when the filter passed the request through, next(err) on failure. next is
// not called when the response was delivered.
func (s *ProxyService) Handle(in *model.InboundRequest, sink ResponseSink, next NextFunc) {
	err := s.Run(in, sink)
	switch {
	case err == nil:
	case errors.Is(err, ErrPassThrough):
		next(nil)
	default:
		next(err)
	}
}

// Run executes every stage for one inbound request. It returns nil once the
// response is delivered, ErrPassThrough when the filter rejected the
// request, or the error of the first failing stage. Nothing is written to
// sink after a failure.
func (s *ProxyService) Run(in *model.InboundRequest, sink ResponseSink) error {
	ctx := in.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ex := &execution{ctx: ctx, in: in, sink: sink}

	for _, st := range s.stages {
		err := st.run(ex)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrPassThrough) {
			if s.metrics != nil {
				s.metrics.PassThrough.Inc()
			}
			s.logger.Debug("request passed through", "path", in.Path)
			return ErrPassThrough
		}
		s.recordFailure(st.name, err)
		rollback(ex)
		return err
	}
	return nil
}

// rollback restores the sink headers and status when a stage failed after
// copyHeaders, so the error response carries none of the upstream headers.
func rollback(ex *execution) {
	if ex.saved == nil || ex.sink.Committed() {
		return
	}
	h := ex.sink.Header()
	clear(h)
	maps.Copy(h, ex.saved)
	ex.sink.SetStatus(0)
}

func (s *ProxyService) recordFailure(stage string, err error) {
	kind := "other"
	if k := model.KindOf(err); k != 0 {
		kind = k.String()
	}
	if s.metrics != nil {
		s.metrics.PipelineFailures.WithLabelValues(stage, kind).Inc()
	}
	s.logger.Debug("pipeline failed", "stage", stage, "kind", kind, "err", err)
}

func (s *ProxyService) filter(ex *execution) error {
	if s.opts.Filter == nil {
		return nil
	}
	ok, err := s.opts.Filter(ex.ctx, ex.in)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPassThrough
	}
	return nil
}

func (s *ProxyService) resolveHost(ex *execution) error {
	host, err := model.ParseHostSpec(s.opts.Host(ex.in), s.opts.Port)
	if err != nil {
		return err
	}
	ex.host = host
	return nil
}

func (s *ProxyService) buildRequest(ex *execution) error {
	in := ex.in
	inbound := in.Header
	if s.opts.PreserveHostHeader {
		inbound = withHostHeader(inbound, in.Host)
	}

	ex.req = model.OutboundRequest{
		Hostname: ex.host.Hostname,
		Port:     ex.host.Port,
		Method:   in.Method,
		Path:     in.Path,
		URL:      in.URL,
		Header:   projectHeaders(inbound, s.opts.Headers, s.opts.PreserveHostHeader),
	}
	if in.Params != nil {
		ex.req.Params = maps.Clone(in.Params)
	}
	if s.opts.PreserveSession {
		ex.req.Session = in.Session
	}
	return nil
}

func (s *ProxyService) readBody(ex *execution) error {
	if ex.in.ParsedBody != nil {
		ex.req.Body = ex.in.ParsedBody
		return nil
	}
	body, err := codec.ReadInbound(ex.in.Body, ex.in.ContentLength, s.opts.Limit, s.opts.Encoding)
	if err != nil {
		return err
	}
	ex.req.Body = body
	return nil
}

// forwardPath applies the path hook. The async form wins when both are set.
func (s *ProxyService) forwardPath(ex *execution) error {
	switch {
	case s.opts.ForwardPathAsync != nil:
		path, err := s.opts.ForwardPathAsync(ex.ctx, ex.req.Clone())
		if err != nil {
			return err
		}
		ex.req.Path = path
	case s.opts.ForwardPath != nil:
		ex.req.Path = s.opts.ForwardPath(ex.req.Clone())
	default:
		ex.req.Path = defaultForwardPath(ex.req)
	}
	return nil
}

// defaultForwardPath returns the path and query of the inbound URL.
func defaultForwardPath(req model.OutboundRequest) string {
	if req.URL == "" {
		return req.Path
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return req.URL
	}
	return u.RequestURI()
}

func (s *ProxyService) decorate(ex *execution) error {
	if s.opts.Decorate == nil {
		return nil
	}
	out, err := s.opts.Decorate(ex.ctx, ex.req.Clone(), ex.in)
	if err != nil {
		return err
	}
	if out != nil {
		ex.req = *out
	}
	return nil
}

// finalizeBody moves the body out of the descriptor as bytes and sets the
// exact Content-Length.
func (s *ProxyService) finalizeBody(ex *execution) error {
	body, err := codec.Finalize(ex.req.Body, s.opts.ReqAsBuffer, s.opts.Encoding)
	if err != nil {
		return err
	}
	ex.body = body
	ex.req.Body = nil

	header := ex.req.Header.Clone()
	if header == nil {
		header = projectHeaders(nil, nil, false)
	}
	header.Set("Content-Length", strconv.Itoa(codec.ContentLength(body)))
	if !s.opts.Encoding.IsRaw() {
		header.Set("Accept-Encoding", s.opts.Encoding.Name())
	}
	ex.req.Header = header
	return nil
}

func (s *ProxyService) send(ex *execution) error {
	target := model.HostSpec{
		Hostname: ex.req.Hostname,
		Port:     ex.req.Port,
		TLS:      ex.host.TLS,
	}
	resp, err := s.transport.Send(ex.ctx, target, ex.req, ex.body)
	if err != nil {
		return err
	}
	ex.bundle = model.ResponseBundle{Response: *resp, Body: resp.Body}
	return nil
}

func (s *ProxyService) copyHeaders(ex *execution) error {
	if ex.sink.Committed() {
		return nil
	}
	ex.saved = ex.sink.Header().Clone()
	if ex.saved == nil {
		ex.saved = http.Header{}
	}
	ex.sink.SetStatus(ex.bundle.Response.StatusCode)
	copyResponseHeaders(ex.sink.Header(), ex.bundle.Response.Header)
	return nil
}

func (s *ProxyService) intercept(ex *execution) error {
	if s.opts.Intercept == nil {
		return nil
	}

	resp := ex.bundle.Response
	resp.Header = resp.Header.Clone()
	res := s.opts.Intercept(ex.ctx, resp, ex.in, ex.sink)
	if s.metrics != nil {
		s.metrics.Intercepts.WithLabelValues(res.outcome()).Inc()
	}

	switch res.kind {
	case resultFailed:
		if res.err == nil {
			return model.Errorf(model.KindContractViolation, "intercept", "interceptor failed without an error")
		}
		return res.err
	case resultAlreadySent:
		ex.bundle.Sent = true
		return nil
	case resultDeliver:
		body, err := codec.Coerce(res.body, s.opts.Encoding)
		if err != nil {
			return err
		}
		if !ex.sink.Committed() {
			ex.sink.Header().Set("Content-Length", strconv.Itoa(codec.ContentLength(body)))
		} else if len(body) != len(ex.bundle.Response.Body) {
			return model.Errorf(model.KindContractViolation, "intercept",
				"Content-Length is already sent; response length cannot change from %d to %d bytes",
				len(ex.bundle.Response.Body), len(body))
		}
		ex.bundle.Body = body
		return nil
	default:
		return model.Errorf(model.KindContractViolation, "intercept", "interceptor returned no result")
	}
}

func (s *ProxyService) deliver(ex *execution) error {
	if ex.bundle.Sent {
		return nil
	}
	if err := ex.sink.Send(ex.bundle.Body); err != nil {
		return fmt.Errorf("deliver response: %w", err)
	}
	return nil
}
