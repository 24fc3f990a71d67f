package service

import (
	"context"
	"net/http"

	"intercept-proxy-go/internal/model"
)

// HostFunc computes the target host specifier for an inbound request.
type HostFunc func(in *model.InboundRequest) string

// StaticHost returns a HostFunc that always yields spec.
func StaticHost(spec string) HostFunc {
	return func(*model.InboundRequest) string { return spec }
}

// FilterFunc decides whether a request is proxied. Returning false hands the
// request back to the next handler without an error.
type FilterFunc func(ctx context.Context, in *model.InboundRequest) (bool, error)

// ForwardPathFunc computes the outbound path (including query string).
type ForwardPathFunc func(req model.OutboundRequest) string

// ForwardPathAsyncFunc computes the outbound path and may block or fail.
// When configured it takes precedence over ForwardPathFunc.
type ForwardPathAsyncFunc func(ctx context.Context, req model.OutboundRequest) (string, error)

// DecorateFunc may replace the outbound request. A nil result keeps req.
type DecorateFunc func(ctx context.Context, req model.OutboundRequest, in *model.InboundRequest) (*model.OutboundRequest, error)

// InterceptFunc inspects the buffered upstream response before delivery.
// It may write to sink directly, in which case it returns AlreadySent.
type InterceptFunc func(ctx context.Context, resp model.UpstreamResponse, in *model.InboundRequest, sink ResponseSink) InterceptResult

// ResponseSink is the caller-facing response.
type ResponseSink interface {
	// SetStatus records the status code written by Send.
	SetStatus(code int)
	Header() http.Header
	// Committed reports whether status and headers were already written.
	Committed() bool
	// Send writes body and ends the response.
	Send(body []byte) error
}

// NextFunc is the escape hatch to the hosting environment. A nil error
// means pass-through: the request was not proxied and should be handled
// elsewhere.
type NextFunc func(err error)

// Transport sends a finalized outbound request and returns the fully
// buffered response.
type Transport interface {
	Send(ctx context.Context, host model.HostSpec, req model.OutboundRequest, body []byte) (*model.UpstreamResponse, error)
}

type resultKind int

const (
	resultDeliver resultKind = iota + 1
	resultAlreadySent
	resultFailed
)

// InterceptResult is the outcome of an InterceptFunc: exactly one of
// Deliver, AlreadySent or Fail.
type InterceptResult struct {
	kind resultKind
	body any
	err  error
}

// Deliver asks the pipeline to send body. body must be []byte, string or a
// JSON-serializable composite value.
func Deliver(body any) InterceptResult {
	return InterceptResult{kind: resultDeliver, body: body}
}

// AlreadySent reports that the interceptor wrote the response itself.
func AlreadySent() InterceptResult {
	return InterceptResult{kind: resultAlreadySent}
}

// Fail aborts the pipeline with err.
func Fail(err error) InterceptResult {
	return InterceptResult{kind: resultFailed, err: err}
}

func (r InterceptResult) outcome() string {
	switch r.kind {
	case resultDeliver:
		return "delivered"
	case resultAlreadySent:
		return "already_sent"
	case resultFailed:
		return "failed"
	default:
		return "invalid"
	}
}
