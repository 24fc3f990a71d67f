package handler

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"intercept-proxy-go/internal/model"
	"intercept-proxy-go/internal/service"
)

// Context keys read by ProxyHandler. Middleware that runs earlier may store
// an already parsed request body or a session under them.
const (
	ParsedBodyKey = "intercept_proxy.parsed_body"
	SessionKey    = "intercept_proxy.session"
)

// credentialPattern matches credential-looking query parameters in URLs
// embedded in error messages.
var credentialPattern = regexp.MustCompile(`(?i)((?:api[_-]?key|access_token|token|password|secret)=)[^&\s"]+`)

// ProxyHandler adapts the proxy pipeline to Echo.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Middleware returns Echo middleware that proxies every request. Requests
// rejected by the filter continue down the chain to next.
func (h *ProxyHandler) Middleware() echo.MiddlewareFunc {
	return h.MiddlewareWithSkipper(nil)
}

// MiddlewareWithSkipper is like Middleware but leaves requests for which
// skipper returns true to the rest of the chain.
func (h *ProxyHandler) MiddlewareWithSkipper(skipper echomw.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = echomw.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			var (
				escaped bool
				failure error
			)
			h.service.Handle(inboundRequest(c), &echoSink{c: c}, func(err error) {
				escaped = true
				failure = err
			})

			switch {
			case !escaped:
				return nil
			case failure == nil:
				return next(c)
			default:
				return h.mapError(c, failure)
			}
		}
	}
}

func inboundRequest(c echo.Context) *model.InboundRequest {
	req := c.Request()
	in := &model.InboundRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		URL:           req.URL.RequestURI(),
		Path:          req.URL.Path,
		Host:          req.Host,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		ParsedBody:    c.Get(ParsedBodyKey),
		Session:       c.Get(SessionKey),
	}

	names := c.ParamNames()
	if len(names) > 0 {
		values := c.ParamValues()
		in.Params = make(map[string]string, len(names))
		for i, name := range names {
			if i < len(values) {
				in.Params[name] = values[i]
			}
		}
	}
	return in
}

// echoSink writes the pipeline's response through echo.Response.
type echoSink struct {
	c      echo.Context
	status int
}

func (s *echoSink) SetStatus(code int) { s.status = code }

func (s *echoSink) Header() http.Header { return s.c.Response().Header() }

func (s *echoSink) Committed() bool { return s.c.Response().Committed }

func (s *echoSink) Send(body []byte) error {
	res := s.c.Response()
	if !res.Committed {
		status := s.status
		if status == 0 {
			status = http.StatusOK
		}
		res.WriteHeader(status)
	}
	_, err := res.Write(body)
	return err
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	kind := model.KindOf(err)
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"kind", kind.String(),
		"path", c.Request().URL.Path,
	)

	// Headers are on the wire; the client sees a truncated response.
	if c.Response().Committed {
		return nil
	}

	status, msg := errorResponse(err)
	return c.JSON(status, map[string]string{"error": msg})
}

func errorResponse(err error) (int, string) {
	switch model.KindOf(err) {
	case model.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, "request body exceeds the configured limit"
	case model.KindTransport:
		if model.IsTimeout(err) {
			return http.StatusGatewayTimeout, "upstream request timed out"
		}
		return http.StatusBadGateway, "upstream connection failed"
	case model.KindUpstreamStream:
		return http.StatusBadGateway, "upstream response was truncated"
	case model.KindConfiguration:
		return http.StatusInternalServerError, "proxy is misconfigured"
	case model.KindContractViolation:
		return http.StatusInternalServerError, "proxy hook returned an invalid result"
	default:
		return http.StatusBadGateway, "upstream request failed"
	}
}

// sanitizeError redacts credentials from error messages that may contain
// upstream URLs.
func sanitizeError(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
