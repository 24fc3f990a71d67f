package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/metrics"
	"intercept-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path
// that is not served by the proxy itself goes through the pipeline,
// whatever its method.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	security := middleware.SecurityHeaders()
	local := map[string]bool{"/healthz": true, "/proxy/status": true}

	e.GET("/healthz", health.Healthz, security)
	e.GET("/proxy/status", health.Status, security)

	if cfg.Metrics.Enabled && m != nil {
		h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		})
		e.GET(cfg.Metrics.Path, echo.WrapHandler(h), security)
		local[cfg.Metrics.Path] = true
	}

	// Mounted with Use rather than a route so that methods outside Echo's
	// fixed list still reach the pipeline.
	e.Use(proxy.MiddlewareWithSkipper(func(c echo.Context) bool {
		return local[c.Request().URL.Path]
	}))
}
