package handler

import (
	"net/http"

	humanize "github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"intercept-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	encoding := h.cfg.Proxy.Encoding().Name()
	if encoding == "" {
		encoding = "raw"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":        "ok",
		"version":       string(h.version),
		"target":        h.cfg.Proxy.Host,
		"body_limit":    humanize.IBytes(uint64(h.cfg.Proxy.LimitBytes())),
		"body_encoding": encoding,
	})
}
