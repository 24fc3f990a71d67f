// Package hooks builds pipeline hooks from the [hooks] configuration table.
package hooks

import (
	"log/slog"

	"go.uber.org/multierr"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/service"
)

// New builds the hooks described by cfg.Hooks. Hooks that are not configured
// are left nil so the pipeline skips them.
func New(cfg *config.Config, logger *slog.Logger) (service.Hooks, error) {
	hc := cfg.Hooks
	var hooks service.Hooks
	var errs error

	if hc.Filter != "" {
		f, err := newFilter(hc.Filter)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			hooks.Filter = f.Allow
		}
	}

	if len(hc.Rewrite) > 0 {
		r, err := newRewriter(hc.Rewrite)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			hooks.ForwardPath = r.Path
		}
	}

	if len(hc.Decorate.SetHeaders) > 0 || len(hc.Decorate.RemoveHeaders) > 0 {
		hooks.Decorate = newDecorator(hc.Decorate).Decorate
	}

	ic := hc.Intercept
	if len(ic.SetHeaders) > 0 || len(ic.RemoveHeaders) > 0 || len(ic.Replace) > 0 {
		hooks.Intercept = newInterceptor(ic).Intercept
	}

	if errs != nil {
		return service.Hooks{}, errs
	}

	logger.Info("hooks configured",
		"filter", hooks.Filter != nil,
		"rewrite_rules", len(hc.Rewrite),
		"decorate", hooks.Decorate != nil,
		"intercept", hooks.Intercept != nil,
	)
	return hooks, nil
}
