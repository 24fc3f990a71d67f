package hooks

import (
	"context"
	"net/http"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/model"
)

// decorator removes and then sets outbound request headers.
type decorator struct {
	set    map[string]string
	remove []string
}

func newDecorator(cfg config.DecorateConfig) *decorator {
	return &decorator{set: cfg.SetHeaders, remove: cfg.RemoveHeaders}
}

// Decorate implements service.DecorateFunc.
func (d *decorator) Decorate(_ context.Context, req model.OutboundRequest, _ *model.InboundRequest) (*model.OutboundRequest, error) {
	if req.Header == nil {
		req.Header = make(http.Header, len(d.set))
	}
	editHeaders(req.Header, d.set, d.remove)
	return &req, nil
}

func editHeaders(h http.Header, set map[string]string, remove []string) {
	for _, name := range remove {
		h.Del(name)
	}
	for name, value := range set {
		h.Set(name, value)
	}
}
