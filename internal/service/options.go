package service

import (
	"net/http"

	"intercept-proxy-go/internal/codec"
	"intercept-proxy-go/internal/config"
)

// Options configures a ProxyService. Only Host is required.
type Options struct {
	Host HostFunc
	// Port overrides the port resolved from Host when positive.
	Port int

	Filter           FilterFunc
	ForwardPath      ForwardPathFunc
	ForwardPathAsync ForwardPathAsyncFunc
	Decorate         DecorateFunc
	Intercept        InterceptFunc

	// Limit is the maximum inbound body size in bytes; 0 means 1 MiB.
	Limit int64
	// Encoding decodes inbound bodies. The zero value keeps raw bytes; use
	// codec.UTF8 for the default behavior.
	Encoding           codec.Encoding
	ReqAsBuffer        bool
	PreserveHostHeader bool
	PreserveSession    bool

	// Headers are defaults merged under every outbound request's headers.
	Headers http.Header
}

// Hooks groups the extension hooks supplied by the hosting application.
type Hooks struct {
	Filter           FilterFunc
	ForwardPath      ForwardPathFunc
	ForwardPathAsync ForwardPathAsyncFunc
	Decorate         DecorateFunc
	Intercept        InterceptFunc
}

// OptionsFromConfig maps the [proxy] configuration table and hooks to Options.
func OptionsFromConfig(cfg *config.Config, hooks Hooks) Options {
	p := cfg.Proxy

	var headers http.Header
	if len(p.Headers) > 0 {
		headers = make(http.Header, len(p.Headers))
		for k, v := range p.Headers {
			headers.Set(k, v)
		}
	}

	return Options{
		Host:               StaticHost(p.Host),
		Port:               p.Port,
		Filter:             hooks.Filter,
		ForwardPath:        hooks.ForwardPath,
		ForwardPathAsync:   hooks.ForwardPathAsync,
		Decorate:           hooks.Decorate,
		Intercept:          hooks.Intercept,
		Limit:              p.LimitBytes(),
		Encoding:           p.Encoding(),
		ReqAsBuffer:        p.ReqAsBuffer,
		PreserveHostHeader: p.PreserveHostHeader,
		PreserveSession:    p.PreserveSession,
		Headers:            headers,
	}
}
