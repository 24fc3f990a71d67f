package hooks

import (
	"context"
	"strings"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/model"
	"intercept-proxy-go/internal/service"
)

// interceptor edits response headers and substitutes strings in the
// response body.
type interceptor struct {
	set      map[string]string
	remove   []string
	replacer *strings.Replacer
}

func newInterceptor(cfg config.InterceptConfig) *interceptor {
	i := &interceptor{set: cfg.SetHeaders, remove: cfg.RemoveHeaders}
	if len(cfg.Replace) > 0 {
		pairs := make([]string, 0, 2*len(cfg.Replace))
		for _, r := range cfg.Replace {
			pairs = append(pairs, r.From, r.To)
		}
		i.replacer = strings.NewReplacer(pairs...)
	}
	return i
}

// Intercept implements service.InterceptFunc. Header edits are skipped once
// the response is committed. Encoded bodies (gzip, br, ...) are delivered
// untouched.
func (i *interceptor) Intercept(_ context.Context, resp model.UpstreamResponse, _ *model.InboundRequest, sink service.ResponseSink) service.InterceptResult {
	if !sink.Committed() {
		editHeaders(sink.Header(), i.set, i.remove)
	}

	if i.replacer == nil || !identityEncoded(resp) {
		return service.Deliver(resp.Body)
	}
	return service.Deliver([]byte(i.replacer.Replace(string(resp.Body))))
}

func identityEncoded(resp model.UpstreamResponse) bool {
	ce := strings.TrimSpace(resp.Header.Get("Content-Encoding"))
	return ce == "" || strings.EqualFold(ce, "identity")
}
