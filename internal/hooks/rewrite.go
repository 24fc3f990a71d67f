package hooks

import (
	"fmt"
	"regexp"

	"intercept-proxy-go/internal/config"
	"intercept-proxy-go/internal/model"
)

type rewriteRule struct {
	re          *regexp.Regexp
	replacement string
}

// rewriter maps the inbound request URI to the outbound path. The first rule
// whose pattern matches is applied; unmatched URIs are forwarded unchanged.
type rewriter struct {
	rules []rewriteRule
}

func newRewriter(rules []config.RewriteRule) (*rewriter, error) {
	r := &rewriter{rules: make([]rewriteRule, 0, len(rules))}
	for i, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, model.NewError(model.KindConfiguration, "compile rewrite",
				fmt.Sprintf("hooks.rewrite[%d].pattern is invalid", i), err)
		}
		r.rules = append(r.rules, rewriteRule{re: re, replacement: rule.Replacement})
	}
	return r, nil
}

// Path implements service.ForwardPathFunc.
func (r *rewriter) Path(req model.OutboundRequest) string {
	uri := req.URL
	if uri == "" {
		uri = req.Path
	}
	for _, rule := range r.rules {
		if rule.re.MatchString(uri) {
			return rule.re.ReplaceAllString(uri, rule.replacement)
		}
	}
	return uri
}
