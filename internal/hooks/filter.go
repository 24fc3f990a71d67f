package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"intercept-proxy-go/internal/model"
)

// celFilter evaluates a boolean CEL expression against the inbound request,
// exposed as the `request` map:
//
//	request.method, request.path, request.url, request.host  string
//	request.headers  map of lower-cased header name to first value
//	request.params   route parameters
type celFilter struct {
	expr    string
	program cel.Program
}

func newFilter(expr string) (*celFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, model.NewError(model.KindConfiguration, "compile filter",
			fmt.Sprintf("hooks.filter %q is invalid", expr), issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, model.Errorf(model.KindConfiguration, "compile filter",
			"hooks.filter %q must evaluate to bool; got %s", expr, out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, model.NewError(model.KindConfiguration, "compile filter",
			fmt.Sprintf("hooks.filter %q cannot be planned", expr), err)
	}
	return &celFilter{expr: expr, program: program}, nil
}

// Allow implements service.FilterFunc.
func (f *celFilter) Allow(_ context.Context, in *model.InboundRequest) (bool, error) {
	result, _, err := f.program.Eval(map[string]any{"request": requestAttrs(in)})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.expr, err)
	}
	allow, ok := result.Value().(bool)
	if !ok {
		return false, model.Errorf(model.KindContractViolation, "evaluate filter",
			"filter %q returned %T, want bool", f.expr, result.Value())
	}
	return allow, nil
}

func requestAttrs(in *model.InboundRequest) map[string]any {
	headers := make(map[string]string, len(in.Header))
	for name, values := range in.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	if in.Host != "" {
		headers["host"] = in.Host
	}

	params := in.Params
	if params == nil {
		params = map[string]string{}
	}

	return map[string]any{
		"method":  in.Method,
		"path":    in.Path,
		"url":     in.URL,
		"host":    in.Host,
		"headers": headers,
		"params":  params,
	}
}
