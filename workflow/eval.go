package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
)

// evalExpr evaluates a CEL expression with the current variables bound by
// name. The environment is rebuilt per call because setVariable can mint
// new names mid-run; workflows are short enough that compilation cost does
// not matter.
func evalExpr(expr string, vars map[string]any) (any, error) {
	decls := make([]cel.EnvOption, 0, len(vars))
	for name := range vars {
		decls = append(decls, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("workflow: cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("workflow: compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("workflow: program %q: %w", expr, err)
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("workflow: eval %q: %w", expr, err)
	}
	return out.Value(), nil
}

// evalCondition evaluates expr and reduces the result to truthiness: bools
// as-is, numbers non-zero, strings non-empty, collections non-empty, nil
// false.
func evalCondition(expr string, vars map[string]any) (bool, error) {
	v, err := evalExpr(expr, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// substitute replaces {{name}} placeholders with the named variable's
// string form. Unknown names are left untouched so the failure is visible
// downstream.
func substitute(s string, vars map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return fmt.Sprint(v)
		}
		return m
	})
}
