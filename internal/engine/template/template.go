package template

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Engine renders {{ expression }} placeholders inside parameter values
// against the workflow context. Expressions are property access and
// operators only: calls and comprehensions are rejected at parse time
// unless explicitly enabled, so a template can read data but never
// compute unboundedly.
type Engine struct {
	timeout         time.Duration
	enableFunctions bool
	enableLoops     bool
	strict          bool
}

type Option func(*Engine)

func WithFunctions() Option {
	return func(e *Engine) { e.enableFunctions = true }
}

func WithLoops() Option {
	return func(e *Engine) { e.enableLoops = true }
}

// WithStrictMode makes a reference to a name absent from the scope a
// render error instead of a silent nil.
func WithStrictMode() Option {
	return func(e *Engine) { e.strict = true }
}

func NewEngine(timeout time.Duration, opts ...Option) *Engine {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	e := &Engine{timeout: timeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RenderParameters walks a parameter tree and renders every string leaf.
// Non-string leaves pass through untouched. The input is never mutated.
func (e *Engine) RenderParameters(ctx context.Context, params map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rendered, err := e.renderAny(ctx, params, data)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]interface{}), nil
}

func (e *Engine) renderAny(ctx context.Context, value interface{}, data map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.RenderString(ctx, v, data)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			rendered, err := e.renderAny(ctx, item, data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			rendered, err := e.renderAny(ctx, item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderString renders one string value. A string that is exactly one
// placeholder yields the expression's value with its type preserved;
// placeholders embedded in surrounding text are stringified in place.
func (e *Engine) RenderString(ctx context.Context, s string, data map[string]interface{}) (interface{}, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	// Whole-string placeholder: return the raw value.
	if m := placeholderRegex.FindStringSubmatch(s); m != nil && strings.TrimSpace(s) == strings.TrimSpace(m[0]) {
		return e.eval(ctx, m[1], data)
	}

	var evalErr error
	result := placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		if evalErr != nil {
			return match
		}
		expression := placeholderRegex.FindStringSubmatch(match)[1]
		val, err := e.eval(ctx, expression, data)
		if err != nil {
			evalErr = err
			return match
		}
		return stringify(val)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

// CheckSyntax parses an expression without evaluating it. Used by the
// publish validator to reject malformed templates early.
func (e *Engine) CheckSyntax(expression string) error {
	tree, err := parser.Parse(expression)
	if err != nil {
		return contracts.NewError(contracts.KindTemplateParse, fmt.Sprintf("parse error: %v", err), err)
	}
	return e.restrict(tree.Node, expression)
}

// CheckTemplateSyntax checks every placeholder inside a string value.
func (e *Engine) CheckTemplateSyntax(s string) error {
	for _, m := range placeholderRegex.FindAllStringSubmatch(s, -1) {
		if err := e.CheckSyntax(m[1]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) eval(ctx context.Context, expression string, data map[string]interface{}) (interface{}, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, contracts.NewError(contracts.KindTemplateParse, fmt.Sprintf("parse error in %q: %v", expression, err), err)
	}
	if err := e.restrict(tree.Node, expression); err != nil {
		return nil, err
	}
	if e.strict {
		if err := checkReferences(tree.Node, data, expression); err != nil {
			return nil, err
		}
	}

	program, err := expr.Compile(expression, expr.Env(data))
	if err != nil {
		return nil, contracts.NewError(contracts.KindTemplateParse, fmt.Sprintf("compile error in %q: %v", expression, err), err)
	}

	type evalResult struct {
		value interface{}
		err   error
	}
	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		val, err := expr.Run(program, data)
		done <- evalResult{value: val, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, contracts.NewError(contracts.KindTemplateTimeout, fmt.Sprintf("render of %q exceeded the render timeout", expression), ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, contracts.NewError(contracts.KindTemplateRuntime, fmt.Sprintf("runtime error in %q: %v", expression, res.err), res.err)
		}
		return res.value, nil
	}
}

func (e *Engine) restrict(node ast.Node, expression string) error {
	v := &restrictVisitor{allowCalls: e.enableFunctions, allowLoops: e.enableLoops}
	ast.Walk(&node, v)
	if v.violation != "" {
		return contracts.NewError(contracts.KindTemplateParse,
			fmt.Sprintf("%s not allowed in %q", v.violation, expression), nil)
	}
	return nil
}

type restrictVisitor struct {
	allowCalls bool
	allowLoops bool
	violation  string
}

func (v *restrictVisitor) Visit(node *ast.Node) {
	if v.violation != "" {
		return
	}
	switch (*node).(type) {
	case *ast.CallNode:
		if !v.allowCalls {
			v.violation = "function calls are"
		}
	case *ast.BuiltinNode:
		if !v.allowCalls {
			v.violation = "builtin functions are"
		}
	case *ast.PredicateNode:
		if !v.allowLoops {
			v.violation = "comprehensions are"
		}
	}
}

// checkReferences resolves every statically addressable member chain in
// the expression against the scope. Dynamic indexes and non-map bases
// are left for the evaluator.
func checkReferences(root ast.Node, data map[string]interface{}, expression string) error {
	v := &referenceVisitor{data: data}
	node := root
	ast.Walk(&node, v)
	if v.missing != "" {
		return contracts.NewError(contracts.KindTemplateRuntime,
			fmt.Sprintf("reference to undefined name %q in %q", v.missing, expression), nil)
	}
	return nil
}

type referenceVisitor struct {
	data    map[string]interface{}
	missing string
}

func (v *referenceVisitor) Visit(node *ast.Node) {
	if v.missing != "" {
		return
	}
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if _, ok := v.data[n.Value]; !ok {
			v.missing = n.Value
		}
	case *ast.MemberNode:
		v.resolve(n)
	}
}

func (v *referenceVisitor) resolve(node ast.Node) (interface{}, bool, string) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		val, ok := v.data[n.Value]
		if !ok {
			if v.missing == "" {
				v.missing = n.Value
			}
			return nil, false, n.Value
		}
		return val, true, n.Value
	case *ast.MemberNode:
		base, ok, path := v.resolve(n.Node)
		if !ok {
			return nil, false, path
		}
		switch prop := n.Property.(type) {
		case *ast.StringNode:
			full := path + "." + prop.Value
			m, isMap := base.(map[string]interface{})
			if !isMap {
				return nil, false, full
			}
			val, exists := m[prop.Value]
			if !exists {
				if !n.Optional && v.missing == "" {
					v.missing = full
				}
				return nil, false, full
			}
			return val, true, full
		case *ast.IntegerNode:
			full := fmt.Sprintf("%s[%d]", path, prop.Value)
			arr, isArr := base.([]interface{})
			if !isArr {
				return nil, false, full
			}
			if prop.Value < 0 || prop.Value >= len(arr) {
				if !n.Optional && v.missing == "" {
					v.missing = full
				}
				return nil, false, full
			}
			return arr[prop.Value], true, full
		default:
			return nil, false, path
		}
	default:
		return nil, false, ""
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
