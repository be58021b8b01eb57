package validate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/conductorhq/conductor/internal/engine/catalog"
	"github.com/conductorhq/conductor/internal/engine/condition"
	"github.com/conductorhq/conductor/internal/engine/parser"
	"github.com/conductorhq/conductor/internal/engine/schema"
	"github.com/conductorhq/conductor/internal/engine/template"
)

// Result is the outcome of a publish/execute validation pass. Warnings
// never block publish.
type Result struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator composes the pure graph checks with catalog resolution,
// parameter-schema validation and condition checking.
type Validator struct {
	registry   *catalog.Registry
	schemas    *schema.Validator
	templates  *template.Engine
	conditions *condition.Evaluator
}

func NewValidator(registry *catalog.Registry, schemas *schema.Validator, templates *template.Engine, conditions *condition.Evaluator) *Validator {
	return &Validator{
		registry:   registry,
		schemas:    schemas,
		templates:  templates,
		conditions: conditions,
	}
}

// Validate runs every check against a parsed document. Graph errors
// short-circuit the remaining checks since they make node-level
// validation meaningless.
func (v *Validator) Validate(ctx context.Context, doc *parser.Document) Result {
	if errs := parser.ValidateGraph(doc); len(errs) > 0 {
		return Result{IsValid: false, Errors: errs}
	}

	var errs, warnings []string

	for i := range doc.Nodes {
		node := &doc.Nodes[i]

		entry, err := v.registry.GetByActionType(node.ActionType)
		if err != nil {
			errs = append(errs, fmt.Sprintf("node %q: %v", node.ID, err))
			continue
		}
		if entry.RequiresAuth {
			warnings = append(warnings, fmt.Sprintf("node %q uses action %q which requires authentication", node.ID, node.ActionType))
		}

		errs = append(errs, v.checkTemplates(node)...)
		errs = append(errs, v.checkParameters(node, entry.ParameterSchema)...)

		for _, edge := range node.Edges {
			if err := v.conditions.Check(ctx, edge.Condition); err != nil {
				errs = append(errs, fmt.Sprintf("node %q edge to %q: %v", node.ID, edge.TargetNode, err))
			}
		}

		if node.RoutePolicy == parser.RoutePolicyFirstMatch {
			warnings = append(warnings, firstMatchWarnings(node)...)
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// checkTemplates walks the declared parameters and parses every
// placeholder so malformed templates fail at publish, not mid-run.
func (v *Validator) checkTemplates(node *parser.Node) []string {
	var errs []string
	walkStrings(node.Parameters, func(path, s string) {
		if err := v.templates.CheckTemplateSyntax(s); err != nil {
			errs = append(errs, fmt.Sprintf("node %q parameter %s: %v", node.ID, path, err))
		}
	})
	return errs
}

// checkParameters validates declared parameters against the action's
// schema. Violations whose offending value is a template placeholder
// are dropped: a templated value satisfies any slot until render time.
func (v *Validator) checkParameters(node *parser.Node, parameterSchema map[string]interface{}) []string {
	var errs []string
	for _, msg := range v.schemas.Validate(parameterSchema, node.Parameters) {
		if templatedViolation(node.Parameters, msg) {
			continue
		}
		errs = append(errs, fmt.Sprintf("node %q parameters: %s", node.ID, msg))
	}
	return errs
}

// templatedViolation reports whether a violation message points at a
// string value that still contains a template placeholder.
func templatedViolation(params map[string]interface{}, msg string) bool {
	path, _, found := strings.Cut(msg, ": ")
	if !found || !strings.HasPrefix(path, "$.") {
		return false
	}

	var current interface{} = params
	for _, part := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
		switch c := current.(type) {
		case map[string]interface{}:
			current = c[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return false
			}
			current = c[idx]
		default:
			return false
		}
	}

	s, ok := current.(string)
	return ok && strings.Contains(s, "{{")
}

// firstMatchWarnings flags edges that can never fire because an earlier
// unconditional edge with the same guard always wins.
func firstMatchWarnings(node *parser.Node) []string {
	var warnings []string
	unconditional := map[string]bool{}
	for _, edge := range node.Edges {
		guard := edge.When
		if unconditional[guard] || unconditional[parser.WhenAlways] {
			warnings = append(warnings, fmt.Sprintf(
				"node %q: edge to %q is unreachable under firstMatch routing", node.ID, edge.TargetNode))
			continue
		}
		if strings.TrimSpace(edge.Condition) == "" {
			unconditional[guard] = true
		}
	}
	return warnings
}

func walkStrings(value interface{}, fn func(path, s string)) {
	var walk func(path string, v interface{})
	walk = func(path string, v interface{}) {
		switch val := v.(type) {
		case string:
			fn(path, val)
		case map[string]interface{}:
			for k, item := range val {
				walk(path+"."+k, item)
			}
		case []interface{}:
			for i, item := range val {
				walk(fmt.Sprintf("%s[%d]", path, i), item)
			}
		}
	}
	walk("$", value)
}
