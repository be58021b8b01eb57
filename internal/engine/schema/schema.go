package schema

import (
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Validator compiles and caches JSON Schema documents (draft 2020-12)
// and checks rendered parameters and action outputs against them.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Compile turns a schema document into a reusable compiled schema. An
// empty or nil document compiles to a schema that accepts anything.
func (v *Validator) Compile(doc map[string]interface{}) (*jsonschema.Schema, error) {
	if len(doc) == 0 {
		doc = map[string]interface{}{}
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource("schema.json", normalize(doc)); err != nil {
		return nil, contracts.NewError(contracts.KindSchemaValidation, fmt.Sprintf("add schema resource: %v", err), err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, contracts.NewError(contracts.KindSchemaValidation, fmt.Sprintf("compile schema: %v", err), err)
	}
	return schema, nil
}

// Validate checks value against the schema document and returns one
// human-readable message per violation, each prefixed by the JSON path
// of the offending value.
func (v *Validator) Validate(doc map[string]interface{}, value interface{}) []string {
	schema, err := v.Compile(doc)
	if err != nil {
		return []string{err.Error()}
	}
	return v.ValidateCompiled(schema, value)
}

func (v *Validator) ValidateCompiled(schema *jsonschema.Schema, value interface{}) []string {
	err := schema.Validate(normalize(value))
	if err == nil {
		return nil
	}

	if ve, ok := err.(*jsonschema.ValidationError); ok {
		return flatten(ve)
	}
	return []string{err.Error()}
}

// flatten collects leaf violations so callers get "field X: message"
// lines rather than the compound tree error.
func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		path := "$"
		if len(ve.InstanceLocation) > 0 {
			path = "$." + strings.Join(ve.InstanceLocation, ".")
		}
		return []string{fmt.Sprintf("%s: %s", path, ve.ErrorKind.LocalizedString(printer))}
	}

	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, flatten(cause)...)
	}
	return msgs
}

// normalize rewrites values into the shapes the compiler expects:
// json.Unmarshal-style maps, slices, and float64 numbers.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}
