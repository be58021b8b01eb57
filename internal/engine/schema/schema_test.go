package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":  map[string]interface{}{"type": "string"},
			"count": map[string]interface{}{"type": "integer"},
			"address": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"city": map[string]interface{}{"type": "string"},
				},
			},
		},
		"required": []interface{}{"name"},
	}
}

func TestValidateAcceptsConformingValue(t *testing.T) {
	v := NewValidator()

	msgs := v.Validate(personSchema(), map[string]interface{}{
		"name":  "ada",
		"count": 3,
		"address": map[string]interface{}{
			"city": "london",
		},
	})
	assert.Empty(t, msgs)
}

func TestValidateEmptySchemaAcceptsAnything(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.Validate(nil, map[string]interface{}{"anything": true}))
	assert.Empty(t, v.Validate(map[string]interface{}{}, []interface{}{1, "two"}))
}

func TestValidateReportsPathPrefixedViolations(t *testing.T) {
	v := NewValidator()

	msgs := v.Validate(personSchema(), map[string]interface{}{
		"name":  "ada",
		"count": "not a number",
	})
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "$.count:"), msgs[0])
}

func TestValidateNestedViolationPath(t *testing.T) {
	v := NewValidator()

	msgs := v.Validate(personSchema(), map[string]interface{}{
		"name": "ada",
		"address": map[string]interface{}{
			"city": 42,
		},
	})
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "$.address.city:"), msgs[0])
}

func TestValidateMissingRequiredProperty(t *testing.T) {
	v := NewValidator()

	msgs := v.Validate(personSchema(), map[string]interface{}{"count": 1})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "name")
}

func TestValidateNormalizesGoIntegers(t *testing.T) {
	v := NewValidator()

	// Values assembled in Go carry int, not the float64 json.Unmarshal
	// would produce; both must validate the same way.
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"n": map[string]interface{}{"type": "integer", "minimum": 2},
		},
	}
	assert.Empty(t, v.Validate(schema, map[string]interface{}{"n": 3}))
	assert.NotEmpty(t, v.Validate(schema, map[string]interface{}{"n": 1}))
}

func TestValidateBadSchemaDocument(t *testing.T) {
	v := NewValidator()

	msgs := v.Validate(map[string]interface{}{"type": 123}, map[string]interface{}{})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "schema")
}

func TestCompileReuse(t *testing.T) {
	v := NewValidator()

	compiled, err := v.Compile(personSchema())
	require.NoError(t, err)

	assert.Empty(t, v.ValidateCompiled(compiled, map[string]interface{}{"name": "ada"}))
	assert.NotEmpty(t, v.ValidateCompiled(compiled, map[string]interface{}{}))
}
