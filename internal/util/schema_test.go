package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSchema struct {
	A string `json:"a" jsonschema:"description=Field A"`
	B *int   `json:"b,omitempty" jsonschema:"description=Optional pointer field"`
	C int    `json:"c,omitempty" jsonschema:"enum=1,enum=2"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	assert.ElementsMatch(t, []string{"a"}, RequiredFields(schema))
	assert.NotContains(t, schema, "$schema")

	a, ok := props["a"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", a["type"])
	assert.Equal(t, "Field A", a["description"])

	c, ok := props["c"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "integer", c["type"])
	assert.Len(t, c["enum"], 2)
}

func TestCreateSchema_NonStruct(t *testing.T) {
	for _, v := range []any{nil, 42, "x"} {
		schema := CreateSchema(v)
		assert.Equal(t, "object", schema["type"])
		assert.Empty(t, RequiredFields(schema))
	}
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		"required": []any{"x"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"x": 5}, schema))
	require.NoError(t, ValidateParameters(map[string]any{"x": 5.0}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = ValidateParameters(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")
}

func TestValidateParameters_Enum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{"type": "string", "enum": []string{"store", "search"}},
		},
		"required": []string{"op"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"op": "store"}, schema))

	err := ValidateParameters(map[string]any{"op": "drop"}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "op", vErr.Field)
}
