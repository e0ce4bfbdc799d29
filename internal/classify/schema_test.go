package classify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sanitizeToMap(t *testing.T, raw string, keepTitle, keepDescription bool) map[string]any {
	t.Helper()
	out, err := SanitizeSchema(json.RawMessage(raw), keepTitle, keepDescription)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	return m
}

func TestSanitizeSchema_StripsMetadata(t *testing.T) {
	raw := `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$id": "https://example.com/classification.json",
		"title": "Classification",
		"description": "One classification per signature.",
		"x-vendor-hint": "ignore me",
		"type": "object",
		"required": ["service_name"],
		"properties": {
			"service_name": {"type": "string", "minLength": 1, "examples": ["Slack"]}
		}
	}`

	m := sanitizeToMap(t, raw, false, false)

	assert.NotContains(t, m, "$schema")
	assert.NotContains(t, m, "$id")
	assert.NotContains(t, m, "title")
	assert.NotContains(t, m, "description")
	assert.NotContains(t, m, "x-vendor-hint")
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []any{"service_name"}, m["required"])

	props := m["properties"].(map[string]any)
	name := props["service_name"].(map[string]any)
	assert.Equal(t, "string", name["type"])
	assert.Equal(t, float64(1), name["minLength"])
	assert.NotContains(t, name, "examples")
}

func TestSanitizeSchema_KeepFlags(t *testing.T) {
	raw := `{"type": "string", "title": "Risk", "description": "Risk level code."}`

	m := sanitizeToMap(t, raw, true, false)
	assert.Equal(t, "Risk", m["title"])
	assert.NotContains(t, m, "description")

	m = sanitizeToMap(t, raw, false, true)
	assert.NotContains(t, m, "title")
	assert.Equal(t, "Risk level code.", m["description"])
}

func TestSanitizeSchema_PropertyNamesAreNotKeywords(t *testing.T) {
	// A property happens to be named "title"; it must survive because
	// properties keys are names, not schema keywords.
	raw := `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "title": "drop me"}
		},
		"$defs": {
			"description": {"type": "integer"}
		}
	}`

	m := sanitizeToMap(t, raw, false, false)

	props := m["properties"].(map[string]any)
	require.Contains(t, props, "title")
	sub := props["title"].(map[string]any)
	assert.Equal(t, "string", sub["type"])
	assert.NotContains(t, sub, "title")

	defs := m["$defs"].(map[string]any)
	require.Contains(t, defs, "description")
}

func TestSanitizeSchema_RecursesThroughCombinators(t *testing.T) {
	raw := `{
		"anyOf": [
			{"type": "string", "deprecated": true},
			{"$ref": "#/$defs/code", "examples": ["FS-001"]}
		]
	}`

	m := sanitizeToMap(t, raw, false, false)

	anyOf := m["anyOf"].([]any)
	require.Len(t, anyOf, 2)
	first := anyOf[0].(map[string]any)
	assert.Equal(t, "string", first["type"])
	assert.NotContains(t, first, "deprecated")
	second := anyOf[1].(map[string]any)
	assert.Equal(t, "#/$defs/code", second["$ref"])
	assert.NotContains(t, second, "examples")
}

func TestSanitizeSchema_RejectsInvalidJSON(t *testing.T) {
	_, err := SanitizeSchema(json.RawMessage(`{"type":`), false, false)
	assert.Error(t, err)
}
