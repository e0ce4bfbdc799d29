package classify

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// allowedSchemaKeywords is the JSON Schema keyword allow-list kept when
// sending a schema as a structured-output hint. Everything else (vendor
// metadata, $schema/$id identifiers) is stripped.
var allowedSchemaKeywords = map[string]bool{
	"type": true, "properties": true, "items": true, "required": true,
	"enum": true, "const": true, "additionalProperties": true,
	"minItems": true, "maxItems": true, "minimum": true, "maximum": true,
	"minLength": true, "maxLength": true, "pattern": true, "format": true,
	"anyOf": true, "oneOf": true, "allOf": true, "definitions": true,
	"$defs": true, "$ref": true,
}

// mapKeywords are keywords whose values map arbitrary names to subschemas,
// so their keys must not be filtered against the keyword allow-list.
var mapKeywords = map[string]bool{
	"properties": true, "definitions": true, "$defs": true,
}

// SanitizeSchema recursively strips a JSON Schema down to the keyword
// allow-list. title and description are removed by default; each can be kept
// independently.
func SanitizeSchema(raw json.RawMessage, keepTitle, keepDescription bool) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "classify: parse schema")
	}

	s := schemaSanitizer{keepTitle: keepTitle, keepDescription: keepDescription}
	cleaned := s.schema(doc)

	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, eris.Wrap(err, "classify: marshal sanitized schema")
	}
	return out, nil
}

type schemaSanitizer struct {
	keepTitle       bool
	keepDescription bool
}

func (s schemaSanitizer) schema(node any) any {
	switch v := node.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, val := range v {
			switch {
			case mapKeywords[key]:
				cleaned[key] = s.subschemaMap(val)
				continue
			case allowedSchemaKeywords[key]:
			case key == "title" && s.keepTitle:
			case key == "description" && s.keepDescription:
			default:
				continue
			}
			cleaned[key] = s.schema(val)
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(v))
		for i, item := range v {
			cleaned[i] = s.schema(item)
		}
		return cleaned
	default:
		return node
	}
}

// subschemaMap handles properties/$defs, whose keys are arbitrary names.
func (s schemaSanitizer) subschemaMap(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return s.schema(node)
	}
	cleaned := make(map[string]any, len(m))
	for name, sub := range m {
		cleaned[name] = s.schema(sub)
	}
	return cleaned
}
