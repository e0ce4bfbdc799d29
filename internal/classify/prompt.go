package classify

import (
	"fmt"
	"strings"

	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/taxonomy"
)

const systemPrompt = `You are a Shadow IT / Shadow AI auditor. You receive fingerprinted URL access patterns observed in enterprise proxy logs and identify the SaaS or GenAI service behind each one. Respond only with a JSON object, no prose, no markdown fences.`

// responseSchema declares the expected output shape. It is sanitized before
// being sent as a structured-output hint.
const responseSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$id": "https://sells-group.com/shadowscan/classification.json",
	"title": "Batch classification response",
	"description": "One classification per input url_signature.",
	"type": "object",
	"required": ["classifications"],
	"properties": {
		"classifications": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["url_signature", "service_name", "usage_type", "risk_level", "category", "confidence", "rationale", "codes"],
				"properties": {
					"url_signature": {"type": "string", "minLength": 64, "maxLength": 64},
					"service_name": {"type": "string"},
					"usage_type": {"type": "string"},
					"risk_level": {"type": "string"},
					"category": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"rationale": {"type": "string"},
					"codes": {
						"type": "object",
						"additionalProperties": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}
}`

func cardinalityText(card model.Cardinality) string {
	switch card {
	case model.ExactlyOne:
		return "exactly one code"
	case model.OneOrMore:
		return "one or more codes"
	default:
		return "zero or more codes"
	}
}

// buildPrompt enumerates the fingerprints and the allowed taxonomy codes
// with their cardinality rules. Only codes listed here are valid output.
func buildPrompt(sigs []model.Signature, source taxonomy.Source) string {
	var b strings.Builder

	b.WriteString("Classify each URL access pattern below.\n\nAllowed taxonomy codes (use only these):\n")
	for _, dim := range model.AllDimensions() {
		fmt.Fprintf(&b, "\n%s (%s):\n", dim, cardinalityText(source.Cardinality(dim)))
		for _, code := range source.AllowedCodes(dim) {
			fmt.Fprintf(&b, "  %s: %s\n", code, source.CodeLabel(code))
		}
	}

	b.WriteString("\nAccess patterns:\n")
	for _, sig := range sigs {
		fmt.Fprintf(&b, "- url_signature=%s host=%s path_template=%s method_group=%s bytes_bucket=%s param_count=%d auth_token_like=%t\n",
			sig.URLSignature, sig.Host, sig.PathTemplate, sig.MethodGroup,
			sig.BytesBucket, sig.ParamCount, sig.HasAuthTokenLike)
	}

	b.WriteString("\nReturn a JSON object {\"classifications\": [...]} with exactly one entry per url_signature listed above.\n")
	return b.String()
}

// correctivePrompt echoes the validation failure back so the model can fix
// its previous answer.
func correctivePrompt(base string, validationErr error) string {
	return base + fmt.Sprintf(
		"\nYour previous response was rejected: %s\nReturn corrected JSON only, following the cardinality rules exactly.\n",
		validationErr,
	)
}
