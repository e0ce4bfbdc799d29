package classify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/taxonomy"
)

// batchResponse is the strict wire shape of a classification reply.
type batchResponse struct {
	Classifications []classificationItem `json:"classifications"`
}

type classificationItem struct {
	URLSignature string              `json:"url_signature"`
	ServiceName  string              `json:"service_name"`
	UsageType    string              `json:"usage_type"`
	RiskLevel    string              `json:"risk_level"`
	Category     string              `json:"category"`
	Confidence   float64             `json:"confidence"`
	Rationale    string              `json:"rationale"`
	Codes        map[string][]string `json:"codes"`
}

// parseResponse validates a model reply against the declared schema and
// cardinality rules. Any violation is an error the retry loop echoes back
// in a corrective prompt.
func parseResponse(text string, sigs []model.Signature, source taxonomy.Source, standardVersion string) ([]model.ClassificationRecord, error) {
	text = cleanJSON(text)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var resp batchResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, eris.Wrap(err, "response is not valid JSON")
	}

	want := make(map[string]bool, len(sigs))
	for _, sig := range sigs {
		want[sig.URLSignature] = true
	}

	seen := make(map[string]bool, len(resp.Classifications))
	records := make([]model.ClassificationRecord, 0, len(resp.Classifications))
	now := time.Now().UTC()

	for _, item := range resp.Classifications {
		if !want[item.URLSignature] {
			return nil, eris.Errorf("unexpected url_signature %q in response", item.URLSignature)
		}
		if seen[item.URLSignature] {
			return nil, eris.Errorf("duplicate url_signature %q in response", item.URLSignature)
		}
		seen[item.URLSignature] = true

		if item.ServiceName == "" {
			return nil, eris.Errorf("empty service_name for %s", item.URLSignature)
		}
		if item.Confidence < 0 || item.Confidence > 1 {
			return nil, eris.Errorf("confidence %v out of [0,1] for %s", item.Confidence, item.URLSignature)
		}

		codes := make(model.TaxonomySet, len(item.Codes))
		for dim, cs := range item.Codes {
			codes[model.Dimension(dim)] = cs
		}
		if err := taxonomy.ValidateSet(codes, source); err != nil {
			return nil, eris.Wrapf(err, "codes for %s", item.URLSignature)
		}

		records = append(records, model.ClassificationRecord{
			URLSignature:    item.URLSignature,
			ServiceName:     item.ServiceName,
			UsageType:       item.UsageType,
			RiskLevel:       item.RiskLevel,
			Category:        item.Category,
			Confidence:      item.Confidence,
			Rationale:       item.Rationale,
			Source:          model.SourceLLM,
			Status:          model.StatusActive,
			Codes:           codes,
			StandardVersion: standardVersion,
			UpdatedAt:       now,
		})
	}

	if len(records) != len(sigs) {
		return nil, eris.Errorf("response covered %d of %d signatures", len(records), len(sigs))
	}
	return records, nil
}

// cleanJSON strips markdown fences and surrounding prose from model output.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
