package taxonomy

import "github.com/sells-group/shadowscan/internal/model"

// staticCodes is the built-in fallback taxonomy used when no taxonomy file
// is configured. Each dimension ends with an explicit unknown bucket.
var staticCodes = map[model.Dimension][]Code{
	model.DimFunctionalScope: {
		{ID: "FS-001", Label: "GenAI assistant"},
		{ID: "FS-002", Label: "Code generation"},
		{ID: "FS-003", Label: "File sharing / storage"},
		{ID: "FS-004", Label: "Collaboration / messaging"},
		{ID: "FS-005", Label: "CRM / sales tooling"},
		{ID: "FS-006", Label: "Analytics / tracking"},
		{ID: "FS-099", Label: "Unknown functional scope"},
	},
	model.DimImpact: {
		{ID: "IM-001", Label: "Individual productivity"},
		{ID: "IM-002", Label: "Team workflow"},
		{ID: "IM-003", Label: "Business-critical process"},
		{ID: "IM-099", Label: "Unknown impact"},
	},
	model.DimUseCase: {
		{ID: "UC-001", Label: "Content drafting"},
		{ID: "UC-002", Label: "Code assistance"},
		{ID: "UC-003", Label: "Data analysis"},
		{ID: "UC-004", Label: "Document exchange"},
		{ID: "UC-005", Label: "Communication"},
		{ID: "UC-099", Label: "Unknown use case"},
	},
	model.DimDataType: {
		{ID: "DT-001", Label: "Public data"},
		{ID: "DT-002", Label: "Internal business data"},
		{ID: "DT-003", Label: "Customer / personal data"},
		{ID: "DT-004", Label: "Source code"},
		{ID: "DT-005", Label: "Credentials / secrets"},
		{ID: "DT-099", Label: "Unknown data type"},
	},
	model.DimChannel: {
		{ID: "CH-001", Label: "Browser web app"},
		{ID: "CH-002", Label: "API access"},
		{ID: "CH-003", Label: "Desktop client"},
		{ID: "CH-004", Label: "Mobile client"},
		{ID: "CH-099", Label: "Unknown channel"},
	},
	model.DimRisk: {
		{ID: "RS-001", Label: "Low"},
		{ID: "RS-002", Label: "Moderate"},
		{ID: "RS-003", Label: "High"},
		{ID: "RS-004", Label: "Critical"},
		{ID: "RS-099", Label: "Unknown risk"},
	},
	model.DimEvidence: {
		{ID: "EV-001", Label: "Host match"},
		{ID: "EV-002", Label: "Path pattern"},
		{ID: "EV-003", Label: "Payload size profile"},
		{ID: "EV-004", Label: "Auth token present"},
		{ID: "EV-099", Label: "Unknown evidence"},
	},
	model.DimObservation: {
		{ID: "OB-001", Label: "Recurring access"},
		{ID: "OB-002", Label: "Large upload"},
		{ID: "OB-003", Label: "Off-hours usage"},
	},
}

// StaticSource serves the built-in taxonomy table.
type StaticSource struct{}

func (StaticSource) AllowedCodes(dim model.Dimension) []string {
	codes := staticCodes[dim]
	ids := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = c.ID
	}
	return ids
}

func (StaticSource) CodeLabel(code string) string {
	for _, codes := range staticCodes {
		for _, c := range codes {
			if c.ID == code {
				return c.Label
			}
		}
	}
	return ""
}

func (StaticSource) Cardinality(dim model.Dimension) model.Cardinality {
	return model.DefaultCardinality(dim)
}
