package rules

// builtinHostRules covers the SaaS/GenAI endpoints seen most often in proxy
// logs. Codes reference the static taxonomy; an external rules file can
// override any entry by host.
var builtinHostRules = []HostRule{
	{
		Host: "api.openai.com", ServiceName: "OpenAI API", UsageType: "genai",
		RiskLevel: "high", Category: "GenAI",
		Codes: map[string][]string{
			"FS": {"FS-001"}, "IM": {"IM-001"}, "UC": {"UC-001"},
			"DT": {"DT-002"}, "CH": {"CH-002"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "chatgpt.com", ServiceName: "ChatGPT", UsageType: "genai",
		RiskLevel: "high", Category: "GenAI",
		Codes: map[string][]string{
			"FS": {"FS-001"}, "IM": {"IM-001"}, "UC": {"UC-001"},
			"DT": {"DT-002"}, "CH": {"CH-001"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "api.anthropic.com", ServiceName: "Anthropic API", UsageType: "genai",
		RiskLevel: "high", Category: "GenAI",
		Codes: map[string][]string{
			"FS": {"FS-001"}, "IM": {"IM-001"}, "UC": {"UC-001"},
			"DT": {"DT-002"}, "CH": {"CH-002"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "claude.ai", ServiceName: "Claude", UsageType: "genai",
		RiskLevel: "high", Category: "GenAI",
		Codes: map[string][]string{
			"FS": {"FS-001"}, "IM": {"IM-001"}, "UC": {"UC-001"},
			"DT": {"DT-002"}, "CH": {"CH-001"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "generativelanguage.googleapis.com", ServiceName: "Gemini API", UsageType: "genai",
		RiskLevel: "high", Category: "GenAI",
		Codes: map[string][]string{
			"FS": {"FS-001"}, "IM": {"IM-001"}, "UC": {"UC-001"},
			"DT": {"DT-002"}, "CH": {"CH-002"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "github.com", ServiceName: "GitHub", UsageType: "saas",
		RiskLevel: "moderate", Category: "Developer tools",
		Codes: map[string][]string{
			"FS": {"FS-002"}, "IM": {"IM-002"}, "UC": {"UC-002"},
			"DT": {"DT-004"}, "CH": {"CH-001"}, "RS": {"RS-002"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "dropbox.com", ServiceName: "Dropbox", UsageType: "saas",
		RiskLevel: "high", Category: "File sharing",
		Codes: map[string][]string{
			"FS": {"FS-003"}, "IM": {"IM-002"}, "UC": {"UC-004"},
			"DT": {"DT-002"}, "CH": {"CH-001"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "slack.com", ServiceName: "Slack", UsageType: "saas",
		RiskLevel: "moderate", Category: "Collaboration",
		Codes: map[string][]string{
			"FS": {"FS-004"}, "IM": {"IM-002"}, "UC": {"UC-005"},
			"DT": {"DT-002"}, "CH": {"CH-001"}, "RS": {"RS-002"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "wetransfer.com", ServiceName: "WeTransfer", UsageType: "saas",
		RiskLevel: "high", Category: "File sharing",
		Codes: map[string][]string{
			"FS": {"FS-003"}, "IM": {"IM-001"}, "UC": {"UC-004"},
			"DT": {"DT-002"}, "CH": {"CH-001"}, "RS": {"RS-003"}, "EV": {"EV-001"},
		},
	},
	{
		Host: "huggingface.co", ServiceName: "Hugging Face", UsageType: "genai",
		RiskLevel: "moderate", Category: "GenAI",
		Codes: map[string][]string{
			"FS": {"FS-001"}, "IM": {"IM-001"}, "UC": {"UC-002"},
			"DT": {"DT-004"}, "CH": {"CH-001"}, "RS": {"RS-002"}, "EV": {"EV-001"},
		},
	},
}
