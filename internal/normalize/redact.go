package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shadowscan/internal/model"
)

// RedactionRule replaces regex matches with a stable placeholder. Rules apply
// in order; earlier rules see the raw text, later rules see prior placeholders.
type RedactionRule struct {
	Pattern     *regexp.Regexp
	Placeholder string
	Type        model.PIIType
}

// ruleFile is the YAML shape of an external redaction rules file.
type ruleFile struct {
	Rules []struct {
		Pattern     string `yaml:"pattern"`
		Placeholder string `yaml:"placeholder"`
		PIIType     string `yaml:"pii_type"`
	} `yaml:"rules"`
}

// LoadRedactionRules parses an ordered rule list from a YAML file.
func LoadRedactionRules(path string) ([]RedactionRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read rules file %s", path)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, eris.Wrapf(err, "normalize: parse rules file %s", path)
	}

	rules := make([]RedactionRule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: compile rule pattern %q", r.Pattern)
		}
		rules = append(rules, RedactionRule{
			Pattern:     re,
			Placeholder: r.Placeholder,
			Type:        model.PIIType(r.PIIType),
		})
	}
	return rules, nil
}

// DefaultRedactionRules returns the built-in ordered redaction rules.
func DefaultRedactionRules() []RedactionRule {
	return []RedactionRule{
		{
			Pattern:     regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
			Placeholder: ":uuid",
			Type:        model.PIIUUID,
		},
		{
			Pattern:     regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
			Placeholder: ":hex",
			Type:        model.PIIHexToken,
		},
		{
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}`),
			Placeholder: ":tok",
			Type:        model.PIIBase64Token,
		},
		{
			Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+(@|%40)[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
			Placeholder: ":email",
			Type:        model.PIIEmail,
		},
		{
			Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Placeholder: ":ip",
			Type:        model.PIIIPv4,
		},
		{
			Pattern:     regexp.MustCompile(`\b\d{6,}\b`),
			Placeholder: ":id",
			Type:        model.PIINumericID,
		},
	}
}

// sensitiveParamPattern flags query parameter names that suggest credentials
// or personal data. Sniff only: output is never altered.
var sensitiveParamPattern = regexp.MustCompile(`(?i)(^|&)(password|passwd|pwd|secret|api_?key|ssn|dob|phone|email)=`)

// hashValue produces the one-way hash reported through the PII callback.
// Raw matched values never cross the callback boundary.
func hashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// redact applies rules in order to text, recording one PIIHit per match.
func redact(text, location string, rules []RedactionRule, cb func(model.PIIHit)) (string, []model.PIIHit) {
	var hits []model.PIIHit
	for _, rule := range rules {
		text = rule.Pattern.ReplaceAllStringFunc(text, func(match string) string {
			hit := model.PIIHit{Location: location, Type: rule.Type}
			if cb != nil {
				hit.ValueHash = hashValue(match)
				cb(hit)
			}
			hits = append(hits, model.PIIHit{Location: location, Type: rule.Type})
			return rule.Placeholder
		})
	}
	return text, hits
}
