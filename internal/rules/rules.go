// Package rules auto-classifies well-known SaaS/GenAI endpoints without an
// LLM call. A rule hit produces a complete active record with source=RULE.
package rules

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/normalize"
	"github.com/sells-group/shadowscan/internal/taxonomy"
)

// HostRule classifies every access to a host (or its registrable domain).
type HostRule struct {
	Host        string              `yaml:"host"`
	ServiceName string              `yaml:"service_name"`
	UsageType   string              `yaml:"usage_type"`
	RiskLevel   string              `yaml:"risk_level"`
	Category    string              `yaml:"category"`
	Codes       map[string][]string `yaml:"codes"`
}

// Classifier matches normalized hosts against the rule table.
type Classifier struct {
	byHost          map[string]HostRule // exact host and registrable domain
	standardVersion string
}

type rulesFile struct {
	Hosts []HostRule `yaml:"hosts"`
}

// New builds a Classifier from the built-in table plus an optional rules
// file merged over it. Every rule's codes are validated against the taxonomy
// here: a rule hit becomes an active record, so a schema-invalid rule is a
// config error, fatal at startup.
func New(cfg config.RulesConfig, source taxonomy.Source, standardVersion string) (*Classifier, error) {
	c := &Classifier{
		byHost:          make(map[string]HostRule),
		standardVersion: standardVersion,
	}
	for _, r := range builtinHostRules {
		c.byHost[r.Host] = r
	}

	if cfg.Path != "" {
		raw, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "rules: read %s", cfg.Path)
		}
		var rf rulesFile
		if err := yaml.Unmarshal(raw, &rf); err != nil {
			return nil, eris.Wrapf(err, "rules: parse %s", cfg.Path)
		}
		for _, r := range rf.Hosts {
			c.byHost[r.Host] = r
		}
	}

	for host, r := range c.byHost {
		if err := taxonomy.ValidateSet(toTaxonomySet(r.Codes), source); err != nil {
			return nil, eris.Wrapf(err, "rules: invalid codes for host %s", host)
		}
	}
	return c, nil
}

func toTaxonomySet(raw map[string][]string) model.TaxonomySet {
	codes := make(model.TaxonomySet, len(raw))
	for dim, cs := range raw {
		codes[model.Dimension(dim)] = cs
	}
	return codes
}

// Classify returns a complete record for a known host, or (nil, false).
// The lookup tries the exact host first, then its registrable domain.
func (c *Classifier) Classify(sig model.Signature) (*model.ClassificationRecord, bool) {
	rule, ok := c.byHost[sig.Host]
	if !ok {
		if domain := normalize.RegistrableDomain(sig.Host); domain != "" {
			rule, ok = c.byHost[domain]
		}
	}
	if !ok {
		return nil, false
	}

	zap.L().Debug("rules: host matched",
		zap.String("host", sig.Host),
		zap.String("service", rule.ServiceName),
	)

	return &model.ClassificationRecord{
		URLSignature:    sig.URLSignature,
		ServiceName:     rule.ServiceName,
		UsageType:       rule.UsageType,
		RiskLevel:       rule.RiskLevel,
		Category:        rule.Category,
		Confidence:      1.0,
		Rationale:       "host rule: " + rule.Host,
		Source:          model.SourceRule,
		Status:          model.StatusActive,
		Codes:           toTaxonomySet(rule.Codes),
		StandardVersion: c.standardVersion,
		UpdatedAt:       time.Now().UTC(),
	}, true
}
