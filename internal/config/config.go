package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. Loaded once at startup;
// every component receives its section explicitly.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Signature  SignatureConfig  `yaml:"signature" mapstructure:"signature"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the classification cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NormalizeConfig configures URL normalization.
type NormalizeConfig struct {
	// DropParams are query parameter names removed exactly.
	DropParams []string `yaml:"drop_params" mapstructure:"drop_params"`
	// DropPrefixes removes any query parameter whose name starts with one
	// of these prefixes (e.g. "utm_").
	DropPrefixes []string `yaml:"drop_prefixes" mapstructure:"drop_prefixes"`
	// KeepParams, when non-empty, restricts the query to this whitelist
	// after the drop lists apply.
	KeepParams []string `yaml:"keep_params" mapstructure:"keep_params"`
	// RedactionRulesPath points to an optional YAML file of ordered
	// regex -> placeholder redaction rules overriding the built-ins.
	RedactionRulesPath string `yaml:"redaction_rules_path" mapstructure:"redaction_rules_path"`
}

// SignatureConfig configures fingerprint construction.
type SignatureConfig struct {
	Version string `yaml:"version" mapstructure:"version"`
	// KeyParams is the ordered subset of query parameter names folded into
	// the signature hash.
	KeyParams []string `yaml:"key_params" mapstructure:"key_params"`
	// MethodGroups maps a group label to the HTTP methods it covers.
	MethodGroups map[string][]string `yaml:"method_groups" mapstructure:"method_groups"`
	// DefaultMethodGroup is used for unmatched or absent methods.
	DefaultMethodGroup string `yaml:"default_method_group" mapstructure:"default_method_group"`
	// BytesBuckets are ascending closed ranges; the last bucket is open
	// above. Out-of-range values fall to the top bucket.
	BytesBuckets []BytesBucket `yaml:"bytes_buckets" mapstructure:"bytes_buckets"`
}

// BytesBucket is one ascending bucket in the bytes_sent table.
type BytesBucket struct {
	Label string `yaml:"label" mapstructure:"label"`
	Max   int64  `yaml:"max" mapstructure:"max"` // inclusive upper bound; <0 means unbounded
}

// TaxonomyConfig configures the taxonomy source.
type TaxonomyConfig struct {
	// Path to a YAML taxonomy file. Empty selects the built-in fallback table.
	Path            string `yaml:"path" mapstructure:"path"`
	StandardVersion string `yaml:"standard_version" mapstructure:"standard_version"`
}

// RulesConfig configures the rule-based classifier.
type RulesConfig struct {
	// Path to a YAML file of additional host rules merged over the built-ins.
	Path string `yaml:"path" mapstructure:"path"`
}

// LLMConfig configures the model provider table and batching limits.
type LLMConfig struct {
	Provider     string                    `yaml:"provider" mapstructure:"provider"`
	Providers    map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	MaxBatchSize int                       `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	MaxRetries   int                       `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency  int                       `yaml:"concurrency" mapstructure:"concurrency"`
	// Schema hint sanitization toggles. Metadata identifiers ($schema, $id)
	// are always stripped; title/description stripping is independently
	// toggleable.
	SchemaKeepTitle       bool `yaml:"schema_keep_title" mapstructure:"schema_keep_title"`
	SchemaKeepDescription bool `yaml:"schema_keep_description" mapstructure:"schema_keep_description"`
}

// ProviderConfig holds per-provider model and auth settings.
type ProviderConfig struct {
	Model          string  `yaml:"model" mapstructure:"model"`
	AuthEnvVar     string  `yaml:"auth_env_var" mapstructure:"auth_env_var"`
	MaxTokens      int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	// Pricing in USD per million tokens.
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// BudgetConfig configures daily spend enforcement.
type BudgetConfig struct {
	DailyLimitUSD float64 `yaml:"daily_limit_usd" mapstructure:"daily_limit_usd"`
	// EstimatePerSignatureUSD is the reservation made per signature before
	// dispatch; settled against actual token cost after the call.
	EstimatePerSignatureUSD float64 `yaml:"estimate_per_signature_usd" mapstructure:"estimate_per_signature_usd"`
}

// ServerConfig configures the report API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures background health checks and webhook alerts for
// the serve command.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`

	// Thresholds. A zero threshold disables its check, except the failure
	// rate, which always applies once enough runs have finished.
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	CostThresholdUSD       float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. Missing or malformed
// config is fatal here, before any processing begins.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHADOWSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "shadowscan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("normalize.drop_params", []string{
		"gclid", "fbclid", "msclkid", "mc_eid", "ref", "referrer",
	})
	v.SetDefault("normalize.drop_prefixes", []string{"utm_"})
	v.SetDefault("signature.version", "v1")
	v.SetDefault("signature.default_method_group", "OTHER")
	v.SetDefault("signature.method_groups", map[string][]string{
		"GET":   {"GET", "HEAD", "OPTIONS"},
		"WRITE": {"POST", "PUT", "PATCH", "DELETE"},
	})
	v.SetDefault("taxonomy.standard_version", "2025.1")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_batch_size", 20)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.concurrency", 4)
	v.SetDefault("llm.providers", map[string]any{
		"anthropic": map[string]any{
			"model":            "claude-haiku-4-5-20251001",
			"auth_env_var":     "ANTHROPIC_API_KEY",
			"max_tokens":       2048,
			"timeout_secs":     30,
			"requests_per_sec": 2.0,
			"input_per_mtok":   0.80,
			"output_per_mtok":  4.00,
		},
	})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("budget.daily_limit_usd", 25.0)
	v.SetDefault("budget.estimate_per_signature_usd", 0.002)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Signature.BytesBuckets) == 0 {
		cfg.Signature.BytesBuckets = DefaultBytesBuckets()
	}

	return &cfg, nil
}

// DefaultBytesBuckets returns the standard T/L/M/H/X bytes_sent table.
func DefaultBytesBuckets() []BytesBucket {
	return []BytesBucket{
		{Label: "T", Max: 1023},
		{Label: "L", Max: 1048575},
		{Label: "M", Max: 10485759},
		{Label: "H", Max: 1073741823},
		{Label: "X", Max: -1},
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
