package model

// PIIType labels the kind of value a redaction rule matched.
type PIIType string

const (
	PIIUUID           PIIType = "uuid"
	PIIHexToken       PIIType = "hex_token"
	PIIBase64Token    PIIType = "base64_token"
	PIIEmail          PIIType = "email"
	PIIIPv4           PIIType = "ipv4"
	PIINumericID      PIIType = "numeric_id"
	PIISensitiveParam PIIType = "sensitive_param"
)

// PIIHit records one redaction or sniff match. Value carries a one-way hash
// of the pre-redaction value, never the raw value.
type PIIHit struct {
	Location  string  `json:"location"` // "path" or "query"
	Type      PIIType `json:"type"`
	ValueHash string  `json:"value_hash,omitempty"`
}

// Normalized is the ephemeral result of URL normalization, one per input URL.
type Normalized struct {
	Host  string   `json:"norm_host"`
	Path  string   `json:"norm_path"`
	Query string   `json:"norm_query"`
	URL   string   `json:"norm_url"`
	PII   []PIIHit `json:"pii_detected,omitempty"`
}

// MethodGroup buckets HTTP methods for fingerprinting.
type MethodGroup string

const (
	MethodGroupGet   MethodGroup = "GET"
	MethodGroupWrite MethodGroup = "WRITE"
	MethodGroupOther MethodGroup = "OTHER"
)

// Signature is the deterministic fingerprint of a normalized URL access
// pattern. Immutable given fixed inputs and version; URLSignature is the
// cache key.
type Signature struct {
	URLSignature     string      `json:"url_signature"`
	SignatureVersion string      `json:"signature_version"`
	Host             string      `json:"norm_host"`
	PathTemplate     string      `json:"norm_path_template"`
	PathDepth        int         `json:"path_depth"`
	ParamCount       int         `json:"param_count"`
	MethodGroup      MethodGroup `json:"method_group"`
	BytesBucket      string      `json:"bytes_bucket"`
	HasAuthTokenLike bool        `json:"has_auth_token_like"`
}
