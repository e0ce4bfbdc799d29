package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/model"
)

// authTokenKeywords drives the advisory has_auth_token_like heuristic. The
// flag never participates in the signature hash.
var authTokenKeywords = []string{"token", "auth", "key", "secret", "session", "jwt"}

// Builder computes deterministic fingerprints from normalized URL parts.
// Identical inputs and version yield byte-identical signatures across
// processes and platforms.
type Builder struct {
	version      string
	keyParams    []string
	methodGroups map[string]model.MethodGroup // method (upper) -> group
	defaultGroup model.MethodGroup
	buckets      []config.BytesBucket
}

// NewBuilder constructs a Builder from config. Bumping the configured
// signature version is the only sanctioned way to invalidate the cache.
func NewBuilder(cfg config.SignatureConfig) *Builder {
	b := &Builder{
		version:      cfg.Version,
		keyParams:    append([]string(nil), cfg.KeyParams...),
		methodGroups: make(map[string]model.MethodGroup),
		defaultGroup: model.MethodGroup(cfg.DefaultMethodGroup),
		buckets:      cfg.BytesBuckets,
	}
	if b.version == "" {
		b.version = "v1"
	}
	if b.defaultGroup == "" {
		b.defaultGroup = model.MethodGroupOther
	}
	for group, methods := range cfg.MethodGroups {
		for _, m := range methods {
			b.methodGroups[strings.ToUpper(m)] = model.MethodGroup(group)
		}
	}
	if len(b.buckets) == 0 {
		b.buckets = config.DefaultBytesBuckets()
	}
	sort.Strings(b.keyParams)
	return b
}

// Build computes the Signature for one normalized access. Pure function.
func (b *Builder) Build(normHost, normPath, normQuery, method string, bytesSent int64) model.Signature {
	paramCount := countParams(normQuery)

	pathTemplate := normPath
	if normQuery != "" {
		pathTemplate = fmt.Sprintf("%s?p=%d", normPath, paramCount)
	}

	group := b.MethodGroup(method)
	bucket := b.BytesBucket(bytesSent)

	keySubset := strings.Join(b.keyParams, ",")

	h := sha256.Sum256([]byte(strings.Join([]string{
		normHost, pathTemplate, keySubset, string(group), bucket, b.version,
	}, "|")))

	return model.Signature{
		URLSignature:     hex.EncodeToString(h[:]),
		SignatureVersion: b.version,
		Host:             normHost,
		PathTemplate:     pathTemplate,
		PathDepth:        pathDepth(normPath),
		ParamCount:       paramCount,
		MethodGroup:      group,
		BytesBucket:      bucket,
		HasAuthTokenLike: hasAuthTokenLike(normQuery),
	}
}

// MethodGroup resolves an HTTP method to its configured group,
// case-insensitively. Unmatched or absent methods get the default group.
func (b *Builder) MethodGroup(method string) model.MethodGroup {
	if g, ok := b.methodGroups[strings.ToUpper(strings.TrimSpace(method))]; ok {
		return g
	}
	return b.defaultGroup
}

// BytesBucket resolves bytes_sent against the ascending bucket table.
// Values beyond every bounded bucket fall to the top bucket.
func (b *Builder) BytesBucket(bytesSent int64) string {
	if bytesSent < 0 {
		bytesSent = 0
	}
	for _, bucket := range b.buckets {
		if bucket.Max < 0 || bytesSent <= bucket.Max {
			return bucket.Label
		}
	}
	return b.buckets[len(b.buckets)-1].Label
}

// Version returns the configured signature version.
func (b *Builder) Version() string {
	return b.version
}

func countParams(normQuery string) int {
	if normQuery == "" {
		return 0
	}
	return strings.Count(normQuery, "&") + 1
}

func pathDepth(normPath string) int {
	trimmed := strings.Trim(normPath, "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}

func hasAuthTokenLike(normQuery string) bool {
	lower := strings.ToLower(normQuery)
	for _, kw := range authTokenKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
