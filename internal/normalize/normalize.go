package normalize

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/model"
)

// Normalizer turns raw observed URLs into canonical parts. Built once from
// config; safe for concurrent use.
type Normalizer struct {
	dropExact    map[string]bool
	dropPrefixes []string
	keep         map[string]bool
	rules        []RedactionRule
}

// New builds a Normalizer from config. An external redaction rules file, when
// configured, replaces the built-in rule set; a load failure is fatal here
// because it happens at construction, before any processing.
func New(cfg config.NormalizeConfig) (*Normalizer, error) {
	n := &Normalizer{
		dropExact:    make(map[string]bool, len(cfg.DropParams)),
		dropPrefixes: cfg.DropPrefixes,
		rules:        DefaultRedactionRules(),
	}
	for _, p := range cfg.DropParams {
		n.dropExact[strings.ToLower(p)] = true
	}
	if len(cfg.KeepParams) > 0 {
		n.keep = make(map[string]bool, len(cfg.KeepParams))
		for _, p := range cfg.KeepParams {
			n.keep[strings.ToLower(p)] = true
		}
	}
	if cfg.RedactionRulesPath != "" {
		rules, err := LoadRedactionRules(cfg.RedactionRulesPath)
		if err != nil {
			return nil, err
		}
		n.rules = rules
	}
	return n, nil
}

// Normalize canonicalizes a raw URL. It never fails: malformed input degrades
// to best-effort partial output so downstream dedup stays deterministic. The
// optional callback receives one-way hashes of redacted values.
func (n *Normalizer) Normalize(raw string, piiCB func(model.PIIHit)) model.Normalized {
	host, path, query := splitURL(raw)

	host = normalizeHost(host)
	path = normalizePath(path)
	query = n.normalizeQuery(query)

	var pii []model.PIIHit
	var hits []model.PIIHit
	path, hits = redact(path, "path", n.rules, piiCB)
	pii = append(pii, hits...)
	query, hits = redact(query, "query", n.rules, piiCB)
	pii = append(pii, hits...)

	// Non-mutating sniff for sensitive parameter names.
	if sensitiveParamPattern.MatchString(query) {
		pii = append(pii, model.PIIHit{Location: "query", Type: model.PIISensitiveParam})
	}

	normURL := host + path
	if query != "" {
		normURL += "?" + query
	}

	return model.Normalized{
		Host:  host,
		Path:  path,
		Query: query,
		URL:   normURL,
		PII:   pii,
	}
}

// splitURL separates a raw URL into host, path and query without ever
// failing. Scheme and fragment are discarded.
func splitURL(raw string) (host, path, query string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "/", ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// No scheme, or unparseable: retry with a synthetic scheme, then
		// fall back to manual splitting.
		u2, err2 := url.Parse("https://" + raw)
		if err2 == nil && u2.Host != "" {
			u = u2
		} else {
			return manualSplit(raw)
		}
	}

	path = u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Host, path, u.RawQuery
}

// manualSplit is the degraded path for input the URL parser rejects.
func manualSplit(raw string) (host, path, query string) {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		host, path = raw[:i], raw[i:]
	} else {
		host, path = raw, "/"
	}
	return host, path, query
}

// normalizeHost lowercases, strips default ports and punycodes IDN hosts.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	for _, port := range []string{":80", ":443"} {
		if strings.HasSuffix(host, port) {
			host = strings.TrimSuffix(host, port)
			break
		}
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		host = ascii
	}
	return host
}

// normalizePath collapses repeated slashes, strips the trailing slash except
// on root, and re-encodes percent escapes consistently (NFC first).
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	segments := strings.Split(path[1:], "/")
	for i, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			// Keep the raw segment; degraded but deterministic.
			continue
		}
		segments[i] = url.PathEscape(norm.NFC.String(decoded))
	}
	return "/" + strings.Join(segments, "/")
}

// normalizeQuery drops blocklisted and empty params, applies the optional
// whitelist, sorts keys and rejoins as k=v&k=v.
func (n *Normalizer) normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// ParseQuery reports an error but still returns what it could
		// parse; carry on with the partial result.
		if len(values) == 0 {
			return ""
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		lower := strings.ToLower(k)
		if n.dropExact[lower] {
			continue
		}
		if n.dropName(lower) {
			continue
		}
		if n.keep != nil && !n.keep[lower] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range values[k] {
			if v == "" {
				continue
			}
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func (n *Normalizer) dropName(lower string) bool {
	for _, prefix := range n.dropPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
