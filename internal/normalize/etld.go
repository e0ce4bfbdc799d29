package normalize

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// multiPartSuffixes is the bundled snapshot used when the public-suffix
// lookup cannot produce an answer (private-label TLDs, bare suffixes). Only
// the common two-label suffixes matter for the fallback; everything else is
// treated as a one-label TLD.
var multiPartSuffixes = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "or.jp": true, "ne.jp": true,
	"co.nz": true, "co.in": true, "co.za": true, "com.br": true,
	"com.cn": true, "com.mx": true, "com.sg": true, "com.tr": true,
}

// RegistrableDomain returns the eTLD+1 for a host, or "" when none exists
// (IP literals, bare suffixes, empty input). Pure function.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" || strings.Contains(host, ":") {
		return ""
	}

	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}

	// Snapshot fallback.
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	if len(labels) >= 3 {
		suffix := strings.Join(labels[len(labels)-2:], ".")
		if multiPartSuffixes[suffix] {
			return strings.Join(labels[len(labels)-3:], ".")
		}
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
