package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/model"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(config.NormalizeConfig{
		DropParams:   []string{"gclid", "fbclid"},
		DropPrefixes: []string{"utm_"},
	})
	require.NoError(t, err)
	return n
}

func TestNormalize_CanonicalScenario(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("HTTPS://WWW.EXAMPLE.COM:443/path//to//resource/?utm_source=test&id=12345", nil)

	assert.Equal(t, "www.example.com", got.Host)
	assert.Equal(t, "/path/to/resource", got.Path)
	assert.Equal(t, "id=12345", got.Query)
	assert.Equal(t, "www.example.com/path/to/resource?id=12345", got.URL)
}

func TestNormalize_Idempotent(t *testing.T) {
	n := newTestNormalizer(t)

	first := n.Normalize("https://API.Example.com/v1/users//42/", nil)
	second := n.Normalize(first.URL, nil)

	assert.Equal(t, first.Host, second.Host)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.Query, second.Query)
}

func TestNormalize_DefaultPortAndRoot(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("http://example.com:80/", nil)
	assert.Equal(t, "example.com", got.Host)
	assert.Equal(t, "/", got.Path)

	// Non-default ports stay.
	got = n.Normalize("http://example.com:8080/x", nil)
	assert.Equal(t, "example.com:8080", got.Host)
}

func TestNormalize_QuerySortedAndEmptyDropped(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("https://example.com/search?z=1&a=2&empty=&gclid=abc", nil)
	assert.Equal(t, "a=2&z=1", got.Query)
}

func TestNormalize_Whitelist(t *testing.T) {
	n, err := New(config.NormalizeConfig{KeepParams: []string{"page"}})
	require.NoError(t, err)

	got := n.Normalize("https://example.com/list?page=2&session=xyz&sort=asc", nil)
	assert.Equal(t, "page=2", got.Query)
}

func TestNormalize_MalformedNeverPanics(t *testing.T) {
	n := newTestNormalizer(t)

	for _, raw := range []string{
		"",
		"   ",
		"not a url at all",
		"http://",
		"%zz%%%",
		"example.com/path?%%=1",
		"https://example.com/a b/c",
	} {
		got := n.Normalize(raw, nil)
		assert.NotEmpty(t, got.Path, "raw=%q", raw)
	}
}

func TestNormalize_SchemelessInput(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("Example.COM/a//b", nil)
	assert.Equal(t, "example.com", got.Host)
	assert.Equal(t, "/a/b", got.Path)
}

func TestNormalize_IDNHostPunycoded(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("https://bücher.example/katalog", nil)
	assert.Equal(t, "xn--bcher-kva.example", got.Host)
}

func TestNormalize_RedactsUUIDAndEmail(t *testing.T) {
	n := newTestNormalizer(t)

	var hits []model.PIIHit
	got := n.Normalize(
		"https://api.example.com/users/550e8400-e29b-41d4-a716-446655440000?contact=alice%40example.com",
		func(h model.PIIHit) { hits = append(hits, h) },
	)

	assert.Contains(t, got.Path, ":uuid")
	assert.NotContains(t, got.URL, "550e8400")
	assert.NotContains(t, got.URL, "alice")

	require.NotEmpty(t, hits)
	types := make(map[model.PIIType]bool)
	for _, h := range hits {
		assert.NotEmpty(t, h.ValueHash, "callback must carry a hash, never the raw value")
		assert.NotContains(t, h.ValueHash, "alice")
		types[h.Type] = true
	}
	assert.True(t, types[model.PIIUUID])
	assert.True(t, types[model.PIIEmail])
}

func TestNormalize_LongNumericIDRedacted(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("https://example.com/orders/9876543210", nil)
	assert.Equal(t, "/orders/:id", got.Path)

	// Short IDs survive.
	got = n.Normalize("https://example.com/orders?id=12345", nil)
	assert.Equal(t, "id=12345", got.Query)
}

func TestNormalize_SensitiveParamSniffDoesNotMutate(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("https://example.com/login?api_key=short", nil)
	assert.Equal(t, "api_key=short", got.Query)

	found := false
	for _, h := range got.PII {
		if h.Type == model.PIISensitiveParam {
			found = true
		}
	}
	assert.True(t, found, "sensitive param name should be flagged")
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.com", RegistrableDomain("api.us-east.example.com"))
	assert.Equal(t, "example.co.uk", RegistrableDomain("deep.sub.example.co.uk"))
	assert.Equal(t, "example.com", RegistrableDomain("example.com"))
	assert.Equal(t, "", RegistrableDomain(""))
	assert.Equal(t, "", RegistrableDomain("localhost"))
}
