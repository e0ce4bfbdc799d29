package taxonomy

import (
	"strings"
	"sync"

	"github.com/sells-group/shadowscan/internal/model"
)

// Resolver picks the per-dimension fallback code used when a classification
// cannot commit to a real code. Resolution is memoized for the lifetime of
// the resolver.
type Resolver struct {
	source Source // nil means no taxonomy source exists at all

	mu    sync.Mutex
	cache map[model.Dimension]string
}

// NewResolver wraps a source. A nil source degrades to the static
// "<DIM>-099" form.
func NewResolver(source Source) *Resolver {
	return &Resolver{
		source: source,
		cache:  make(map[model.Dimension]string),
	}
}

// Fallback resolves the fallback code for a dimension, in priority order:
// an allowed code labelled "unknown", then one labelled "other", then an
// identifier ending in "-099", then the last allowed code, and finally the
// static "<DIM>-099" when no source exists.
func (r *Resolver) Fallback(dim model.Dimension) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.cache[dim]; ok {
		return code
	}
	code := r.resolve(dim)
	r.cache[dim] = code
	return code
}

func (r *Resolver) resolve(dim model.Dimension) string {
	if r.source == nil {
		return string(dim) + "-099"
	}

	codes := r.source.AllowedCodes(dim)
	if len(codes) == 0 {
		return string(dim) + "-099"
	}

	for _, c := range codes {
		if strings.Contains(strings.ToLower(r.source.CodeLabel(c)), "unknown") {
			return c
		}
	}
	for _, c := range codes {
		if strings.Contains(strings.ToLower(r.source.CodeLabel(c)), "other") {
			return c
		}
	}
	for _, c := range codes {
		if strings.HasSuffix(c, "-099") {
			return c
		}
	}
	return codes[len(codes)-1]
}
