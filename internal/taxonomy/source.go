package taxonomy

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/model"
)

// Source exposes the allowed classification codes. Chosen once at
// construction: the file-backed adapter when a taxonomy file is configured,
// the built-in static table otherwise.
type Source interface {
	AllowedCodes(dim model.Dimension) []string
	CodeLabel(code string) string
	Cardinality(dim model.Dimension) model.Cardinality
}

// NewSource selects the source implementation from config.
func NewSource(cfg config.TaxonomyConfig) (Source, error) {
	if cfg.Path == "" {
		return StaticSource{}, nil
	}
	return LoadFileSource(cfg.Path)
}

// ValidateSet checks a code set strictly against the source: every dimension
// key must be one of the eight known axes, cardinality rules must hold, and
// every code must be in the source's allowed list for its dimension.
func ValidateSet(codes model.TaxonomySet, source Source) error {
	known := make(map[model.Dimension]bool, len(model.AllDimensions()))
	for _, dim := range model.AllDimensions() {
		known[dim] = true
	}
	for dim := range codes {
		if !known[dim] {
			return eris.Errorf("unknown dimension %q", dim)
		}
	}

	if err := codes.Validate(source.Cardinality); err != nil {
		return err
	}

	for _, dim := range model.AllDimensions() {
		allowed := make(map[string]bool)
		for _, c := range source.AllowedCodes(dim) {
			allowed[c] = true
		}
		for _, c := range codes[dim] {
			if !allowed[c] {
				return eris.Errorf("code %q is not allowed for dimension %s", c, dim)
			}
		}
	}
	return nil
}

// Code is one allowed taxonomy code with its human label.
type Code struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// FileSource is the adapter over an externally maintained taxonomy file.
type FileSource struct {
	codes  map[model.Dimension][]Code
	labels map[string]string
}

type taxonomyFile struct {
	Dimensions map[string][]Code `yaml:"dimensions"`
}

// LoadFileSource reads a YAML taxonomy. A missing or malformed file is fatal
// at startup.
func LoadFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	var tf taxonomyFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, eris.Wrapf(err, "taxonomy: parse %s", path)
	}

	fs := &FileSource{
		codes:  make(map[model.Dimension][]Code, len(tf.Dimensions)),
		labels: make(map[string]string),
	}
	for dim, codes := range tf.Dimensions {
		fs.codes[model.Dimension(dim)] = codes
		for _, c := range codes {
			fs.labels[c.ID] = c.Label
		}
	}
	for _, dim := range model.AllDimensions() {
		if len(fs.codes[dim]) == 0 && model.DefaultCardinality(dim) != model.ZeroOrMore {
			return nil, eris.Errorf("taxonomy: dimension %s has no codes in %s", dim, path)
		}
	}
	return fs, nil
}

func (s *FileSource) AllowedCodes(dim model.Dimension) []string {
	codes := s.codes[dim]
	ids := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = c.ID
	}
	return ids
}

func (s *FileSource) CodeLabel(code string) string {
	return s.labels[code]
}

func (s *FileSource) Cardinality(dim model.Dimension) model.Cardinality {
	return model.DefaultCardinality(dim)
}
