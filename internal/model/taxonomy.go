package model

import "fmt"

// Dimension is one of the eight classification axes.
type Dimension string

const (
	DimFunctionalScope Dimension = "FS"
	DimImpact          Dimension = "IM"
	DimUseCase         Dimension = "UC"
	DimDataType        Dimension = "DT"
	DimChannel         Dimension = "CH"
	DimRisk            Dimension = "RS"
	DimEvidence        Dimension = "EV"
	DimObservation     Dimension = "OB"
)

// AllDimensions returns the eight taxonomy dimensions in canonical order.
func AllDimensions() []Dimension {
	return []Dimension{
		DimFunctionalScope,
		DimImpact,
		DimUseCase,
		DimDataType,
		DimChannel,
		DimRisk,
		DimEvidence,
		DimObservation,
	}
}

// Cardinality is the per-dimension rule for how many codes a record carries.
type Cardinality string

const (
	ExactlyOne Cardinality = "exactly_one"
	OneOrMore  Cardinality = "one_or_more"
	ZeroOrMore Cardinality = "zero_or_more"
)

// DefaultCardinality returns the cardinality rule for a dimension:
// FS and IM carry exactly one code, OB zero or more, the rest one or more.
func DefaultCardinality(dim Dimension) Cardinality {
	switch dim {
	case DimFunctionalScope, DimImpact:
		return ExactlyOne
	case DimObservation:
		return ZeroOrMore
	default:
		return OneOrMore
	}
}

// TaxonomySet holds the assigned codes per dimension.
type TaxonomySet map[Dimension][]string

// Validate checks the set against per-dimension cardinality rules.
func (ts TaxonomySet) Validate(cardinality func(Dimension) Cardinality) error {
	for _, dim := range AllDimensions() {
		n := len(ts[dim])
		switch cardinality(dim) {
		case ExactlyOne:
			if n != 1 {
				return fmt.Errorf("dimension %s requires exactly one code, got %d", dim, n)
			}
		case OneOrMore:
			if n < 1 {
				return fmt.Errorf("dimension %s requires at least one code, got %d", dim, n)
			}
		case ZeroOrMore:
			// Always valid.
		}
	}
	return nil
}
