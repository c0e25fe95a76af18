package fulfillment

// ShippingType is the normalized shipping modality
type ShippingType string

const (
	ShippingFull     ShippingType = "full"
	ShippingFlex     ShippingType = "flex"
	ShippingEnvios   ShippingType = "envios"
	ShippingCorreios ShippingType = "correios"
	ShippingOther    ShippingType = "other"
)

// shippingVocabulary maps folded marketplace logistic tokens to a shipping type
var shippingVocabulary = map[string]ShippingType{
	"fulfillment":   ShippingFull,
	"fbm":           ShippingFull,
	"full":          ShippingFull,
	"self service":  ShippingFlex,
	"flex":          ShippingFlex,
	"me2":           ShippingEnvios,
	"cross docking": ShippingEnvios,
	"custom":        ShippingEnvios,
	"envios":        ShippingEnvios,
	"drop off":      ShippingCorreios,
	"correios":      ShippingCorreios,
}

// NormalizeShippingType maps a raw logistic token from any marketplace vocabulary
// to one ShippingType. Unrecognized tokens map to ShippingOther.
func NormalizeShippingType(raw string) ShippingType {
	if t, ok := shippingVocabulary[Fold(raw)]; ok {
		return t
	}
	return ShippingOther
}

// IsValid returns true for the canonical shipping types
func (t ShippingType) IsValid() bool {
	switch t {
	case ShippingFull, ShippingFlex, ShippingEnvios, ShippingCorreios, ShippingOther:
		return true
	}
	return false
}

// DefaultShippingPriority is the sort order used when none is configured
var DefaultShippingPriority = []ShippingType{
	ShippingFull,
	ShippingFlex,
	ShippingEnvios,
	ShippingCorreios,
	ShippingOther,
}

// ShippingPriority ranks shipping types for sorting
type ShippingPriority map[ShippingType]int

// NewShippingPriority builds a ranking from an ordered list. Types absent from
// the list rank after every listed type.
func NewShippingPriority(order []ShippingType) ShippingPriority {
	p := make(ShippingPriority, len(order))
	for i, t := range order {
		if _, seen := p[t]; !seen {
			p[t] = i
		}
	}
	return p
}

// Rank returns the position of t
func (p ShippingPriority) Rank(t ShippingType) int {
	if r, ok := p[t]; ok {
		return r
	}
	return len(p)
}
