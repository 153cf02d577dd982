package core

// Context7 is the seven-dimensional context descriptor attached to memory
// items. Every dimension is optional free text; empty means unset. It serves
// both as retrieval metadata and as a cheap similarity signal alongside
// embedding distance.
type Context7 struct {
	Intent     string `json:"intent,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
	Temporal   string `json:"temporal,omitempty"`
	Spatial    string `json:"spatial,omitempty"`
	Relational string `json:"relational,omitempty"`
	Abstract   string `json:"abstract,omitempty"`
}

// dimension names in canonical order.
var dimensionNames = [7]string{
	"intent", "domain", "emotion", "temporal", "spatial", "relational", "abstract",
}

// dimensionWeights bias similarity toward domain and abstract, which carry
// the most cross-domain signal. They sum to 1.0.
var dimensionWeights = map[string]float64{
	"intent":     0.10,
	"domain":     0.25,
	"emotion":    0.10,
	"temporal":   0.10,
	"spatial":    0.10,
	"relational": 0.10,
	"abstract":   0.25,
}

func (c Context7) values() [7]string {
	return [7]string{c.Intent, c.Domain, c.Emotion, c.Temporal, c.Spatial, c.Relational, c.Abstract}
}

// DimensionsSet returns the names of populated dimensions, in canonical
// order. An item with no populated dimensions is not eligible for lateral
// expansion.
func (c Context7) DimensionsSet() []string {
	vals := c.values()
	var set []string
	for i, name := range dimensionNames {
		if vals[i] != "" {
			set = append(set, name)
		}
	}
	return set
}

// IsZero reports whether no dimension is populated.
func (c Context7) IsZero() bool {
	return len(c.DimensionsSet()) == 0
}

// Similarity scores context overlap in [0, 1]. It is the weighted fraction of
// matching dimensions among those populated on both sides, so it is reflexive
// and symmetric. Two contexts with no dimension populated in common score 0,
// except the fully-equal case which scores 1.
func (c Context7) Similarity(other Context7) float64 {
	if c == other {
		return 1.0
	}

	av, bv := c.values(), other.values()
	var matched, populated float64
	for i, name := range dimensionNames {
		if av[i] == "" || bv[i] == "" {
			continue
		}
		w := dimensionWeights[name]
		populated += w
		if av[i] == bv[i] {
			matched += w
		}
	}
	if populated == 0 {
		return 0
	}
	return matched / populated
}

// SharedDimensions returns the names of dimensions populated on both sides
// with equal values. Used by the synchronicity detector to justify bridges.
func (c Context7) SharedDimensions(other Context7) []string {
	av, bv := c.values(), other.values()
	var shared []string
	for i, name := range dimensionNames {
		if av[i] != "" && av[i] == bv[i] {
			shared = append(shared, name)
		}
	}
	return shared
}

// ToMetadata flattens populated dimensions into a string map for stores that
// persist flat metadata.
func (c Context7) ToMetadata() map[string]string {
	vals := c.values()
	md := make(map[string]string)
	for i, name := range dimensionNames {
		if vals[i] != "" {
			md["ctx_"+name] = vals[i]
		}
	}
	return md
}

// Context7FromMetadata reconstructs a descriptor from flattened metadata,
// ignoring unknown keys. Missing dimensions stay empty; malformed input never
// errors.
func Context7FromMetadata(md map[string]string) Context7 {
	return Context7{
		Intent:     md["ctx_intent"],
		Domain:     md["ctx_domain"],
		Emotion:    md["ctx_emotion"],
		Temporal:   md["ctx_temporal"],
		Spatial:    md["ctx_spatial"],
		Relational: md["ctx_relational"],
		Abstract:   md["ctx_abstract"],
	}
}
