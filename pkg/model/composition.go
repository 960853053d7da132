package model

// Policy describes the connection semantics applied to an edge between
// two ports (buffering, pull vs. push, initial value replay). It mirrors
// the small set of knobs a realtime port-connection policy needs rather
// than a generic bag of options.
type Policy struct {
	Type string // "data" (single-slot, overwrite) or "buffer" (queued)
	Size int    // buffer depth, meaningful when Type == "buffer"
	Pull bool   // consumer pulls instead of being pushed to
	Init bool   // replay the last written sample to new readers
}

// DefaultPolicy is used when a connection is wired without an explicit
// policy (autoconnect, exported-port forwarding).
func DefaultPolicy() Policy {
	return Policy{Type: "data"}
}

// CompositionChild is one named child slot of a Composition: the set of
// models it must satisfy, and whether it may be pruned from the result
// when its selection resolves to an abstract proxy.
type CompositionChild struct {
	Name     string
	Models   []*Model
	Optional bool
}

// Connection is an explicit wiring declared inside a Composition between
// two children's ports.
type Connection struct {
	FromChild string
	FromPort  string
	ToChild   string
	ToPort    string
	Policy    Policy
}

// Export forwards a child's port to an externally visible port on the
// composition itself.
type Export struct {
	Port      string
	Direction Direction
	Type      string
	Child     string
	ChildPort string
}

// Specialization maps a concrete set of child selections to a more
// specific composition model, looked up by table.
type Specialization struct {
	// Selections maps child name to the model that child must have been
	// selected as for this specialization to apply.
	Selections  map[string]*Model
	Specialized *Model
}

// MatchingSpecializedModel returns the most specific composition model
// whose Selections are all satisfied by the given child selections
// (selections[childName].Fulfills(spec.Selections[childName])), or nil if
// none match. When several specializations match, the one with the most
// Selections wins (more specific); ties are broken by declaration order,
// so the result is deterministic.
func (m *Model) MatchingSpecializedModel(selections map[string]*Model) *Model {
	var best *Specialization
	for i := range m.Specializations {
		spec := &m.Specializations[i]
		if !specializationMatches(spec, selections) {
			continue
		}
		if best == nil || len(spec.Selections) > len(best.Selections) {
			best = spec
		}
	}
	if best == nil {
		return nil
	}
	return best.Specialized
}

func specializationMatches(spec *Specialization, selections map[string]*Model) bool {
	for child, required := range spec.Selections {
		actual, ok := selections[child]
		if !ok || actual == nil {
			return false
		}
		if !actual.Fulfills(required) {
			return false
		}
	}
	return true
}
