// Package dir implements the dependency injection resolver: a mapping
// from selection keys (names, models) to concrete selections, with
// default-selection disambiguation and recursive
// reference resolution. Grounded on the cycle-detection idiom of
// cldctl's dependency resolver (`visiting` map during recursive walks)
// generalized from component references to the selection vocabulary.
package dir

import (
	"fmt"
	"sort"

	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/requirements"
	"github.com/davidthor/orochestra/pkg/trace"
)

type (
	Key       = requirements.Key
	Selection = requirements.Selection
)

// Entry is one argument to Add: either an explicit key/value mapping
// update or a bare default selection.
type Entry struct {
	Key   *Key
	Value Selection
}

// Explicit builds an Entry that updates the explicit mapping.
func Explicit(k Key, v Selection) Entry {
	return Entry{Key: &k, Value: v}
}

// Default builds an Entry that adds a default selection.
func Default(v Selection) Entry {
	return Entry{Value: v}
}

// DIR is a dependency-injection mapping: explicit selections keyed by
// name or model, plus a set of default selections.
type DIR struct {
	explicitKeys map[string]Key
	explicit     map[string]Selection
	defaults     []Selection
}

// New creates an empty resolver.
func New() *DIR {
	return &DIR{
		explicitKeys: make(map[string]Key),
		explicit:     make(map[string]Selection),
	}
}

// Add partitions entries into explicit mapping updates and default
// additions. Adding an explicit entry for a key already present
// overwrites the prior value.
func (d *DIR) Add(entries ...Entry) {
	for _, e := range entries {
		if e.Key == nil {
			d.defaults = append(d.defaults, e.Value)
			continue
		}
		ks := e.Key.String()
		d.explicitKeys[ks] = *e.Key
		d.explicit[ks] = e.Value
	}
}

// Lookup returns the current explicit value bound to key, if any.
func (d *DIR) Lookup(k Key) (Selection, bool) {
	v, ok := d.explicit[k.String()]
	return v, ok
}

// Entries returns every explicit mapping entry, used by the Composition
// Instantiator to scope a parent DIR down to a named child.
func (d *DIR) Entries() []Entry {
	out := make([]Entry, 0, len(d.explicitKeys))
	for ks, k := range d.explicitKeys {
		v := d.explicit[ks]
		kCopy := k
		out = append(out, Entry{Key: &kCopy, Value: v})
	}
	return out
}

// Defaults returns the current default selections.
func (d *DIR) Defaults() []Selection {
	return append([]Selection(nil), d.defaults...)
}

// normalize validates and rewrites the current explicit mapping into
// its canonical key/value forms.
func (d *DIR) normalize() (map[string]Key, map[string]Selection, error) {
	keys := make(map[string]Key, len(d.explicitKeys))
	values := make(map[string]Selection, len(d.explicit))

	for ks, k := range d.explicitKeys {
		v := d.explicit[ks]
		nk, nv, err := normalizeEntry(k, v)
		if err != nil {
			return nil, nil, err
		}
		keys[nk.String()] = nk
		values[nk.String()] = nv
	}

	return keys, values, nil
}

func normalizeEntry(k Key, v Selection) (Key, Selection, error) {
	if k.Kind == requirements.KeyKindName {
		return k, v, nil
	}
	if k.Model == nil {
		return Key{}, Selection{}, errors.InvalidSelection("model key has no model")
	}

	if k.Model.Kind == model.KindDataService {
		return normalizeDataServiceKey(k, v)
	}
	return normalizeComponentModelKey(k, v)
}

func normalizeComponentModelKey(k Key, v Selection) (Key, Selection, error) {
	if v.Kind == requirements.SelectionKindBoundService {
		comp := v.Bound.Component
		if !comp.Fulfills(k.Model) {
			return Key{}, Selection{}, errors.InvalidSelection(
				fmt.Sprintf("%s does not fulfill %s", comp.Name, k.Model.Name))
		}
		return k, requirements.ComponentSelection(comp), nil
	}
	if comp, ok := v.ConcreteModel(); ok && !comp.Fulfills(k.Model) {
		return Key{}, Selection{}, errors.InvalidSelection(
			fmt.Sprintf("%s does not fulfill %s", comp.Name, k.Model.Name))
	}
	return k, v, nil
}

func normalizeDataServiceKey(k Key, v Selection) (Key, Selection, error) {
	comp, ok := v.ConcreteModel()
	if !ok {
		return k, v, nil
	}

	var matches []*model.Model
	for _, f := range comp.Fulfillments {
		if f.Model == k.Model || f.Model.Fulfills(k.Model) {
			matches = append(matches, f.Model)
		}
	}

	if len(matches) == 0 {
		if !comp.Fulfills(k.Model) {
			return Key{}, Selection{}, errors.InvalidSelection(
				fmt.Sprintf("%s does not provide %s", comp.Name, k.Model.Name))
		}
		return k, requirements.BoundSelection(requirements.BoundService{Service: k.Model, Component: comp}), nil
	}
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		sort.Strings(names)
		return Key{}, Selection{}, errors.AmbiguousService(comp.Name, names)
	}

	return k, requirements.BoundSelection(requirements.BoundService{Service: k.Model, Component: comp}), nil
}

// resolveDefaults matches each default against the set of models it
// fulfills, skipping models already explicitly selected and dropping
// matches claimed by more than one default.
func resolveDefaults(explicit map[string]Selection, defaults []Selection, tr *trace.Trace) map[string]Selection {
	tentative := make(map[string]Selection)
	claimedBy := make(map[string]*model.Model)
	ambiguous := make(map[string]bool)

	for _, d := range defaults {
		comp, ok := d.ConcreteModel()
		if !ok {
			continue
		}
		for _, m := range eachFulfilledModel(comp) {
			ks := requirements.ModelKey(m).String()
			if _, explicitlySet := explicit[ks]; explicitlySet {
				tr.Record(trace.KindDefaultRejected, fmt.Sprintf("default %s dropped for %s: already explicit", comp.Name, ks), map[string]interface{}{"default": comp.Name, "key": ks})
				continue
			}
			if ambiguous[ks] {
				continue
			}
			if existing, claimed := claimedBy[ks]; claimed {
				if existing != comp {
					ambiguous[ks] = true
					delete(tentative, ks)
					delete(claimedBy, ks)
					tr.Record(trace.KindDefaultRejected, fmt.Sprintf("defaults %s and %s both match %s: ambiguous", existing.Name, comp.Name, ks), map[string]interface{}{
						"defaultA": existing.Name, "defaultB": comp.Name, "key": ks,
					})
				}
				continue
			}
			claimedBy[ks] = comp
			tentative[ks] = requirements.ComponentSelection(comp)
		}
	}

	acceptedKeys := make([]string, 0, len(claimedBy))
	for ks := range claimedBy {
		acceptedKeys = append(acceptedKeys, ks)
	}
	sort.Strings(acceptedKeys)
	for _, ks := range acceptedKeys {
		comp := claimedBy[ks]
		tr.Record(trace.KindDefaultAccepted, fmt.Sprintf("default %s selected for %s", comp.Name, ks), map[string]interface{}{"default": comp.Name, "key": ks})
	}

	return tentative
}

// eachFulfilledModel walks d's fulfillment chain, collecting candidate
// target models a default may stand in for (d itself first).
// DataService, TaskContext and Composition targets are included but not
// descended past.
func eachFulfilledModel(d *model.Model) []*model.Model {
	result := []*model.Model{d}
	visited := map[*model.Model]bool{d: true}

	var walk func(m *model.Model)
	walk = func(m *model.Model) {
		for _, f := range m.Fulfillments {
			target := f.Model
			if visited[target] {
				continue
			}
			visited[target] = true
			result = append(result, target)
			// DataService and TaskContext/Composition targets are treated
			// as roots: they are valid default-resolution targets but
			// climbing past them to whatever they in turn fulfill is too
			// general to be a useful match.
			if target.Kind == model.KindDataService || target.Kind == model.KindTaskContext || target.Kind == model.KindComposition {
				continue
			}
			walk(target)
		}
	}
	walk(d)

	return result
}

// resolveRecursive chases each value that is itself a mapping key to its
// fixed point, failing on any cycle longer than a self-loop.
func resolveRecursive(mapping map[string]Selection) (map[string]Selection, error) {
	result := make(map[string]Selection, len(mapping))
	for k := range mapping {
		resolved, err := chase(k, mapping, []string{k})
		if err != nil {
			return nil, err
		}
		result[k] = resolved
	}
	return result, nil
}

func chase(k string, mapping map[string]Selection, chain []string) (Selection, error) {
	v := mapping[k]
	key2, isKey := v.AsKey()
	if !isKey {
		return v, nil
	}
	k2 := key2.String()
	if k2 == k {
		return v, nil
	}
	for _, seen := range chain {
		if seen == k2 {
			return Selection{}, errors.RecursiveSelection(append(append([]string{}, chain...), k2))
		}
	}
	if _, exists := mapping[k2]; !exists {
		return v, nil
	}
	return chase(k2, mapping, append(chain, k2))
}

// ResolveOption configures an optional side channel for Resolve. The
// zero value (no options) is the common case; WithTrace is the only one
// so far.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	trace *trace.Trace
}

// WithTrace attaches a diagnostic trace that records every default
// accepted or rejected during resolution. Passing a nil trace (or
// omitting the option) disables recording at no cost.
func WithTrace(t *trace.Trace) ResolveOption {
	return func(o *resolveOptions) { o.trace = t }
}

// Resolve returns a new DIR whose explicit mapping is the fixed point of
// normalization, default resolution, and recursive chasing. Resolve is
// idempotent: resolving an already resolved DIR returns an equivalent
// mapping.
func (d *DIR) Resolve(opts ...ResolveOption) (*DIR, error) {
	o := &resolveOptions{}
	for _, apply := range opts {
		apply(o)
	}

	normalizedKeys, normalizedValues, err := d.normalize()
	if err != nil {
		return nil, err
	}

	tentative := resolveDefaults(normalizedValues, d.defaults, o.trace)
	merged := make(map[string]Selection, len(normalizedValues)+len(tentative))
	mergedKeys := make(map[string]Key, len(normalizedKeys)+len(tentative))
	for ks, v := range normalizedValues {
		merged[ks] = v
		mergedKeys[ks] = normalizedKeys[ks]
	}
	for ks, v := range tentative {
		if _, exists := merged[ks]; exists {
			continue
		}
		merged[ks] = v
		mergedKeys[ks] = parseModelKeyString(ks, v)
	}

	recursive, err := resolveRecursive(merged)
	if err != nil {
		return nil, err
	}

	return &DIR{
		explicitKeys: mergedKeys,
		explicit:     recursive,
		defaults:     append([]Selection(nil), d.defaults...),
	}, nil
}

// parseModelKeyString recovers the Key for a tentative default binding
// introduced by resolveDefaults, whose map key is always a model key
// (only model keys participate in default resolution).
func parseModelKeyString(ks string, v Selection) Key {
	if comp, ok := v.ConcreteModel(); ok {
		for _, m := range eachFulfilledModel(comp) {
			if k := requirements.ModelKey(m); k.String() == ks {
				return k
			}
		}
	}
	return Key{}
}

// Merge combines two resolvers element-wise: explicit conflicts are
// resolved by picking the more specific model, failing with
// IncompatibleSelections when the two selections are incomparable;
// defaults are unioned.
func (d *DIR) Merge(other *DIR) (*DIR, error) {
	mergedKeys := make(map[string]Key, len(d.explicitKeys)+len(other.explicitKeys))
	mergedValues := make(map[string]Selection, len(d.explicit)+len(other.explicit))
	for ks, k := range d.explicitKeys {
		mergedKeys[ks] = k
		mergedValues[ks] = d.explicit[ks]
	}

	for ks, k := range other.explicitKeys {
		v2 := other.explicit[ks]
		if v1, exists := mergedValues[ks]; exists {
			merged, err := mergeSelections(ks, v1, v2)
			if err != nil {
				return nil, err
			}
			mergedValues[ks] = merged
		} else {
			mergedValues[ks] = v2
			mergedKeys[ks] = k
		}
	}

	defaults := unionDefaults(d.defaults, other.defaults)

	return &DIR{explicitKeys: mergedKeys, explicit: mergedValues, defaults: defaults}, nil
}

func mergeSelections(key string, a, b Selection) (Selection, error) {
	modelA, okA := a.ConcreteModel()
	modelB, okB := b.ConcreteModel()
	if !okA || !okB {
		return b, nil
	}
	if modelA == modelB {
		return a, nil
	}
	if modelA.Fulfills(modelB) {
		return a, nil
	}
	if modelB.Fulfills(modelA) {
		return b, nil
	}
	return Selection{}, errors.IncompatibleSelections(key, modelA.Name, modelB.Name)
}

func unionDefaults(a, b []Selection) []Selection {
	result := append([]Selection(nil), a...)
	for _, sel := range b {
		dup := false
		for _, existing := range result {
			if existing.Kind == sel.Kind && existing.ConcreteModelOrNil() == sel.ConcreteModelOrNil() {
				dup = true
				break
			}
		}
		if !dup {
			result = append(result, sel)
		}
	}
	return result
}
