// Package requirements implements instance requirements and the
// dependency-injection selection vocabulary: the accumulated constraints
// for a single placeholder, and the tagged variants used as keys and
// values in a dependency-injection mapping.
package requirements

import "github.com/davidthor/orochestra/pkg/model"

// KeyKind discriminates the two forms a dependency-injection key can
// take: a bare name or a model reference.
type KeyKind int

const (
	KeyKindName KeyKind = iota
	KeyKindModel
)

// Key is a tagged variant: either a bare name or a model reference.
// Equality is by variant first, then by content.
type Key struct {
	Kind  KeyKind
	Name  string
	Model *model.Model
}

// NameKey builds a string-valued key.
func NameKey(name string) Key {
	return Key{Kind: KeyKindName, Name: name}
}

// ModelKey builds a model-valued key.
func ModelKey(m *model.Model) Key {
	return Key{Kind: KeyKindModel, Model: m}
}

// Equal reports whether two keys denote the same selection slot.
func (k Key) Equal(other Key) bool {
	if k.Kind != other.Kind {
		return false
	}
	if k.Kind == KeyKindName {
		return k.Name == other.Name
	}
	return k.Model == other.Model
}

// String gives a stable human-readable form, used for map indexing and
// diagnostics; model keys are identified by their model name since two
// distinct *model.Model pointers are never expected to share a name
// within one catalog.
func (k Key) String() string {
	if k.Kind == KeyKindName {
		return "name:" + k.Name
	}
	if k.Model == nil {
		return "model:<nil>"
	}
	return "model:" + k.Model.Name
}

// SelectionKind discriminates the forms a dependency-injection value can
// take: nothing, an unresolved name, a component model, a data-service
// model, a bound service, or a nested set of instance requirements.
type SelectionKind int

const (
	SelectionKindNil SelectionKind = iota
	SelectionKindName
	SelectionKindComponentModel
	SelectionKindDataServiceModel
	SelectionKindBoundService
	SelectionKindRequirements
)

// BoundService is a data-service model resolved to the concrete component
// instance providing it, produced by `normalize` when a data-service key
// is given a component as its value (a component-model key given a bound
// service keeps only the component).
type BoundService struct {
	Service   *model.Model
	Component *model.Model
}

// Selection is the tagged variant for a DependencyInjection mapping
// value: an unresolved name, a concrete component model, a data-service
// model, a service already bound to a component, a full set of instance
// requirements, or nil (unset).
type Selection struct {
	Kind         SelectionKind
	Name         string
	Model        *model.Model
	Bound        *BoundService
	Requirements *Requirements
}

func NilSelection() Selection                 { return Selection{Kind: SelectionKindNil} }
func NameSelection(name string) Selection     { return Selection{Kind: SelectionKindName, Name: name} }
func ComponentSelection(m *model.Model) Selection {
	return Selection{Kind: SelectionKindComponentModel, Model: m}
}
func ServiceSelection(m *model.Model) Selection {
	return Selection{Kind: SelectionKindDataServiceModel, Model: m}
}
func BoundSelection(b BoundService) Selection {
	return Selection{Kind: SelectionKindBoundService, Bound: &b}
}
func RequirementsSelection(r *Requirements) Selection {
	return Selection{Kind: SelectionKindRequirements, Requirements: r}
}

// IsNil reports whether the selection is unset.
func (s Selection) IsNil() bool { return s.Kind == SelectionKindNil }

// AsKey reinterprets a selection value as a mapping key, used by
// `resolve_recursive` to chase `v` through the explicit mapping when `v`
// itself denotes a name or model.
func (s Selection) AsKey() (Key, bool) {
	switch s.Kind {
	case SelectionKindName:
		return NameKey(s.Name), true
	case SelectionKindComponentModel, SelectionKindDataServiceModel:
		return ModelKey(s.Model), true
	default:
		return Key{}, false
	}
}

// ConcreteModel returns the component model this selection denotes, if
// it already resolves to one without further lookups.
func (s Selection) ConcreteModel() (*model.Model, bool) {
	switch s.Kind {
	case SelectionKindComponentModel:
		return s.Model, true
	case SelectionKindBoundService:
		return s.Bound.Component, true
	default:
		return nil, false
	}
}

// ConcreteModelOrNil is ConcreteModel without the ok flag, used for
// equality checks where a nil result reads naturally as "no model".
func (s Selection) ConcreteModelOrNil() *model.Model {
	m, _ := s.ConcreteModel()
	return m
}
