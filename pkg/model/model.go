// Package model defines the static model types of the orchestration
// catalog: task contexts, data services, compositions and deployments,
// their ports, and the "fulfills" subtype relation that lets a concrete
// component stand in for an abstract requirement.
package model

// Kind identifies which of the four model shapes a Model describes.
type Kind string

const (
	KindTaskContext Kind = "task_context"
	KindDataService Kind = "data_service"
	KindComposition Kind = "composition"
	KindDeployment  Kind = "deployment"
)

// Direction is the data direction of a Port.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Port is a named, typed, directional connection point on a Model.
type Port struct {
	Name      string
	Direction Direction
	Type      string
}

// Opposite reports whether a and b face each other (one in, one out).
func (a Port) Opposite(b Port) bool {
	return a.Direction != b.Direction
}

// Compatible reports whether two ports can be connected: opposite
// directions and equal types. Typekit-based coercion is not modeled here;
// callers that need it can pre-normalize Type before comparing.
func (a Port) Compatible(b Port) bool {
	return a.Opposite(b) && a.Type == b.Type
}

// Argument describes a configurable value a TaskContext or Composition
// accepts at instantiation time.
type Argument struct {
	Name     string
	Default  interface{}
	Required bool
}

// Fulfillment records that a Model satisfies a more abstract supertype,
// along with the port renaming needed to translate references to the
// supertype's ports into this model's concrete port names.
type Fulfillment struct {
	// Model is the data service or component model being fulfilled.
	Model *Model
	// PortMap renames Model's port names to the fulfilling model's port
	// names. A port absent from PortMap keeps its name unchanged.
	PortMap map[string]string
}

// DeploymentSlot is a single deployed-task slot within a Deployment model.
type DeploymentSlot struct {
	Name      string
	TaskModel *Model
}

// Model is a node in the catalog's partial order: a TaskContext (leaf),
// a DataService (interface-only), a Composition (named children plus
// wiring), or a Deployment (named deployed-task slots).
type Model struct {
	Kind Kind
	Name string

	Ports     []Port
	Arguments []Argument

	// Fulfillments lists the direct supertypes this model satisfies.
	// Fulfills is reflexive (every model fulfills itself) and transitive
	// over this list.
	Fulfillments []Fulfillment

	// Composition-only fields.
	Children        []*CompositionChild
	Connections     []Connection
	Exports         []Export
	Specializations []Specialization

	// Deployment-only fields.
	Slots []DeploymentSlot

	// IsProxy marks a synthetic proxy task model created by DIR's
	// component_model_for when no concrete class was selected. A proxy
	// fulfills exactly the models it was synthesized from (proxyOf),
	// transitively, but is never itself a deployable concrete class.
	IsProxy bool
	proxyOf []*Model
}

// NewProxy synthesizes a proxy task model that fulfills the union of the
// given models. Used by DIR when planning must continue without a
// concrete class; the deployer later resolves the proxy to a real
// deployed task.
func NewProxy(name string, models []*Model) *Model {
	proxy := &Model{
		Kind:    KindTaskContext,
		Name:    name,
		IsProxy: true,
		proxyOf: append([]*Model(nil), models...),
	}
	return proxy
}

// ProxyOf returns the models a proxy was synthesized from (nil for
// non-proxy models).
func (m *Model) ProxyOf() []*Model {
	return m.proxyOf
}

// Fulfills reports whether m satisfies the interface/behavior of other:
// reflexive and transitive over Fulfillments (and, for proxies,
// transitive over the set the proxy stands in for).
func (m *Model) Fulfills(other *Model) bool {
	if m == nil || other == nil {
		return false
	}
	return m.fulfills(other, map[*Model]bool{})
}

func (m *Model) fulfills(other *Model, visited map[*Model]bool) bool {
	if m == other {
		return true
	}
	if visited[m] {
		return false
	}
	visited[m] = true

	for _, f := range m.Fulfillments {
		if f.Model.fulfills(other, visited) {
			return true
		}
	}
	for _, p := range m.proxyOf {
		if p.fulfills(other, visited) {
			return true
		}
	}
	return false
}

// PortMapping returns the mapping from other's port names to m's port
// names along the fulfillment chain that makes m satisfy other, composing
// renames across intermediate supertypes. The second return is false if m
// does not fulfill other.
func (m *Model) PortMapping(other *Model) (map[string]string, bool) {
	if m == other {
		return identityPortMap(other), true
	}
	for _, f := range m.Fulfillments {
		sub, ok := f.Model.PortMapping(other)
		if !ok {
			continue
		}
		composed := make(map[string]string, len(sub))
		for otherPort, midPort := range sub {
			if selfPort, renamed := f.PortMap[midPort]; renamed {
				composed[otherPort] = selfPort
			} else {
				composed[otherPort] = midPort
			}
		}
		return composed, true
	}
	return nil, false
}

func identityPortMap(m *Model) map[string]string {
	out := make(map[string]string, len(m.Ports))
	for _, p := range m.Ports {
		out[p.Name] = p.Name
	}
	return out
}

// FindPort returns the port with the given name, if any.
func (m *Model) FindPort(name string) (Port, bool) {
	for _, p := range m.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// FindArgument returns the argument spec with the given name, if any.
func (m *Model) FindArgument(name string) (Argument, bool) {
	for _, a := range m.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return Argument{}, false
}

// IsConcrete reports whether m can be directly instantiated as a task:
// a non-proxy TaskContext.
func (m *Model) IsConcrete() bool {
	return m.Kind == KindTaskContext && !m.IsProxy
}
