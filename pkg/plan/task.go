// Package plan implements the data-flow graph: the living, owned task
// graph that instantiation populates, the merge solver shrinks, and the
// deployer binds to physical deployments.
package plan

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/davidthor/orochestra/pkg/model"
)

// State is a task's position in its lifecycle.
type State string

const (
	StateAbstract State = "abstract"
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Binding records that a task has been associated with a concrete
// deployment slot on a process server.
type Binding struct {
	ProcessServer string
	Deployment    string
	Slot          string
}

// Task is one node of the Plan: an instance of a Model, with a lifecycle
// state, concrete argument values, optional deployment binding, and the
// dependency edges recorded by the composition instantiator.
type Task struct {
	ID    string
	Model *model.Model

	// Component is the dotted path of the composition instance this task
	// belongs to (empty for a top-level task), used to scope task names.
	Component string
	Name      string

	Arguments map[string]interface{}

	State   State
	Binding *Binding

	// HasExecutionAgent is true once the task is owned by a running
	// execution agent: once set, a merge can displace it only while it is
	// still pending.
	HasExecutionAgent bool

	// IsTransactionProxy marks a planning-only stand-in for a task that
	// already exists in the committed plan: replaceable but never
	// replaced.
	IsTransactionProxy bool

	// RequiredServices is the set of data-service models this task's
	// proxy selection still needs fulfilled, used by the merge solver's
	// structural compatibility check.
	RequiredServices []*model.Model

	// OrocosName is the user-assigned deployment name used by the
	// deployer's name-based disambiguation.
	OrocosName string

	// DeploymentHints accumulate from the task's instance requirements.
	DeploymentHints []string

	// DeploymentGroup is the name of the deployment-binding collection
	// this task (or its nearest ancestor that set one) prefers when
	// placing it; empty means the deployer's own default applies.
	DeploymentGroup string

	// DependsOn / DependedOnBy are dependency-graph edges (who must exist
	// before this task, and who relies on this task), distinct from the
	// typed port Edges of the surrounding Plan.
	DependsOn    []string
	DependedOnBy []string
}

// NewTask creates a new abstract task wrapping model m.
func NewTask(component, name string, m *model.Model) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Model:     m,
		Component: component,
		Name:      name,
		Arguments: make(map[string]interface{}),
		State:     StateAbstract,
	}
}

// String gives a human-readable identity for diagnostics; the
// canonical ID stays a UUID.
func (t *Task) String() string {
	if t.Component == "" {
		return fmt.Sprintf("%s(%s)", t.Name, t.Model.Name)
	}
	return fmt.Sprintf("%s.%s(%s)", t.Component, t.Name, t.Model.Name)
}

// SetArgument sets an argument value.
func (t *Task) SetArgument(key string, value interface{}) {
	t.Arguments[key] = value
}

// IsFullyInstantiated reports whether every required argument on the
// task's model has a value.
func (t *Task) IsFullyInstantiated() bool {
	for _, arg := range t.Model.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := t.Arguments[arg.Name]; !ok {
			return false
		}
	}
	return true
}

// IsDataServiceProxy reports whether this task stands in for an abstract
// data service selection rather than a concrete component.
func (t *Task) IsDataServiceProxy() bool {
	return t.Model != nil && t.Model.IsProxy
}

// Finished / Running / Deployed are small readability helpers used
// throughout the merge and deploy passes.
func (t *Task) Finished() bool { return t.State == StateFinished }
func (t *Task) Running() bool  { return t.State == StateRunning }
func (t *Task) Deployed() bool { return t.Binding != nil }

func (t *Task) addDependency(id string) {
	for _, d := range t.DependsOn {
		if d == id {
			return
		}
	}
	t.DependsOn = append(t.DependsOn, id)
}

func (t *Task) addDependent(id string) {
	for _, d := range t.DependedOnBy {
		if d == id {
			return
		}
	}
	t.DependedOnBy = append(t.DependedOnBy, id)
}
