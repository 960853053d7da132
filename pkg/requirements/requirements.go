package requirements

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
)

// Requirements is the accumulated set of constraints for a single
// placeholder awaiting a concrete component.
type Requirements struct {
	Models            []*model.Model
	Arguments         map[string]interface{}
	ServiceSelections map[string]Selection
	DeploymentHints   []string
	OrocosName        string

	// DeploymentGroup names the collection of deployment bindings the
	// deployer should consult first when placing the task this instance
	// resolves to. Empty means no preference at this level; the deployer
	// falls back to an ancestor's group or its own default.
	DeploymentGroup string
}

// New creates an empty Requirements value.
func New() *Requirements {
	return &Requirements{
		Arguments:         make(map[string]interface{}),
		ServiceSelections: make(map[string]Selection),
	}
}

// AddModel adds a required model if not already implied by the set.
func (r *Requirements) AddModel(m *model.Model) error {
	merged, err := MergeModelSets(r.Models, []*model.Model{m}, "")
	if err != nil {
		return err
	}
	r.Models = merged
	return nil
}

// Merge combines two Requirements into a new value: model sets union
// subject to fulfills-compatibility, arguments merge by key with
// conflicts detected, and hints accumulate as a set. childName is used
// only to annotate IncompatibleComponentModels
// diagnostics; pass "" when there is no natural owning child.
func (r *Requirements) Merge(other *Requirements, childName string) (*Requirements, error) {
	mergedModels, err := MergeModelSets(r.Models, other.Models, childName)
	if err != nil {
		return nil, err
	}

	mergedArgs := make(map[string]interface{}, len(r.Arguments)+len(other.Arguments))
	for k, v := range r.Arguments {
		mergedArgs[k] = v
	}
	for k, v := range other.Arguments {
		existing, had := mergedArgs[k]
		if had && !reflect.DeepEqual(existing, v) {
			return nil, errors.IncompatibleSelections(k, fmt.Sprint(existing), fmt.Sprint(v))
		}
		mergedArgs[k] = v
	}

	mergedServices := make(map[string]Selection, len(r.ServiceSelections)+len(other.ServiceSelections))
	for k, v := range r.ServiceSelections {
		mergedServices[k] = v
	}
	for k, v := range other.ServiceSelections {
		existing, had := mergedServices[k]
		if had && !selectionsEqual(existing, v) {
			return nil, errors.IncompatibleSelections(k, describeSelection(existing), describeSelection(v))
		}
		mergedServices[k] = v
	}

	hints := unionStrings(r.DeploymentHints, other.DeploymentHints)

	orocosName := r.OrocosName
	if other.OrocosName != "" {
		if orocosName != "" && orocosName != other.OrocosName {
			return nil, errors.IncompatibleSelections("orocos_name", orocosName, other.OrocosName)
		}
		orocosName = other.OrocosName
	}

	deploymentGroup := r.DeploymentGroup
	if other.DeploymentGroup != "" {
		if deploymentGroup != "" && deploymentGroup != other.DeploymentGroup {
			return nil, errors.IncompatibleSelections("deployment_group", deploymentGroup, other.DeploymentGroup)
		}
		deploymentGroup = other.DeploymentGroup
	}

	return &Requirements{
		Models:            mergedModels,
		Arguments:         mergedArgs,
		ServiceSelections: mergedServices,
		DeploymentHints:   hints,
		OrocosName:        orocosName,
		DeploymentGroup:   deploymentGroup,
	}, nil
}

// MergeModelSets unions two model sets, collapsing a less-specific model
// into a more-specific one already present (or vice versa) via the
// fulfills relation. Two concrete, mutually unrelated TaskContext models
// in the result fail with IncompatibleComponentModels.
func MergeModelSets(a, b []*model.Model, childName string) ([]*model.Model, error) {
	result := append([]*model.Model(nil), a...)

	for _, m := range b {
		placed := false
		for i, existing := range result {
			if existing == m {
				placed = true
				break
			}
			if m.Fulfills(existing) {
				result[i] = m
				placed = true
				break
			}
			if existing.Fulfills(m) {
				placed = true
				break
			}
			if m.IsConcrete() && existing.IsConcrete() {
				return nil, errors.IncompatibleComponentModels(childName, existing.Name, m.Name)
			}
		}
		if !placed {
			result = append(result, m)
		}
	}

	return result, nil
}

func selectionsEqual(a, b Selection) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case SelectionKindName:
		return a.Name == b.Name
	case SelectionKindComponentModel, SelectionKindDataServiceModel:
		return a.Model == b.Model
	case SelectionKindBoundService:
		return a.Bound.Service == b.Bound.Service && a.Bound.Component == b.Bound.Component
	default:
		return true
	}
}

func describeSelection(s Selection) string {
	switch s.Kind {
	case SelectionKindName:
		return s.Name
	case SelectionKindComponentModel, SelectionKindDataServiceModel:
		return s.Model.Name
	case SelectionKindBoundService:
		return s.Bound.Component.Name
	case SelectionKindRequirements:
		return "<requirements>"
	default:
		return "<nil>"
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
