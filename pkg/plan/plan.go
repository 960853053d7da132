package plan

import (
	"fmt"
	"sort"

	"github.com/davidthor/orochestra/pkg/model"
)

// Edge is a typed connection from an output port on one task to an input
// port on another, carrying the connection policy applied to the
// stream.
type Edge struct {
	FromTask string
	FromPort string
	ToTask   string
	ToPort   string
	Policy   model.Policy
}

// Plan is the living task graph. It
// exclusively owns every in-plan Task; a merge transfers ownership of the
// incoming/outgoing edges of the replaced task to the survivor.
type Plan struct {
	Tasks map[string]*Task
	Edges []Edge
}

// New creates an empty plan.
func New() *Plan {
	return &Plan{Tasks: make(map[string]*Task)}
}

// AddTask adds a task to the plan.
func (p *Plan) AddTask(t *Task) error {
	if _, exists := p.Tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	p.Tasks[t.ID] = t
	return nil
}

// RemoveTask drops a task, every edge touching it, and every reference to
// it in a surviving task's DependsOn/DependedOnBy lists.
func (p *Plan) RemoveTask(id string) {
	delete(p.Tasks, id)

	var kept []Edge
	for _, e := range p.Edges {
		if e.FromTask == id || e.ToTask == id {
			continue
		}
		kept = append(kept, e)
	}
	p.Edges = kept

	for _, t := range p.Tasks {
		t.DependsOn = removeID(t.DependsOn, id)
		t.DependedOnBy = removeID(t.DependedOnBy, id)
	}
}

func removeID(ids []string, target string) []string {
	var kept []string
	for _, id := range ids {
		if id != target {
			kept = append(kept, id)
		}
	}
	return kept
}

// GetTask returns a task by ID, or nil.
func (p *Plan) GetTask(id string) *Task {
	return p.Tasks[id]
}

// AddDependency records that dependentID depends on dependencyID.
func (p *Plan) AddDependency(dependentID, dependencyID string) error {
	dependent := p.GetTask(dependentID)
	if dependent == nil {
		return fmt.Errorf("dependent task %s not found", dependentID)
	}
	dependency := p.GetTask(dependencyID)
	if dependency == nil {
		return fmt.Errorf("dependency task %s not found", dependencyID)
	}
	dependent.addDependency(dependencyID)
	dependency.addDependent(dependentID)
	return nil
}

// AddEdge adds a typed port connection from one task to another.
func (p *Plan) AddEdge(e Edge) error {
	if p.GetTask(e.FromTask) == nil {
		return fmt.Errorf("edge source task %s not found", e.FromTask)
	}
	if p.GetTask(e.ToTask) == nil {
		return fmt.Errorf("edge target task %s not found", e.ToTask)
	}
	p.Edges = append(p.Edges, e)
	return nil
}

// RemoveEdge removes the first edge matching the given fields exactly.
func (p *Plan) RemoveEdge(e Edge) {
	for i, existing := range p.Edges {
		if existing == e {
			p.Edges = append(p.Edges[:i], p.Edges[i+1:]...)
			return
		}
	}
}

// EdgesFrom / EdgesTo return the edges touching a task as source/target.
func (p *Plan) EdgesFrom(taskID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.FromTask == taskID {
			out = append(out, e)
		}
	}
	return out
}

func (p *Plan) EdgesTo(taskID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.ToTask == taskID {
			out = append(out, e)
		}
	}
	return out
}

// TopologicalSort returns tasks in dependency order (dependencies first),
// using Kahn's algorithm with a stably sorted ready-queue so ties resolve
// deterministically by task ID.
func (p *Plan) TopologicalSort() ([]*Task, error) {
	inDegree := make(map[string]int, len(p.Tasks))
	for id, t := range p.Tasks {
		n := 0
		for _, dep := range t.DependsOn {
			if _, ok := p.Tasks[dep]; ok {
				n++
			}
		}
		inDegree[id] = n
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var result []*Task
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		task := p.Tasks[id]
		result = append(result, task)

		for _, dependentID := range task.DependedOnBy {
			if _, ok := p.Tasks[dependentID]; !ok {
				continue
			}
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				queue = append(queue, dependentID)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(p.Tasks) {
		seen := make(map[string]bool, len(result))
		for _, t := range result {
			seen[t.ID] = true
		}
		var stuck []string
		for id := range p.Tasks {
			if !seen[id] {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle detected involving %d tasks: %v", len(stuck), stuck)
	}

	return result, nil
}

// ReverseTopologicalSort returns tasks with dependents before dependencies.
func (p *Plan) ReverseTopologicalSort() ([]*Task, error) {
	sorted, err := p.TopologicalSort()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted, nil
}

// Ancestors returns the set of task IDs reachable by following DependsOn
// from start (not including start itself), used by the merge solver's
// dependency-dominance disambiguation pass.
func (p *Plan) Ancestors(start string) map[string]bool {
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		t := p.GetTask(id)
		if t == nil {
			return
		}
		for _, dep := range t.DependsOn {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			walk(dep)
		}
	}
	walk(start)
	return visited
}

// Sinks returns the tasks among the given IDs with no live dependent,
// used by the merge solver's outer-loop frontier reseeding.
func (p *Plan) Sinks(ids []string) []*Task {
	var sinks []*Task
	for _, id := range ids {
		t := p.GetTask(id)
		if t == nil {
			continue
		}
		hasLiveDependent := false
		for _, dep := range t.DependedOnBy {
			if p.GetTask(dep) != nil {
				hasLiveDependent = true
				break
			}
		}
		if !hasLiveDependent {
			sinks = append(sinks, t)
		}
	}
	return sinks
}

// TasksByComponent returns all tasks whose Component field equals the
// given dotted path.
func (p *Plan) TasksByComponent(component string) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Component == component {
			out = append(out, t)
		}
	}
	return out
}

// Clone deep-copies the plan so callers can stage speculative mutation
// (Transaction) or run determinism checks without touching the original.
func (p *Plan) Clone() *Plan {
	clone := New()
	for id, t := range p.Tasks {
		copied := *t
		copied.Arguments = make(map[string]interface{}, len(t.Arguments))
		for k, v := range t.Arguments {
			copied.Arguments[k] = v
		}
		copied.DependsOn = append([]string(nil), t.DependsOn...)
		copied.DependedOnBy = append([]string(nil), t.DependedOnBy...)
		copied.RequiredServices = append([]*model.Model(nil), t.RequiredServices...)
		copied.DeploymentHints = append([]string(nil), t.DeploymentHints...)
		clone.Tasks[id] = &copied
	}
	clone.Edges = append([]Edge(nil), p.Edges...)
	return clone
}
