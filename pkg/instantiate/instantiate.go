// Package instantiate implements the Composition Instantiator: it walks a
// resolved model tree, creating one plan.Task per concrete leaf and
// recursively expanding compositions into their children, then wires
// explicit connections, autoconnected ports, and export forwarding between
// them.
package instantiate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/orochestra/pkg/dir"
	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/plan"
	"github.com/davidthor/orochestra/pkg/requirements"
)

// PortRef identifies a connectable port by the task that ultimately owns
// it (never a composition's own synthetic name), carried alongside the
// direction and type needed for autoconnect matching.
type PortRef struct {
	TaskID    string
	Port      string
	Direction model.Direction
	Type      string
}

// Result is what instantiating a name into the plan produces: the task
// created for it (for a composition, the composition's own task, with its
// children hanging off it through dependency edges), and the ports
// reachable from it, keyed by the name a sibling or parent should use to
// refer to them. A composition's export refs point straight at the leaf
// task that owns each port, never at the composition task itself.
type Result struct {
	Task    *plan.Task
	Exports map[string]PortRef

	// Ambiguous lists port names that resolve to more than one concrete
	// port through the selected model's fulfillments (two required
	// services renaming the same abstract port to different concrete
	// ones). A connection or export referencing one of these fails with
	// AmbiguousChildConnection rather than silently picking a side.
	Ambiguous map[string]bool
}

// Instantiate resolves name's concrete model against req and ctx and adds
// the resulting task (or task subtree, for a composition) to p.
func Instantiate(p *plan.Plan, parentPath, name string, req *requirements.Requirements, ctx *dir.DIR) (*Result, error) {
	m, _, err := ctx.ComponentModelFor(name, req)
	if err != nil {
		return nil, err
	}
	return instantiateResolved(p, parentPath, name, m, req, ctx)
}

// instantiateResolved continues instantiation once name's concrete model
// is already known, letting a composition hand its children's
// already-selected models straight to their own instantiation without
// re-deriving them from a scoped-down DIR that no longer carries the
// key that picked them.
func instantiateResolved(p *plan.Plan, parentPath, name string, m *model.Model, req *requirements.Requirements, ctx *dir.DIR) (*Result, error) {
	if m.Kind == model.KindComposition {
		return instantiateComposition(p, parentPath, name, m, req, ctx)
	}
	return instantiateLeaf(p, parentPath, name, m, req)
}

func instantiateLeaf(p *plan.Plan, parentPath, name string, m *model.Model, req *requirements.Requirements) (*Result, error) {
	t := plan.NewTask(parentPath, name, m)
	defaults := make(map[string]interface{})
	for _, arg := range m.Arguments {
		if arg.Default != nil {
			defaults[arg.Name] = arg.Default
		}
	}
	for k, v := range requirements.ApplyDefaults(defaults, req.Arguments) {
		t.SetArgument(k, v)
	}
	t.DeploymentHints = append([]string(nil), req.DeploymentHints...)
	t.OrocosName = req.OrocosName
	t.DeploymentGroup = req.DeploymentGroup
	if m.IsProxy {
		t.RequiredServices = append([]*model.Model(nil), m.ProxyOf()...)
	}

	if err := p.AddTask(t); err != nil {
		return nil, err
	}

	exports, ambiguous := exportsFor(t.ID, m, req.Models)
	return &Result{Task: t, Exports: exports, Ambiguous: ambiguous}, nil
}

// exportsFor builds the port-reference map a sibling or parent composition
// should use to address taskID's ports. It starts from selected's own port
// names, then overlays a translated entry for each port of every model the
// slot required: selected.PortMapping(req) carries a renamed port back to
// the name the requirement (and so the composition's connections/exports)
// was written against, so a component that fulfills a service under a
// different port name still resolves. A name that two required models
// translate to different concrete ports is dropped from the map and
// reported in the second return instead.
func exportsFor(taskID string, selected *model.Model, required []*model.Model) (map[string]PortRef, map[string]bool) {
	exports := make(map[string]PortRef, len(selected.Ports))
	ambiguous := make(map[string]bool)
	for _, port := range selected.Ports {
		exports[port.Name] = PortRef{TaskID: taskID, Port: port.Name, Direction: port.Direction, Type: port.Type}
	}
	overlaid := make(map[string]bool)

	for _, req := range required {
		mapping, ok := selected.PortMapping(req)
		if !ok {
			continue
		}
		for reqPort, ownPort := range mapping {
			port, found := selected.FindPort(ownPort)
			if !found {
				continue
			}
			ref := PortRef{TaskID: taskID, Port: ownPort, Direction: port.Direction, Type: port.Type}
			if existing, seen := exports[reqPort]; seen && overlaid[reqPort] && existing != ref {
				ambiguous[reqPort] = true
				delete(exports, reqPort)
				continue
			}
			if ambiguous[reqPort] {
				continue
			}
			exports[reqPort] = ref
			overlaid[reqPort] = true
		}
	}
	return exports, ambiguous
}

func instantiateComposition(p *plan.Plan, parentPath, name string, m *model.Model, req *requirements.Requirements, ctx *dir.DIR) (*Result, error) {
	childPath := joinPath(parentPath, name)

	m, selections, err := resolveSpecialization(m, ctx)
	if err != nil {
		return nil, err
	}

	root := plan.NewTask(parentPath, name, m)
	for k, v := range req.Arguments {
		root.SetArgument(k, v)
	}
	root.DeploymentHints = append([]string(nil), req.DeploymentHints...)
	root.OrocosName = req.OrocosName
	root.DeploymentGroup = req.DeploymentGroup
	if err := p.AddTask(root); err != nil {
		return nil, err
	}

	childByName := make(map[string]*model.CompositionChild, len(m.Children))
	childNames := make([]string, 0, len(m.Children))
	for _, c := range m.Children {
		childByName[c.Name] = c
		childNames = append(childNames, c.Name)
	}
	sort.Strings(childNames)

	childResults := make(map[string]*Result, len(m.Children))
	for _, cname := range childNames {
		child := childByName[cname]
		sel := selections[cname]
		if child.Optional && (sel == nil || sel.IsProxy) {
			continue
		}

		childCtx := scopeDIR(ctx, cname)
		childReq := requirements.New()
		childReq.Models = append([]*model.Model(nil), child.Models...)

		res, err := instantiateResolved(p, childPath, cname, sel, childReq, childCtx)
		if err != nil {
			return nil, err
		}
		if res.Task != nil {
			if err := p.AddDependency(res.Task.ID, root.ID); err != nil {
				return nil, err
			}
		}
		childResults[cname] = res
	}

	explicitTargets := make(map[string]bool, len(m.Connections))
	for _, conn := range m.Connections {
		fromRes, ok := childResults[conn.FromChild]
		if !ok {
			continue
		}
		toRes, ok := childResults[conn.ToChild]
		if !ok {
			continue
		}
		if fromRes.Ambiguous[conn.FromPort] {
			return nil, errors.AmbiguousChildConnection(conn.FromChild, conn.FromPort)
		}
		if toRes.Ambiguous[conn.ToPort] {
			return nil, errors.AmbiguousChildConnection(conn.ToChild, conn.ToPort)
		}
		fromRef, ok := fromRes.Exports[conn.FromPort]
		if !ok {
			return nil, errors.Internal(fmt.Sprintf("connection references unknown port %s.%s", conn.FromChild, conn.FromPort))
		}
		toRef, ok := toRes.Exports[conn.ToPort]
		if !ok {
			return nil, errors.Internal(fmt.Sprintf("connection references unknown port %s.%s", conn.ToChild, conn.ToPort))
		}

		if err := wire(p, fromRef, toRef, conn.Policy); err != nil {
			return nil, err
		}
		explicitTargets[toRef.TaskID+"."+toRef.Port] = true
	}

	if err := autoconnect(p, childNames, childResults, explicitTargets); err != nil {
		return nil, err
	}

	exports := make(map[string]PortRef, len(m.Exports))
	for _, exp := range m.Exports {
		res, ok := childResults[exp.Child]
		if !ok {
			continue
		}
		if res.Ambiguous[exp.ChildPort] {
			return nil, errors.AmbiguousChildConnection(exp.Child, exp.ChildPort)
		}
		ref, ok := res.Exports[exp.ChildPort]
		if !ok {
			return nil, errors.Internal(fmt.Sprintf("export references unknown port %s.%s", exp.Child, exp.ChildPort))
		}
		exports[exp.Port] = ref
	}

	return &Result{Task: root, Exports: exports}, nil
}

// resolveSpecialization selects a concrete model for each of m's children
// against ctx and, if a more specific composition model matches that
// selection set, switches to it and repeats against its own children.
func resolveSpecialization(m *model.Model, ctx *dir.DIR) (*model.Model, map[string]*model.Model, error) {
	selections, err := selectChildren(m, ctx)
	if err != nil {
		return nil, nil, err
	}

	specialized := m.MatchingSpecializedModel(selections)
	if specialized == nil || specialized == m {
		return m, selections, nil
	}
	return resolveSpecialization(specialized, ctx)
}

// selectChildren resolves the concrete model for each of m's children
// against ctx directly: the key that picks a child (its own name, or one
// of its required models) lives at this composition's own scope, not the
// scoped-down view handed to the child's descendants.
func selectChildren(m *model.Model, ctx *dir.DIR) (map[string]*model.Model, error) {
	selections := make(map[string]*model.Model, len(m.Children))
	for _, child := range m.Children {
		req := requirements.New()
		req.Models = append([]*model.Model(nil), child.Models...)

		concrete, _, err := ctx.ComponentModelFor(child.Name, req)
		if err != nil {
			return nil, err
		}
		selections[child.Name] = concrete
	}
	return selections, nil
}

// scopeDIR narrows a parent DIR to the view a named child should see: name
// keys prefixed with "childName." are rewritten with the prefix stripped,
// every other name key is dropped, and model keys and defaults pass
// through unchanged since they describe requirements a child may also
// carry regardless of its position in the tree.
func scopeDIR(parent *dir.DIR, childName string) *dir.DIR {
	scoped := dir.New()
	prefix := childName + "."

	for _, e := range parent.Entries() {
		if e.Key.Kind == requirements.KeyKindName {
			if !strings.HasPrefix(e.Key.Name, prefix) {
				continue
			}
			sub := requirements.NameKey(strings.TrimPrefix(e.Key.Name, prefix))
			scoped.Add(dir.Explicit(sub, e.Value))
			continue
		}
		scoped.Add(dir.Explicit(*e.Key, e.Value))
	}
	for _, d := range parent.Defaults() {
		scoped.Add(dir.Default(d))
	}

	return scoped
}

func wire(p *plan.Plan, from, to PortRef, policy model.Policy) error {
	if err := p.AddEdge(plan.Edge{FromTask: from.TaskID, FromPort: from.Port, ToTask: to.TaskID, ToPort: to.Port, Policy: policy}); err != nil {
		return err
	}
	return p.AddDependency(to.TaskID, from.TaskID)
}

// autoconnect wires every sibling input port not already targeted by an
// explicit connection to the unique type-matching output it can be
// resolved to. Connected-ness is tracked by physical (task, port), not
// by name, so a port exposed under both its own and a fulfilled
// service's name is considered once. With more than one type-matching
// output, an identical port name is tried first: one such output is
// connected, and two or more fail with AmbiguousAutoConnection at once,
// without the child-name rule being applied to them. Only when no output
// shares the input's name does an output whose owning child's name
// appears in the input's port name get a chance to narrow the field to
// one; if that does not leave exactly one, autoconnect fails with
// AmbiguousAutoConnection. Inputs with no candidate at all are left
// unconnected.
func autoconnect(p *plan.Plan, childNames []string, childResults map[string]*Result, explicitTargets map[string]bool) error {
	wired := make(map[string]bool, len(explicitTargets))
	for k := range explicitTargets {
		wired[k] = true
	}
	for _, cname := range childNames {
		res, ok := childResults[cname]
		if !ok {
			continue
		}

		for _, portName := range sortedPortNames(res.Exports) {
			ref := res.Exports[portName]
			if ref.Direction != model.DirectionIn {
				continue
			}
			if wired[ref.TaskID+"."+ref.Port] {
				continue
			}

			candidates := collectCandidates(cname, portName, ref, childNames, childResults)
			match, err := pickAutoConnectSource(cname, portName, candidates)
			if err != nil {
				return err
			}
			if match == nil {
				continue
			}
			if err := wire(p, *match, ref, model.DefaultPolicy()); err != nil {
				return err
			}
		}
	}
	return nil
}

type candidate struct {
	childName string
	portName  string
	ref       PortRef
}

// collectCandidates gathers the type-compatible sibling outputs for an
// input port. A physical port exposed under several names (its own name
// plus a fulfilled service's renamed view) counts once; the alias equal
// to the input's own name is kept when present so the exact-name
// tie-break still sees it.
func collectCandidates(targetChild, targetPort string, target PortRef, childNames []string, childResults map[string]*Result) []candidate {
	var out []candidate
	index := make(map[string]int)
	for _, cname := range childNames {
		if cname == targetChild {
			continue
		}
		res, ok := childResults[cname]
		if !ok {
			continue
		}
		for _, portName := range sortedPortNames(res.Exports) {
			ref := res.Exports[portName]
			if ref.Direction != model.DirectionOut || ref.Type != target.Type {
				continue
			}
			key := ref.TaskID + "." + ref.Port
			if i, seen := index[key]; seen {
				if portName == targetPort {
					out[i].portName = portName
				}
				continue
			}
			index[key] = len(out)
			out = append(out, candidate{childName: cname, portName: portName, ref: ref})
		}
	}
	return out
}

func pickAutoConnectSource(targetChild, targetPort string, candidates []candidate) (*PortRef, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) == 1 {
		return &candidates[0].ref, nil
	}

	var exact []candidate
	for _, c := range candidates {
		if c.portName == targetPort {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return &exact[0].ref, nil
	}
	if len(exact) > 1 {
		return nil, errors.AmbiguousAutoConnection(targetChild, targetPort, candidateNames(exact))
	}

	var byName []candidate
	for _, c := range candidates {
		if strings.Contains(targetPort, c.childName) {
			byName = append(byName, c)
		}
	}
	if len(byName) == 1 {
		return &byName[0].ref, nil
	}
	if len(byName) > 1 {
		return nil, errors.AmbiguousAutoConnection(targetChild, targetPort, candidateNames(byName))
	}

	// neither rule narrowed the field: more than one type-compatible
	// output remains.
	return nil, errors.AmbiguousAutoConnection(targetChild, targetPort, candidateNames(candidates))
}

func candidateNames(cs []candidate) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.childName + "." + c.portName
	}
	sort.Strings(names)
	return names
}

func sortedPortNames(exports map[string]PortRef) []string {
	names := make([]string, 0, len(exports))
	for n := range exports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
