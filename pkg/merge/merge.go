// Package merge implements the Network Merge Solver: it reduces a plan
// to its minimal equivalent by repeatedly merging tasks that are
// semantically identical, guided by a directed merge-candidate graph with
// cycle handling and staged disambiguation.
package merge

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/plan"
	"github.com/davidthor/orochestra/pkg/trace"
)

// Option configures an optional side channel for Merge. The zero value
// (no options) is the common case; WithTrace is the only one so far.
type Option func(*options)

type options struct {
	trace *trace.Trace
}

// WithTrace attaches a diagnostic trace that records every merge
// candidate considered, accepted merge, and disambiguation decision
// made during reduction. Passing a nil trace (or omitting the option)
// disables recording at no cost, since trace.Trace's methods are no-ops
// on nil.
func WithTrace(t *trace.Trace) Option {
	return func(o *options) { o.trace = t }
}

// Merge reduces p in place to its minimal equivalent: a breadth-first
// outer loop seeded with every task, re-seeding with the sinks and
// composition parents of whatever a pass merged until a pass merges
// nothing. Merge is idempotent: running it again on an already-reduced
// plan performs no further merges.
func Merge(p *plan.Plan, opts ...Option) error {
	o := &options{}
	for _, apply := range opts {
		apply(o)
	}

	frontier := allTaskIDs(p)

	for len(frontier) > 0 {
		mergedAway, err := reducePass(p, frontier, o.trace)
		if err != nil {
			return err
		}
		if len(mergedAway) == 0 {
			return nil
		}
		frontier = nextFrontier(p, mergedAway)
	}
	return nil
}

func allTaskIDs(p *plan.Plan) []string {
	ids := make([]string, 0, len(p.Tasks))
	for id := range p.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// nextFrontier reseeds the outer loop with every surviving parent a merge
// produced, plus the composition tasks that enclose that parent: merging
// children can make a parent composition mergeable in turn.
func nextFrontier(p *plan.Plan, mergedAway map[string]string) []string {
	parents := make(map[string]bool, len(mergedAway))
	for _, parent := range mergedAway {
		if p.GetTask(parent) != nil {
			parents[parent] = true
		}
	}

	seedSet := make(map[string]bool, len(parents))
	var parentIDs []string
	for id := range parents {
		parentIDs = append(parentIDs, id)
	}
	sort.Strings(parentIDs)

	for _, sink := range p.Sinks(parentIDs) {
		seedSet[sink.ID] = true
	}
	for id := range parents {
		seedSet[id] = true
		t := p.GetTask(id)
		if t == nil {
			continue
		}
		for _, ancestorPath := range dottedPrefixes(t.Component) {
			for _, candidate := range p.Tasks {
				if taskPath(candidate) == ancestorPath {
					seedSet[candidate.ID] = true
				}
			}
		}
	}

	out := make([]string, 0, len(seedSet))
	for id := range seedSet {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// taskPath is a task's own dotted composition path, as another task's
// Component field would reference it.
func taskPath(t *plan.Task) string {
	if t.Component == "" {
		return t.Name
	}
	return t.Component + "." + t.Name
}

// dottedPrefixes returns a dotted path followed by each of its shorter
// prefixes, longest first, e.g. "a.b.c" -> ["a.b.c", "a.b", "a"].
func dottedPrefixes(path string) []string {
	var out []string
	for path != "" {
		out = append(out, path)
		idx := -1
		for i := len(path) - 1; i >= 0; i-- {
			if path[i] == '.' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		path = path[:idx]
	}
	return out
}

// reducePass runs the fixed-point reduction algorithm over the given
// candidate task IDs: simple merges, cycle breaking, then staged
// disambiguation, repeated until nothing changes.
func reducePass(p *plan.Plan, frontier []string, tr *trace.Trace) (map[string]string, error) {
	mergedAway := map[string]string{}
	ids := append([]string(nil), frontier...)
	sort.Strings(ids)

	for {
		g := directMergeMappings(p, ids)
		recordCandidates(tr, g)
		breakTwoNodeCycles(p, g)
		incoming := g.incoming()

		oneParent, ambiguous := partitionTargets(incoming)

		// Cycles are broken on this same graph, one edge at a time, until
		// a target is left with a single parent or no cycle remains.
		for len(oneParent) == 0 && breakOneCycleEdge(g) {
			incoming = g.incoming()
			oneParent, ambiguous = partitionTargets(incoming)
		}

		// Only one merge is ever applied per recomputed graph: a tied
		// two-node cycle leaves both ends with exactly one incoming edge
		// (each pointing at the other), and acting on more than one of
		// them against the same incoming snapshot would merge a task that
		// the first merge already removed. Composition targets go first:
		// merging a composition reparents its children, so matching
		// children then share one path and can merge in turn.
		if len(oneParent) > 0 {
			b := oneParent[0]
			for _, id := range oneParent {
				if p.GetTask(id).Model.Kind == model.KindComposition {
					b = id
					break
				}
			}
			a := incoming[b][0]
			if err := doMerge(p, a, b); err != nil {
				return nil, err
			}
			recordAccepted(tr, a, b)
			mergedAway[b] = a
			ids = withoutID(ids, b)
			continue
		}

		resolved := false
		for _, b := range ambiguous {
			winner := disambiguate(p, b, incoming[b])
			tr.Record(trace.KindDisambiguation, fmt.Sprintf("target %s narrowed from %d candidate(s) to %d", b, len(incoming[b]), len(winner)), map[string]interface{}{
				"target":     b,
				"candidates": incoming[b],
				"winners":    winner,
			})
			if len(winner) != 1 {
				continue
			}
			if err := doMerge(p, winner[0], b); err != nil {
				return nil, err
			}
			recordAccepted(tr, winner[0], b)
			mergedAway[b] = winner[0]
			ids = withoutID(ids, b)
			resolved = true
			break
		}
		if resolved {
			continue
		}

		return mergedAway, nil
	}
}

func recordCandidates(tr *trace.Trace, g *MergeGraph) {
	var froms []string
	for a := range g.edges {
		froms = append(froms, a)
	}
	sort.Strings(froms)
	for _, a := range froms {
		var tos []string
		for b := range g.edges[a] {
			tos = append(tos, b)
		}
		sort.Strings(tos)
		for _, b := range tos {
			tr.Record(trace.KindMergeCandidate, fmt.Sprintf("%s may replace %s", a, b), map[string]interface{}{"parent": a, "target": b})
		}
	}
}

func recordAccepted(tr *trace.Trace, parent, target string) {
	tr.Record(trace.KindMergeAccepted, fmt.Sprintf("%s absorbed %s", parent, target), map[string]interface{}{"parent": parent, "target": target})
}

func partitionTargets(incoming map[string][]string) (oneParent, ambiguous []string) {
	for b, parents := range incoming {
		switch len(parents) {
		case 1:
			oneParent = append(oneParent, b)
		default:
			if len(parents) > 1 {
				ambiguous = append(ambiguous, b)
			}
		}
	}
	sort.Strings(oneParent)
	sort.Strings(ambiguous)
	return oneParent, ambiguous
}

func withoutID(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Compare ranks a against b under the merge ordering table (first
// non-tied criterion wins); ok is false when every criterion ties, which
// leaves a and b incomparable.
func Compare(a, b *plan.Task) (result int, ok bool) {
	for _, holds := range rankCriteria {
		av, bv := holds(a), holds(b)
		if av == bv {
			continue
		}
		if av {
			return 1, true
		}
		return -1, true
	}
	return 0, false
}

var rankCriteria = []func(t *plan.Task) bool{
	func(t *plan.Task) bool { return !t.Finished() },
	func(t *plan.Task) bool { return t.Running() },
	func(t *plan.Task) bool { return t.HasExecutionAgent },
	func(t *plan.Task) bool { return !t.IsDataServiceProxy() },
	func(t *plan.Task) bool { return t.IsFullyInstantiated() },
	func(t *plan.Task) bool { return t.IsTransactionProxy },
}

// MergeGraph is the directed graph over in-plan task IDs: an edge a->b
// means a may replace b.
type MergeGraph struct {
	edges map[string]map[string]bool
}

func newMergeGraph() *MergeGraph { return &MergeGraph{edges: make(map[string]map[string]bool)} }

func (g *MergeGraph) add(a, b string) {
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]bool)
	}
	g.edges[a][b] = true
}

func (g *MergeGraph) remove(a, b string) {
	if s, ok := g.edges[a]; ok {
		delete(s, b)
		if len(s) == 0 {
			delete(g.edges, a)
		}
	}
}

func (g *MergeGraph) incoming() map[string][]string {
	in := make(map[string][]string)
	var froms []string
	for a := range g.edges {
		froms = append(froms, a)
	}
	sort.Strings(froms)
	for _, a := range froms {
		var tos []string
		for b := range g.edges[a] {
			tos = append(tos, b)
		}
		sort.Strings(tos)
		for _, b := range tos {
			in[b] = append(in[b], a)
		}
	}
	return in
}

// directMergeMappings builds the MergeGraph over the given task IDs,
// skipping pairs the eligibility rules rule out before checking
// structural compatibility.
func directMergeMappings(p *plan.Plan, ids []string) *MergeGraph {
	g := newMergeGraph()
	for _, aID := range ids {
		a := p.GetTask(aID)
		if a == nil {
			continue
		}
		for _, bID := range ids {
			if aID == bID {
				continue
			}
			b := p.GetTask(bID)
			if b == nil {
				continue
			}
			if !eligibleEdge(p, a, b) {
				continue
			}
			if !structurallyCompatible(a, b) {
				continue
			}
			g.add(aID, bID)
		}
	}
	return g
}

func eligibleEdge(p *plan.Plan, a, b *plan.Task) bool {
	if b.IsTransactionProxy {
		// a transaction proxy only ever stands on the 'a' side of an edge:
		// it can absorb other tasks, but since it already represents a
		// task committed to the plan it is never itself removed.
		return false
	}
	if b.HasExecutionAgent && b.State != plan.StatePending {
		return false
	}
	if a.HasExecutionAgent && b.HasExecutionAgent {
		return false
	}
	if a.State != plan.StateAbstract && b.State == plan.StateAbstract {
		return false
	}
	if a.Model.Kind == model.KindComposition && b.Model.Kind == model.KindComposition {
		if !sameChildSignature(childSignature(p, a), childSignature(p, b)) {
			return false
		}
	}
	return true
}

func childSignature(p *plan.Plan, t *plan.Task) map[string]bool {
	ownPath := t.Name
	if t.Component != "" {
		ownPath = t.Component + "." + t.Name
	}
	sig := make(map[string]bool)
	for _, other := range p.Tasks {
		if other.Component == ownPath {
			sig[other.Name+":"+other.Model.Name] = true
		}
	}
	return sig
}

func sameChildSignature(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// structurallyCompatible is the "can b absorb a" test: the two tasks must
// describe the same concrete model (or one be a data-service proxy the
// other's model fulfills) with no conflicting argument value.
func structurallyCompatible(a, b *plan.Task) bool {
	if !modelsCompatible(a, b) {
		return false
	}
	return argumentsCompatible(a.Arguments, b.Arguments)
}

func modelsCompatible(a, b *plan.Task) bool {
	if a.Model == b.Model {
		return true
	}
	if a.IsDataServiceProxy() {
		return fulfillsAll(b.Model, a.RequiredServices)
	}
	if b.IsDataServiceProxy() {
		return fulfillsAll(a.Model, b.RequiredServices)
	}
	return false
}

func fulfillsAll(m *model.Model, required []*model.Model) bool {
	for _, req := range required {
		if !m.Fulfills(req) {
			return false
		}
	}
	return true
}

func argumentsCompatible(a, b map[string]interface{}) bool {
	for k, v := range a {
		if ov, ok := b[k]; ok && !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// breakTwoNodeCycles removes the lesser edge of every mutual a<->b pair
// per the merge ordering, leaving incomparable pairs for the general
// cycle breaker.
func breakTwoNodeCycles(p *plan.Plan, g *MergeGraph) {
	var froms []string
	for a := range g.edges {
		froms = append(froms, a)
	}
	sort.Strings(froms)

	for _, a := range froms {
		var tos []string
		for b := range g.edges[a] {
			tos = append(tos, b)
		}
		sort.Strings(tos)
		for _, b := range tos {
			if a >= b {
				continue
			}
			if !g.edges[b][a] {
				continue
			}
			ta, tb := p.GetTask(a), p.GetTask(b)
			cmp, ok := Compare(ta, tb)
			if !ok {
				continue
			}
			if cmp > 0 {
				g.remove(b, a)
			} else {
				g.remove(a, b)
			}
		}
	}
}

// breakOneCycleEdge finds one longer-than-two-node cycle via DFS and
// removes a single edge within it, reporting whether it found one.
func breakOneCycleEdge(g *MergeGraph) bool {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)
	var cutFrom, cutTo string
	found := false

	var ids []string
	for a := range g.edges {
		ids = append(ids, a)
	}
	sort.Strings(ids)

	var dfs func(n string) bool
	dfs = func(n string) bool {
		state[n] = inStack
		var nexts []string
		for b := range g.edges[n] {
			nexts = append(nexts, b)
		}
		sort.Strings(nexts)
		for _, b := range nexts {
			if state[b] == inStack {
				cutFrom, cutTo = n, b
				return true
			}
			if state[b] == unvisited {
				if dfs(b) {
					return true
				}
			}
		}
		state[n] = done
		return false
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if dfs(id) {
				found = true
				break
			}
		}
	}

	if found {
		g.remove(cutFrom, cutTo)
	}
	return found
}

// disambiguate narrows an ambiguous target's candidate parents through
// dependency dominance, name matching, and locality, stopping as soon as
// one pass leaves exactly one candidate.
func disambiguate(p *plan.Plan, targetID string, parents []string) []string {
	candidates := append([]string(nil), parents...)
	sort.Strings(candidates)

	candidates = dropDominatedAncestors(p, candidates)
	if len(candidates) == 1 {
		return candidates
	}

	candidates = filterByName(p, targetID, candidates)
	if len(candidates) == 1 {
		return candidates
	}

	return filterByLocality(p, targetID, candidates)
}

// dropDominatedAncestors drops the descendant of every ancestor/descendant
// pair among candidates: if x is an ancestor of y, y is dropped and x (the
// more general, upstream candidate) survives.
func dropDominatedAncestors(p *plan.Plan, candidates []string) []string {
	drop := make(map[string]bool)
	for _, y := range candidates {
		ancestorsOfY := p.Ancestors(y)
		for _, x := range candidates {
			if x != y && ancestorsOfY[x] {
				drop[y] = true
			}
		}
	}
	var out []string
	for _, c := range candidates {
		if !drop[c] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

func filterByName(p *plan.Plan, targetID string, candidates []string) []string {
	target := p.GetTask(targetID)
	if target == nil || len(target.DeploymentHints) == 0 {
		return candidates
	}
	hints := make(map[string]bool, len(target.DeploymentHints))
	for _, h := range target.DeploymentHints {
		hints[h] = true
	}

	var matched []string
	for _, c := range candidates {
		t := p.GetTask(c)
		if t == nil {
			continue
		}
		if hints[t.OrocosName] {
			matched = append(matched, c)
			continue
		}
		if t.Binding != nil && hints[t.Binding.Deployment] {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return candidates
	}
	return matched
}

const unreachableDistance = 1 << 30

func filterByLocality(p *plan.Plan, targetID string, candidates []string) []string {
	neighbors := portNeighbors(p, targetID)
	if len(neighbors) == 0 {
		return candidates
	}

	best := unreachableDistance
	distances := make(map[string]int, len(candidates))
	for _, c := range candidates {
		d := minDistance(p, c, neighbors)
		distances[c] = d
		if d < best {
			best = d
		}
	}

	var out []string
	for _, c := range candidates {
		if distances[c] == best {
			out = append(out, c)
		}
	}
	return out
}

func portNeighbors(p *plan.Plan, taskID string) map[string]bool {
	out := make(map[string]bool)
	for _, e := range p.EdgesFrom(taskID) {
		out[e.ToTask] = true
	}
	for _, e := range p.EdgesTo(taskID) {
		out[e.FromTask] = true
	}
	delete(out, taskID)
	return out
}

func minDistance(p *plan.Plan, from string, targets map[string]bool) int {
	if targets[from] {
		return 0
	}
	visited := map[string]int{from: 0}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := visited[cur]

		var next []string
		for _, e := range p.EdgesFrom(cur) {
			next = append(next, e.ToTask)
		}
		for _, e := range p.EdgesTo(cur) {
			next = append(next, e.FromTask)
		}

		for _, n := range next {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = d + 1
			if targets[n] {
				return d + 1
			}
			queue = append(queue, n)
		}
	}
	return unreachableDistance
}

// Absorb merges target into parent, one pair at a time. It is exported
// for the deployer, which binds a task to a slot by instantiating a
// deployed-task shadow and absorbing the original task into it — never
// as a batch, since batching would lose each task's own connectivity
// partway through the rewrite.
func Absorb(p *plan.Plan, parentID, targetID string) error {
	return doMerge(p, parentID, targetID)
}

// doMerge absorbs target into parent: arguments, hints, required
// services, and dependency/port edges are transferred, then target is
// dropped from the plan.
func doMerge(p *plan.Plan, parentID, targetID string) error {
	parent := p.GetTask(parentID)
	target := p.GetTask(targetID)
	if parent == nil || target == nil {
		return errors.Internal("merge references a task missing from the plan")
	}
	if parent.ID == target.ID {
		return errors.Internal("cannot merge a task with itself")
	}

	mergeFields(parent, target)

	for _, e := range p.EdgesFrom(targetID) {
		rewritten := e
		rewritten.FromTask = parent.ID
		p.RemoveEdge(e)
		if !hasEdge(p, rewritten) {
			if err := p.AddEdge(rewritten); err != nil {
				return err
			}
		}
	}
	for _, e := range p.EdgesTo(targetID) {
		rewritten := e
		rewritten.ToTask = parent.ID
		p.RemoveEdge(e)
		if !hasEdge(p, rewritten) {
			if err := p.AddEdge(rewritten); err != nil {
				return err
			}
		}
	}

	for _, dep := range target.DependsOn {
		if dep != parent.ID {
			if err := p.AddDependency(parent.ID, dep); err != nil {
				return err
			}
		}
	}
	for _, dependent := range target.DependedOnBy {
		if dependent != parent.ID {
			if err := p.AddDependency(dependent, parent.ID); err != nil {
				return err
			}
		}
	}

	if target.Model.Kind == model.KindComposition {
		reparentChildren(p, taskPath(target), taskPath(parent))
	}

	p.RemoveTask(targetID)
	return nil
}

// reparentChildren rewrites the Component path of every task nested under
// oldPath (a merged-away composition) to sit under newPath (its
// surviving replacement), so a composition merge carries its children
// along with it.
func reparentChildren(p *plan.Plan, oldPath, newPath string) {
	for _, t := range p.Tasks {
		if t.Component == oldPath {
			t.Component = newPath
		} else if strings.HasPrefix(t.Component, oldPath+".") {
			t.Component = newPath + strings.TrimPrefix(t.Component, oldPath)
		}
	}
}

func hasEdge(p *plan.Plan, e plan.Edge) bool {
	for _, existing := range p.Edges {
		if existing == e {
			return true
		}
	}
	return false
}

func mergeFields(parent, target *plan.Task) {
	for k, v := range target.Arguments {
		if _, exists := parent.Arguments[k]; !exists {
			parent.Arguments[k] = v
		}
	}
	parent.DeploymentHints = unionStrings(parent.DeploymentHints, target.DeploymentHints)
	if parent.OrocosName == "" {
		parent.OrocosName = target.OrocosName
	}
	if parent.DeploymentGroup == "" {
		parent.DeploymentGroup = target.DeploymentGroup
	}
	parent.RequiredServices = unionModels(parent.RequiredServices, target.RequiredServices)
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

func unionModels(a, b []*model.Model) []*model.Model {
	seen := make(map[*model.Model]bool, len(a)+len(b))
	var out []*model.Model
	for _, m := range append(append([]*model.Model(nil), a...), b...) {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
