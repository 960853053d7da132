package plan

import "sort"

// Delta is the externally-visible result of committing a Transaction:
// the task and edge additions/removals between the plan as it stood when
// the transaction began and as it stands once committed — what changed
// this pass, for downstream consumers.
type Delta struct {
	AddedTasks   []*Task
	RemovedTasks []*Task
	AddedEdges   []Edge
	RemovedEdges []Edge
}

// Empty reports whether a Delta changed nothing.
func (d Delta) Empty() bool {
	return len(d.AddedTasks) == 0 && len(d.RemovedTasks) == 0 &&
		len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0
}

// Transaction stages an entire pass against a private clone of a Plan, so
// a pass that fails partway through never leaves the live plan half-
// mutated. Callers mutate the clone returned by Plan
// using the same *Plan methods as any other pass; the original is only
// touched by Commit.
type Transaction struct {
	original *Plan
	working  *Plan
}

// Begin opens a transaction against p, staging mutations against a
// private clone of it.
func Begin(p *Plan) *Transaction {
	return &Transaction{original: p, working: p.Clone()}
}

// Plan returns the transaction's working copy for a pass to mutate
// directly. p's own tasks and edges are untouched until Commit.
func (tx *Transaction) Plan() *Plan {
	return tx.working
}

// Commit replaces the original plan's tasks and edges with the working
// copy's and returns the Delta between them.
func (tx *Transaction) Commit() Delta {
	delta := diff(tx.original, tx.working)
	tx.original.Tasks = tx.working.Tasks
	tx.original.Edges = tx.working.Edges
	return delta
}

// Discard abandons the working copy. The original plan was never
// touched, so this is only useful for clarity at call sites.
func (tx *Transaction) Discard() {
	tx.working = nil
}

// Atomic runs fn against a private clone of p, committing the clone's
// tasks and edges back into p only if fn succeeds. A pass that returns
// an error leaves p completely untouched.
func Atomic(p *Plan, fn func(working *Plan) error) (Delta, error) {
	tx := Begin(p)
	if err := fn(tx.Plan()); err != nil {
		tx.Discard()
		return Delta{}, err
	}
	return tx.Commit(), nil
}

func diff(before, after *Plan) Delta {
	var delta Delta

	var addedIDs, removedIDs []string
	for id := range after.Tasks {
		if _, existed := before.Tasks[id]; !existed {
			addedIDs = append(addedIDs, id)
		}
	}
	for id := range before.Tasks {
		if _, still := after.Tasks[id]; !still {
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(addedIDs)
	sort.Strings(removedIDs)
	for _, id := range addedIDs {
		delta.AddedTasks = append(delta.AddedTasks, after.Tasks[id])
	}
	for _, id := range removedIDs {
		delta.RemovedTasks = append(delta.RemovedTasks, before.Tasks[id])
	}

	beforeEdges := make(map[Edge]bool, len(before.Edges))
	for _, e := range before.Edges {
		beforeEdges[e] = true
	}
	afterEdges := make(map[Edge]bool, len(after.Edges))
	for _, e := range after.Edges {
		afterEdges[e] = true
	}
	for _, e := range after.Edges {
		if !beforeEdges[e] {
			delta.AddedEdges = append(delta.AddedEdges, e)
		}
	}
	for _, e := range before.Edges {
		if !afterEdges[e] {
			delta.RemovedEdges = append(delta.RemovedEdges, e)
		}
	}

	return delta
}
