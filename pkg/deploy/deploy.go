// Package deploy implements the System Network Deployer: it binds every
// undeployed concrete task in a plan to a physical deployment slot, one
// task at a time, and reports any task that could not be placed.
package deploy

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/merge"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/plan"
	"github.com/davidthor/orochestra/pkg/trace"
)

// Instance is one running process server's deployment: a deployment
// model, whose Slots name the task models it can host, paired with the
// process server name actually running it.
type Instance struct {
	ProcessServer string
	Model         *model.Model
}

// Group is a named collection of deployment instances a task can be
// placed into. A task names the group it prefers through its own
// DeploymentGroup (or an ancestor's); Deploy falls back to a caller-
// supplied default when nothing in the task's ancestry names one.
type Group struct {
	Name      string
	Instances []Instance
}

// Candidate is one (process server, deployment, slot) triple a task
// could be bound to.
type Candidate struct {
	ProcessServer string
	Deployment    string
	Slot          string
}

// Options configures Deploy: the named groups available to draw
// candidates from, and which one applies when no task in a chain names
// one explicitly.
type Options struct {
	Groups       map[string]*Group
	DefaultGroup string

	// Trace records every candidate considered, accepted binding, and
	// missing-deployment decision. Optional; nil disables recording at
	// no cost since trace.Trace is nil-safe.
	Trace *trace.Trace
}

// Deploy binds every undeployed concrete task in p to a deployment
// slot. Candidates are found by walking each task's dependency
// ancestors for the nearest named deployment group, disambiguated by
// orocos_name and then by deployment hint, and allocated with one-slot-
// one-task exclusivity. A task left unbound after allocation is
// reported in the returned MissingDeployments error; Deploy otherwise
// binds every candidate it found via a separate, single-task merge.
func Deploy(p *plan.Plan, opts Options) error {
	targets := undeployedTasks(p)
	used := usedSlots(p)
	reports := make(map[string][]errors.CandidateReport, len(targets))

	for _, t := range targets {
		candidates := findCandidates(p, t, opts)
		for _, c := range candidates {
			opts.Trace.Record(trace.KindDeployCandidate, fmt.Sprintf("task %s: candidate %s/%s/%s", t.ID, c.ProcessServer, c.Deployment, c.Slot), map[string]interface{}{
				"task": t.ID, "process_server": c.ProcessServer, "deployment": c.Deployment, "slot": c.Slot,
			})
		}
		chosen, report := disambiguate(t, candidates, used)
		reports[t.ID] = report
		if chosen == nil {
			continue
		}
		if err := apply(p, t, opts, *chosen); err != nil {
			return err
		}
		used[slotKey(*chosen)] = t.ID
		opts.Trace.Record(trace.KindDeployAccepted, fmt.Sprintf("task %s bound to %s/%s/%s", t.ID, chosen.ProcessServer, chosen.Deployment, chosen.Slot), map[string]interface{}{
			"task": t.ID, "process_server": chosen.ProcessServer, "deployment": chosen.Deployment, "slot": chosen.Slot,
		})
	}

	missing := make(map[string][]errors.CandidateReport)
	for _, t := range p.Tasks {
		if needsDeployment(t) && t.Binding == nil {
			missing[t.ID] = reports[t.ID]
			opts.Trace.Record(trace.KindDeployMissing, fmt.Sprintf("task %s has no available deployment", t.ID), map[string]interface{}{"task": t.ID})
		}
	}
	if len(missing) > 0 {
		return errors.MissingDeployments(missing)
	}
	return nil
}

func needsDeployment(t *plan.Task) bool {
	return t.Model != nil && t.Model.IsConcrete() && !t.Finished()
}

func undeployedTasks(p *plan.Plan) []*plan.Task {
	var out []*plan.Task
	for _, t := range p.Tasks {
		if needsDeployment(t) && t.Binding == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func usedSlots(p *plan.Plan) map[string]string {
	used := make(map[string]string)
	for _, t := range p.Tasks {
		if t.Binding == nil {
			continue
		}
		used[slotKey(Candidate{ProcessServer: t.Binding.ProcessServer, Deployment: t.Binding.Deployment, Slot: t.Binding.Slot})] = t.ID
	}
	return used
}

func slotKey(c Candidate) string {
	return c.ProcessServer + "|" + c.Deployment + "|" + c.Slot
}

// findCandidates walks t's dependency ancestors nearest-first (t itself
// first, then each level of DependsOn in turn) for the first one whose
// own deployment group yields a non-empty candidate set, falling back
// to the default group when none do.
func findCandidates(p *plan.Plan, t *plan.Task, opts Options) []Candidate {
	visited := map[string]bool{t.ID: true}
	level := []*plan.Task{t}

	for len(level) > 0 {
		sort.Slice(level, func(i, j int) bool { return level[i].ID < level[j].ID })

		for _, node := range level {
			if node.DeploymentGroup == "" {
				continue
			}
			if g, ok := opts.Groups[node.DeploymentGroup]; ok {
				if cands := candidatesForGroup(g, t.Model); len(cands) > 0 {
					return cands
				}
			}
		}

		var next []*plan.Task
		for _, node := range level {
			for _, depID := range node.DependsOn {
				if visited[depID] {
					continue
				}
				dep := p.GetTask(depID)
				if dep == nil {
					continue
				}
				visited[depID] = true
				next = append(next, dep)
			}
		}
		level = next
	}

	if g, ok := opts.Groups[opts.DefaultGroup]; ok {
		return candidatesForGroup(g, t.Model)
	}
	return nil
}

func candidatesForGroup(g *Group, taskModel *model.Model) []Candidate {
	var out []Candidate
	for _, inst := range g.Instances {
		for _, slot := range inst.Model.Slots {
			if !taskModel.Fulfills(slot.TaskModel) {
				continue
			}
			out = append(out, Candidate{ProcessServer: inst.ProcessServer, Deployment: inst.Model.Name, Slot: slot.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessServer != out[j].ProcessServer {
			return out[i].ProcessServer < out[j].ProcessServer
		}
		if out[i].Deployment != out[j].Deployment {
			return out[i].Deployment < out[j].Deployment
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// disambiguate narrows candidates by t's orocos_name and then by its
// deployment hints, then allocates the survivor if its slot is still
// free. It returns nil whenever t cannot be placed: with an empty report
// when there are no candidates, and with a candidate report when more
// than one survives disambiguation or the one survivor's slot is
// already taken.
func disambiguate(t *plan.Task, candidates []Candidate, used map[string]string) (*Candidate, []errors.CandidateReport) {
	if len(candidates) == 0 {
		return nil, nil
	}

	working := candidates
	if t.OrocosName != "" {
		working = filterByOrocosName(working, t.OrocosName)
		if len(working) == 0 {
			return nil, reportFor(candidates, used, fmt.Sprintf("no slot matches orocos name %q", t.OrocosName))
		}
	}
	if len(working) > 1 {
		if narrowed := filterByHints(working, t.DeploymentHints); len(narrowed) > 0 {
			working = narrowed
		}
	}

	if len(working) != 1 {
		return nil, reportFor(working, used, "ambiguous: more than one candidate remains after disambiguation")
	}

	chosen := working[0]
	if usedBy, taken := used[slotKey(chosen)]; taken {
		return nil, []errors.CandidateReport{{
			ProcessServer: chosen.ProcessServer,
			Deployment:    chosen.Deployment,
			Slot:          chosen.Slot,
			Rejected:      "slot already in use",
			UsedBy:        usedBy,
		}}
	}
	return &chosen, nil
}

func filterByOrocosName(candidates []Candidate, name string) []Candidate {
	var matched []Candidate
	for _, c := range candidates {
		if c.Slot == name {
			matched = append(matched, c)
		}
	}
	return matched
}

func filterByHints(candidates []Candidate, hints []string) []Candidate {
	if len(hints) == 0 {
		return nil
	}
	var matched []Candidate
	for _, c := range candidates {
		for _, h := range hints {
			if h == c.Deployment {
				matched = append(matched, c)
				break
			}
			if ok, err := regexp.MatchString(h, c.Slot); err == nil && ok {
				matched = append(matched, c)
				break
			}
		}
	}
	return matched
}

func reportFor(candidates []Candidate, used map[string]string, reason string) []errors.CandidateReport {
	out := make([]errors.CandidateReport, len(candidates))
	for i, c := range candidates {
		out[i] = errors.CandidateReport{
			ProcessServer: c.ProcessServer,
			Deployment:    c.Deployment,
			Slot:          c.Slot,
			Rejected:      reason,
			UsedBy:        used[slotKey(c)],
		}
	}
	return out
}

// apply instantiates the deployed-task shadow for chosen and absorbs t
// into it, one task at a time, so the shadow's Binding is the only
// surviving record of the slot.
func apply(p *plan.Plan, t *plan.Task, opts Options, chosen Candidate) error {
	slotModel := lookupSlotModel(opts, chosen)
	if slotModel == nil {
		return errors.Internal("deployment slot references a task model not present in its group")
	}

	deployed := plan.NewTask(t.Component, t.Name, slotModel)
	deployed.State = plan.StatePending
	deployed.HasExecutionAgent = true
	deployed.Binding = &plan.Binding{ProcessServer: chosen.ProcessServer, Deployment: chosen.Deployment, Slot: chosen.Slot}

	if err := p.AddTask(deployed); err != nil {
		return err
	}
	return merge.Absorb(p, deployed.ID, t.ID)
}

func lookupSlotModel(opts Options, c Candidate) *model.Model {
	for _, g := range opts.Groups {
		for _, inst := range g.Instances {
			if inst.ProcessServer != c.ProcessServer || inst.Model.Name != c.Deployment {
				continue
			}
			for _, slot := range inst.Model.Slots {
				if slot.Name == c.Slot {
					return slot.TaskModel
				}
			}
		}
	}
	return nil
}
