// Package planner implements the execution planner component (C3): turning
// a resource graph and a requested-node set into an ordered sequence of
// parallel-safe stages, adapted from the workflow engine's
// buildDAG/topologicalSort/wave-splitting helpers and generalized from
// workflow nodes to document nodes.
package planner

import (
	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Step is one node's planned execution within a stage.
type Step struct {
	NodeID     string
	KernelName string
	IsFork     bool
}

// Stage is a set of steps safely runnable in parallel: every dependency of
// every step in this stage already finished in an earlier stage.
type Stage struct {
	Steps []Step
}

// Plan is an ordered sequence of stages for one ExecuteDocument/ExecuteNodes
// command.
type Plan struct {
	Stages []Stage
}

// NodeIDs returns every node id covered by the plan, in stage/step order.
func (p Plan) NodeIDs() []string {
	var ids []string
	for _, st := range p.Stages {
		for _, step := range st.Steps {
			ids = append(ids, step.NodeID)
		}
	}
	return ids
}

// Build computes a Plan per §4.3: required = requested ∪ {nodes needing
// execution}, extended by transitive dependants, topologically staged with
// ties broken by document order, cycles broken by removing the first
// back-edge encountered in a stable walk.
func Build(root *docmodel.Node, g *graph.Graph, requested []string) (Plan, []string) {
	order := documentOrder(root)
	index := docmodel.Index(root)

	requiredSet := make(map[string]bool)
	if len(requested) == 0 {
		for _, id := range order {
			n := index[id]
			if n.IsExecutable() && permitsExecution(n) {
				requiredSet[id] = true
			}
		}
	} else {
		for _, id := range requested {
			requiredSet[id] = true
		}
	}
	for _, id := range order {
		n := index[id]
		if n.IsExecutable() && n.ExecutionRequired != docmodel.RequiredNo && permitsExecution(n) {
			requiredSet[id] = true
		}
	}

	extendByDependants(requiredSet, index)

	var warnings []string
	staged, brokenEdges := stageOf(order, index, requiredSet)
	for _, e := range brokenEdges {
		warnings = append(warnings, "planner: cyclic dependency, dropped back-edge "+e)
	}

	var plan Plan
	for _, ids := range staged {
		stage := Stage{}
		for _, id := range ids {
			n := index[id]
			stage.Steps = append(stage.Steps, Step{
				NodeID:     id,
				KernelName: n.ProgrammingLanguage,
				IsFork:     g.IsPure(id),
			})
		}
		plan.Stages = append(plan.Stages, stage)
	}
	return plan, warnings
}

func permitsExecution(n *docmodel.Node) bool {
	return n.ExecutionMode != docmodel.ModeLocked
}

func documentOrder(root *docmodel.Node) []string {
	var order []string
	docmodel.Walk(root, func(n *docmodel.Node) {
		if n.NodeID != "" {
			order = append(order, n.NodeID)
		}
	})
	return order
}

// extendByDependants adds transitive dependants under Assign/Alter/Write: a
// write causes re-execution of downstream Uses, per §4.3 step 2.
func extendByDependants(required map[string]bool, index map[string]*docmodel.Node) {
	changed := true
	for changed {
		changed = false
		for id := range snapshotKeys(required) {
			n := index[id]
			if n == nil {
				continue
			}
			for _, dep := range n.ExecutionDependants {
				if !required[dep] {
					required[dep] = true
					changed = true
				}
			}
		}
	}
}

func snapshotKeys(m map[string]bool) map[string]bool {
	cp := make(map[string]bool, len(m))
	for k := range m {
		cp[k] = true
	}
	return cp
}

// stageOf performs a Kahn-style topological layering restricted to the
// required set, breaking cycles deterministically by dropping the first
// back-edge found in a stable (document-order) DFS.
func stageOf(order []string, index map[string]*docmodel.Node, required map[string]bool) ([][]string, []string) {
	depsOf := func(id string) []string {
		if n := index[id]; n != nil {
			return n.ExecutionDependencies
		}
		return nil
	}

	broken := breakCycles(order, required, depsOf)
	brokenSet := make(map[string]bool, len(broken))
	for _, e := range broken {
		brokenSet[e] = true
	}

	inDegree := make(map[string]int)
	adjDependants := make(map[string][]string) // dep -> dependants within `required`

	for _, id := range order {
		if !required[id] {
			continue
		}
		deg := 0
		for _, dep := range depsOf(id) {
			if required[dep] && !brokenSet[id+"->"+dep] {
				deg++
				adjDependants[dep] = append(adjDependants[dep], id)
			}
		}
		inDegree[id] = deg
	}

	var stages [][]string
	remaining := make(map[string]bool, len(inDegree))
	for id := range inDegree {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		var stage []string
		for _, id := range order {
			if remaining[id] && inDegree[id] == 0 {
				stage = append(stage, id)
			}
		}
		if len(stage) == 0 {
			// Should not happen after breakCycles, but guard against it by
			// forcing progress on the document-first remaining node.
			for _, id := range order {
				if remaining[id] {
					stage = append(stage, id)
					break
				}
			}
		}
		stages = append(stages, stage)
		for _, id := range stage {
			delete(remaining, id)
			for _, dependant := range adjDependants[id] {
				if remaining[dependant] {
					inDegree[dependant]--
				}
			}
		}
	}
	return stages, broken
}

// breakCycles walks the dependency graph restricted to required in document
// order, and whenever a DFS revisits a node on its current recursion path,
// drops that edge so layering can proceed, logged as a warning per §4.3's
// "cycles break at the first back-edge encountered in a stable walk".
func breakCycles(order []string, required map[string]bool, depsOf func(string) []string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var broken []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		for _, dep := range depsOf(id) {
			if !required[dep] {
				continue
			}
			if color[dep] == gray {
				broken = append(broken, id+"->"+dep)
				continue
			}
			if color[dep] == white {
				visit(dep)
			}
		}
		color[id] = black
	}

	for _, id := range order {
		if required[id] && color[id] == white {
			visit(id)
		}
	}
	return broken
}
