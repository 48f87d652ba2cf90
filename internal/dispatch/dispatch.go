// Package dispatch implements the executable dispatch component (C5): a
// registry of per-node-kind behaviours, grounded on the executor-by-type
// lookup in the teacher's node_executor.go/executor.Manager and on the
// per-node-kind modules under the original Stencila node-execute crate
// (execute.rs's NodeExecutable trait impls, if_.rs-equivalent clause
// evaluation, and chat.rs/prompt_block.rs for the collaborator node kinds).
package dispatch

import (
	"context"

	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// ExecContext carries the collaborators one node's Execute needs: the
// kernel space to run code in, the resource graph to read relations and
// purity from, and whether the planner scheduled this step as a fork (pure,
// side-effect free) execution.
type ExecContext struct {
	Space  *kernel.Space
	Graph  *graph.Graph
	IsFork bool

	// Disp lets an Executable recursively dispatch into nodes it splices
	// into the tree itself, such as a prompt block's resolved content.
	Disp *Dispatcher
}

// Executable is the per-node-kind behaviour contract. Compilation is done
// by internal/graph, outside this interface. Execute is invoked by
// internal/runner; neither the runner nor the command coordinator calls
// Interrupt.
type Executable interface {
	Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error)
	Interrupt(ctx context.Context, n *docmodel.Node) error
}

// Dispatcher maps a NodeType to its Executable, the Go analogue of the
// teacher's executor.Manager type registry.
type Dispatcher struct {
	byType map[docmodel.NodeType]Executable
}

// New constructs a Dispatcher with the built-in node kinds registered.
func New() *Dispatcher {
	d := &Dispatcher{byType: make(map[docmodel.NodeType]Executable)}
	d.Register(docmodel.NodeCodeChunk, codeExecutable{})
	d.Register(docmodel.NodeCodeExpression, codeExecutable{})
	d.Register(docmodel.NodeIf, ifExecutable{})
	d.Register(docmodel.NodeFor, forExecutable{})
	d.Register(docmodel.NodeParameter, parameterExecutable{})
	d.Register(docmodel.NodePromptBlock, promptBlockExecutable{})
	d.Register(docmodel.NodeChat, chatExecutable{})
	d.Register(docmodel.NodeInclude, includeExecutable{})
	d.Register(docmodel.NodeCall, includeExecutable{})
	return d
}

// Register installs or overrides the Executable for a node kind.
func (d *Dispatcher) Register(t docmodel.NodeType, e Executable) { d.byType[t] = e }

// For returns the Executable registered for n's kind, or nil if none.
func (d *Dispatcher) For(n *docmodel.Node) Executable { return d.byType[n.Type] }

// outputsPatch replaces a node's outputs list wholesale: a Clear followed by
// one Push per value, matching the "total ops" patch invariant.
func outputsPatch(nodeID string, values []interface{}) docmodel.Patch {
	ops := make([]docmodel.PatchOp, 0, len(values)+1)
	ops = append(ops, docmodel.ClearOp())
	for _, v := range values {
		ops = append(ops, docmodel.PushOp(v))
	}
	return docmodel.Patch{
		NodeID: nodeID,
		Path:   docmodel.PatchPath{docmodel.Property("outputs")},
		Ops:    ops,
	}
}
