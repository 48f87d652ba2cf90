package dispatch

import (
	"context"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// codeExecutable handles CodeChunk and CodeExpression nodes: both simply
// execute n.Code in n.ProgrammingLanguage's kernel and record outputs and
// diagnostics, matching the original execute.rs CodeChunk/CodeExpression
// arms (they differ only in how a renderer later treats a single output,
// which is outside this engine's concern).
type codeExecutable struct{}

func (codeExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	relations := ec.Graph.Relations(n.NodeID)
	values, msgs, err := ec.Space.Exec(ctx, n.Code, n.ProgrammingLanguage, relations)

	var patches []docmodel.Patch
	if len(msgs) > 0 {
		execMsgs := make([]interface{}, 0, len(msgs))
		for _, m := range msgs {
			execMsgs = append(execMsgs, docmodel.ExecutionMessage{Kind: m.Kind, Message: m.Message})
		}
		ops := []docmodel.PatchOp{docmodel.ClearOp()}
		for _, m := range execMsgs {
			ops = append(ops, docmodel.PushOp(m))
		}
		patches = append(patches, docmodel.Patch{
			NodeID: n.NodeID,
			Path:   docmodel.PatchPath{docmodel.Property("executionMessages")},
			Ops:    ops,
		})
	}
	if err != nil {
		return patches, err
	}
	patches = append(patches, outputsPatch(n.NodeID, values))
	return patches, nil
}

func (codeExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error {
	return nil
}
