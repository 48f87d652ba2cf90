package dispatch

import (
	"context"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// forExecutable evaluates n.Code once to obtain an iterable sequence, then
// assigns each item to n.Variable in turn (so the last item is what stays
// assigned) and records the items as Outputs, bounded by MaxLoops, grounded
// on the original for-loop arm in execute.rs. Content is not executed, once
// per item or otherwise.
type forExecutable struct{}

func (forExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	relations := ec.Graph.Relations(n.NodeID)
	values, msgs, err := ec.Space.Exec(ctx, n.Code, n.ProgrammingLanguage, relations)
	if err != nil {
		return nil, err
	}

	items := flattenIterable(values)
	if n.MaxLoops > 0 && len(items) > n.MaxLoops {
		items = items[:n.MaxLoops]
	}

	for _, item := range items {
		if err := ec.Space.Set(ctx, n.Variable, item, n.ProgrammingLanguage); err != nil {
			return nil, err
		}
	}

	var patches []docmodel.Patch
	if len(msgs) > 0 {
		ops := []docmodel.PatchOp{docmodel.ClearOp()}
		for _, m := range msgs {
			ops = append(ops, docmodel.PushOp(docmodel.ExecutionMessage{Kind: m.Kind, Message: m.Message}))
		}
		patches = append(patches, docmodel.Patch{
			NodeID: n.NodeID,
			Path:   docmodel.PatchPath{docmodel.Property("executionMessages")},
			Ops:    ops,
		})
	}
	patches = append(patches, outputsPatch(n.NodeID, items))
	return patches, nil
}

func flattenIterable(values []interface{}) []interface{} {
	if len(values) == 0 {
		return nil
	}
	if seq, ok := values[0].([]interface{}); ok {
		return seq
	}
	return values
}

func (forExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error { return nil }
