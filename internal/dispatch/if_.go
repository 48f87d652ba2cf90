package dispatch

import (
	"context"

	"github.com/smilemakc/docengine/internal/kernel/exprkernel"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// ifExecutable evaluates each clause's condition in document order and
// activates the first truthy one (an else clause has empty Code and is
// always truthy), deactivating the rest, grounded on the original Stencila
// if_.rs clause-activation loop.
type ifExecutable struct{}

func (ifExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	var patches []docmodel.Patch
	activated := false

	for _, clause := range n.Clauses {
		if activated {
			active := false
			clause.IsActive = &active
			patches = append(patches, docmodel.Patch{
				NodeID: clause.NodeID,
				Path:   docmodel.PatchPath{docmodel.Property("isActive")},
				Ops:    []docmodel.PatchOp{docmodel.SetOp(active)},
			})
			continue
		}

		truthy, err := evalClause(ctx, ec, clause)
		if err != nil {
			clause.Errors = append(clause.Errors, docmodel.ExecutionMessage{
				Kind: docmodel.MessageKindError, Message: err.Error(),
			})
			clause.IsActive = nil
			continue
		}

		active := truthy
		if active {
			activated = true
		}
		clause.IsActive = &active
		patches = append(patches, docmodel.Patch{
			NodeID: clause.NodeID,
			Path:   docmodel.PatchPath{docmodel.Property("isActive")},
			Ops:    []docmodel.PatchOp{docmodel.SetOp(active)},
		})
	}
	return patches, nil
}

func evalClause(ctx context.Context, ec ExecContext, clause *docmodel.IfClause) (bool, error) {
	if clause.Code == "" {
		return true, nil
	}
	values, _, err := ec.Space.Exec(ctx, clause.Code, clause.ProgrammingLanguage, ec.Graph.Relations(clause.NodeID))
	if err != nil {
		return false, err
	}
	if len(values) == 0 {
		return false, nil
	}
	return exprkernel.CoerceTruthy(values[0]), nil
}

func (ifExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error { return nil }
