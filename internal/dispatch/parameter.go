package dispatch

import (
	"context"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// parameterExecutable assigns a document-level input value into the kernel
// space under ParamName, making it visible to any kernel that Uses it.
type parameterExecutable struct{}

func (parameterExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	if err := ec.Space.Set(ctx, n.ParamName, n.ParamValue, n.ProgrammingLanguage); err != nil {
		return nil, err
	}
	return []docmodel.Patch{outputsPatch(n.NodeID, []interface{}{n.ParamValue})}, nil
}

func (parameterExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error { return nil }

// includeExecutable handles Include and Call nodes by returning no patches:
// n.Source is not resolved, fetched or parsed, here or in the command
// coordinator, and nothing is spliced into n.Content.
type includeExecutable struct{}

func (includeExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	return nil, nil
}

func (includeExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error { return nil }
