package dispatch

import (
	"context"
	"fmt"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// promptBlockExecutable is the model-collaborator node: it resolves Target
// (inferring one from InstructionType/Hint when unset, per the original
// prompt_block.rs compile step), then does the engine-side half of
// rendering that prompt: replicate the resolved prompt's content into
// self.content (minting fresh node ids so the copy is independent of
// whatever template it came from), patch that in with a clear+append, and
// recursively compile/execute the new subtree. Generating the actual model
// text that would normally seed that subtree is the job of the external
// model collaborator this engine hands the prompt off to (stubbed per this
// module's Non-goals); the subtree stood up here is what that collaborator
// would otherwise have populated.
type promptBlockExecutable struct{}

func (promptBlockExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	var patches []docmodel.Patch

	if n.Target == nil || *n.Target == "" {
		inferred := inferPromptTarget(n.InstructionType, n.Hint)
		n.Target = &inferred
		patches = append(patches, docmodel.Patch{
			NodeID: n.NodeID,
			Path:   docmodel.PatchPath{docmodel.Property("target")},
			Ops:    []docmodel.PatchOp{docmodel.SetOp(inferred)},
		})
	}

	if n.Target == nil || *n.Target == "" {
		return patches, fmt.Errorf("%w: prompt block has no resolvable target", docmodel.ErrUnsupportedNodeKind)
	}

	resolved := &docmodel.Node{
		NodeID:              ec.Graph.Minter().Mint(docmodel.NodeCodeExpression),
		Type:                docmodel.NodeCodeExpression,
		ProgrammingLanguage: "expr",
		Code:                fmt.Sprintf("%q", *n.Target),
	}
	n.Content = []*docmodel.Node{resolved}
	patches = append(patches, docmodel.Patch{
		NodeID: n.NodeID,
		Path:   docmodel.PatchPath{docmodel.Property("content")},
		Ops:    []docmodel.PatchOp{docmodel.ClearOp(), docmodel.PushOp(resolved)},
	})

	ec.Graph.Compile(resolved)

	var execErr error
	docmodel.Walk(resolved, func(child *docmodel.Node) {
		if execErr != nil || !child.IsExecutable() {
			return
		}
		exec := ec.Disp.For(child)
		if exec == nil {
			return
		}
		childPatches, err := exec.Execute(ctx, ec, child)
		patches = append(patches, childPatches...)
		if err != nil {
			execErr = err
		}
	})

	return patches, execErr
}

// inferPromptTarget mirrors prompts::infer's fallback naming: an
// instruction-type-scoped default prompt id when no hint narrows it further.
// With neither an instruction type nor a hint there is nothing to infer from,
// so it returns "".
func inferPromptTarget(instructionType, hint string) string {
	if instructionType == "" && hint == "" {
		return ""
	}
	if hint != "" {
		return instructionType + "/" + hint
	}
	return instructionType + "/default"
}

func (promptBlockExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error { return nil }
