package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/internal/kernel/calc"
	"github.com/smilemakc/docengine/internal/kernel/exprkernel"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

func newTestSpace() *kernel.Space {
	return kernel.NewSpace(map[string]func() kernel.Kernel{
		"calc": func() kernel.Kernel { return calc.New() },
		"expr": func() kernel.Kernel { return exprkernel.New() },
	})
}

func newTestExecContext() ExecContext {
	g := graph.New(graph.NewRegistry(), logger.Default(), docmodel.NewIDMinter())
	return ExecContext{Space: newTestSpace(), Graph: g, Disp: New()}
}

func TestDispatcher_ForReturnsRegisteredExecutable(t *testing.T) {
	d := New()
	n := &docmodel.Node{Type: docmodel.NodeCodeChunk}
	assert.NotNil(t, d.For(n))

	unknown := &docmodel.Node{Type: docmodel.NodeParagraph}
	assert.Nil(t, d.For(unknown))
}

func TestCodeExecutable_ExecSetsOutputs(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 21 * 2"}

	patches, err := codeExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "outputs", patches[0].Path[0].Name)
}

func TestCodeExecutable_ExecErrorStillPatchesMessages(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "unknown + 1"}

	patches, err := codeExecutable{}.Execute(context.Background(), ec, n)
	assert.Error(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "executionMessages", patches[0].Path[0].Name)
}

func TestIfExecutable_ActivatesFirstTruthyClause(t *testing.T) {
	ec := newTestExecContext()
	require.NoError(t, ec.Space.Set(context.Background(), "threshold", 10, "expr"))

	falseClause := &docmodel.IfClause{NodeID: "cl0", ProgrammingLanguage: "expr", Code: "threshold > 50"}
	trueClause := &docmodel.IfClause{NodeID: "cl1", ProgrammingLanguage: "expr", Code: "threshold > 5"}
	elseClause := &docmodel.IfClause{NodeID: "cl2", ProgrammingLanguage: "expr", Code: ""}
	n := &docmodel.Node{NodeID: "iff", Type: docmodel.NodeIf, Clauses: []*docmodel.IfClause{falseClause, trueClause, elseClause}}

	_, err := ifExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)

	require.NotNil(t, falseClause.IsActive)
	assert.False(t, *falseClause.IsActive)
	require.NotNil(t, trueClause.IsActive)
	assert.True(t, *trueClause.IsActive)
	require.NotNil(t, elseClause.IsActive)
	assert.False(t, *elseClause.IsActive)
}

func TestIfExecutable_ErroredClauseLeavesIsActiveNil(t *testing.T) {
	ec := newTestExecContext()

	erroredClause := &docmodel.IfClause{NodeID: "cl0", ProgrammingLanguage: "expr", Code: "totally_undefined_name"}
	elseClause := &docmodel.IfClause{NodeID: "cl1", ProgrammingLanguage: "expr", Code: ""}
	n := &docmodel.Node{NodeID: "iff", Type: docmodel.NodeIf, Clauses: []*docmodel.IfClause{erroredClause, elseClause}}

	_, err := ifExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err) // a clause error doesn't abort the whole If

	assert.Nil(t, erroredClause.IsActive)
	assert.NotEmpty(t, erroredClause.Errors)
	require.NotNil(t, elseClause.IsActive)
	assert.True(t, *elseClause.IsActive)
}

func TestIfExecutable_AllClausesFalseActivatesNone(t *testing.T) {
	ec := newTestExecContext()
	require.NoError(t, ec.Space.Set(context.Background(), "threshold", 1, "expr"))

	c := &docmodel.IfClause{NodeID: "cl0", ProgrammingLanguage: "expr", Code: "threshold > 50"}
	n := &docmodel.Node{NodeID: "iff", Type: docmodel.NodeIf, Clauses: []*docmodel.IfClause{c}}

	_, err := ifExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.NotNil(t, c.IsActive)
	assert.False(t, *c.IsActive)
}

func TestForExecutable_AssignsEachItemAndRecordsOutputs(t *testing.T) {
	ec := newTestExecContext()
	require.NoError(t, ec.Space.Set(context.Background(), "items", []interface{}{1, 2, 3}, "expr"))
	n := &docmodel.Node{NodeID: "for1", Type: docmodel.NodeFor, ProgrammingLanguage: "expr", Code: "items", Variable: "item"}

	patches, err := forExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.Len(t, patches, 1)

	v, err := ec.Space.Get("item")
	require.NoError(t, err)
	assert.Equal(t, 3, v) // last assigned value wins
}

func TestForExecutable_RespectsMaxLoops(t *testing.T) {
	ec := newTestExecContext()
	require.NoError(t, ec.Space.Set(context.Background(), "items", []interface{}{1, 2, 3, 4, 5}, "expr"))
	n := &docmodel.Node{NodeID: "for1", Type: docmodel.NodeFor, ProgrammingLanguage: "expr", Code: "items", Variable: "item", MaxLoops: 2}

	patches, err := forExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	outputsOp := patches[len(patches)-1]
	// ClearOp + one PushOp per surviving item
	assert.Len(t, outputsOp.Ops, 3)
}

func TestParameterExecutable_SetsValueInSpace(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "p1", Type: docmodel.NodeParameter, ParamName: "threshold", ParamValue: 10, ProgrammingLanguage: "expr"}

	patches, err := parameterExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.Len(t, patches, 1)

	v, err := ec.Space.Get("threshold")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestIncludeExecutable_IsNoOp(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "inc1", Type: docmodel.NodeInclude}
	patches, err := includeExecutable{}.Execute(context.Background(), ec, n)
	assert.NoError(t, err)
	assert.Nil(t, patches)
}

func TestPromptBlockExecutable_InfersTargetWhenUnset(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "pb1", Type: docmodel.NodePromptBlock, InstructionType: "edit", Hint: "tighten the prose"}

	patches, err := promptBlockExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.NotNil(t, n.Target)
	assert.Equal(t, "edit/tighten the prose", *n.Target)

	require.Len(t, n.Content, 1)
	assert.Equal(t, docmodel.NodeCodeExpression, n.Content[0].Type)
	assert.NotEmpty(t, patches)
}

func TestPromptBlockExecutable_KeepsExplicitTarget(t *testing.T) {
	ec := newTestExecContext()
	target := "custom/prompt"
	n := &docmodel.Node{NodeID: "pb1", Type: docmodel.NodePromptBlock, Target: &target}

	patches, err := promptBlockExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	assert.Equal(t, "custom/prompt", *n.Target)
	assert.NotEmpty(t, patches) // content subtree is still replicated and executed
}

func TestPromptBlockExecutable_ReplicatedSubtreeIsExecuted(t *testing.T) {
	ec := newTestExecContext()
	target := "custom/prompt"
	n := &docmodel.Node{NodeID: "pb1", Type: docmodel.NodePromptBlock, Target: &target}

	_, err := promptBlockExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)

	require.Len(t, n.Content, 1)
	child := n.Content[0]
	assert.NotEmpty(t, child.NodeID)
	assert.NotEqual(t, n.NodeID, child.NodeID)
	assert.NotEmpty(t, child.CompilationDigest.SemanticDigest, "graph.Compile should have digested the replicated subtree")
}

func TestChatExecutable_SeedsFirstMessageFromQuery(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "cht1", Type: docmodel.NodeChat, Query: "summarize this"}

	patches, err := chatExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.Len(t, n.Messages, 2) // seeded user message + one default model message
	assert.Equal(t, "user", n.Messages[0].Role)
	assert.Equal(t, "model", n.Messages[1].Role)
	assert.NotEmpty(t, patches)
}

func TestChatExecutable_PushedPatchesMatchAppendedMessages(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "cht1", Type: docmodel.NodeChat, Query: "summarize this"}

	patches, err := chatExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.Len(t, patches, 2)

	for i, patch := range patches {
		require.Len(t, patch.Ops, 1)
		pushed, ok := patch.Ops[0].Value.(*docmodel.ChatMessage)
		require.True(t, ok, "pushed value should be the *ChatMessage appended to n.Messages, not a bare string")
		assert.Same(t, n.Messages[i], pushed)
	}
}

func TestChatExecutable_OneMessagePerModelWithReplicates(t *testing.T) {
	ec := newTestExecContext()
	n := &docmodel.Node{NodeID: "cht1", Type: docmodel.NodeChat, ModelIDs: []string{"gpt", "claude"}, Replicates: 3}

	_, err := chatExecutable{}.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	require.Len(t, n.Messages, 2)
	for _, msg := range n.Messages {
		assert.Len(t, msg.Candidates, 3)
	}
}
