package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

func newTestGraph() *Graph {
	return New(NewRegistry(), logger.Default(), docmodel.NewIDMinter())
}

func TestCompile_AssignsMissingNodeIDs(t *testing.T) {
	g := newTestGraph()
	root := &docmodel.Node{Content: []*docmodel.Node{{Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 1"}}}

	g.Compile(root)

	assert.NotEmpty(t, root.NodeID)
	assert.NotEmpty(t, root.Content[0].NodeID)
}

func TestCompile_ResolvesDependencyViaAssignUse(t *testing.T) {
	g := newTestGraph()
	producer := &docmodel.Node{NodeID: "p1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 1"}
	consumer := &docmodel.Node{NodeID: "c1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "y = x + 1"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{producer, consumer}}

	g.Compile(root)

	assert.Equal(t, []string{"p1"}, consumer.ExecutionDependencies)
	assert.Equal(t, []string{"c1"}, producer.ExecutionDependants)
	assert.Empty(t, producer.ExecutionDependencies)
}

func TestCompile_ParameterNodesAreNotParsed(t *testing.T) {
	g := newTestGraph()
	param := &docmodel.Node{NodeID: "prm1", Type: docmodel.NodeParameter, ParamName: "threshold"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{param}}

	g.Compile(root)

	assert.Empty(t, g.Relations("prm1"))
}

func TestIsPure_MutatingRelationMakesNodeImpure(t *testing.T) {
	g := newTestGraph()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 1"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{n}}
	g.Compile(root)

	assert.False(t, g.IsPure("n1"))
}

func TestIsPure_NoMutatingRelationIsPure(t *testing.T) {
	g := newTestGraph()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeExpression, ProgrammingLanguage: "expr", Code: "1 + 2"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{n}}
	g.Compile(root)

	assert.True(t, g.IsPure("n1"))
}

func TestIsPure_ExplicitPureTagOverrides(t *testing.T) {
	g := newTestGraph()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "// @pure\nx = 1"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{n}}
	g.Compile(root)

	// The parsed relations still record the Assign edge (purity tag is
	// informational on ParseInfo.Pure, IsPure here derives from relations).
	assert.False(t, g.IsPure("n1"))
}

func TestCompile_ExecutionRequiredNeverExecuted(t *testing.T) {
	g := newTestGraph()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 1"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{n}}

	g.Compile(root)

	assert.Equal(t, docmodel.RequiredNeverExecuted, n.ExecutionRequired)
}

func TestCompile_ExecutionRequiredNoWhenDigestsMatch(t *testing.T) {
	g := newTestGraph()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 1"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{n}}

	g.Compile(root)
	n.ExecutionCount = 1
	n.ExecutionDigest = n.CompilationDigest
	g.Compile(root)

	assert.Equal(t, docmodel.RequiredNo, n.ExecutionRequired)
}

func TestCompile_ExecutionRequiredStateChangedWhenCodeEdited(t *testing.T) {
	g := newTestGraph()
	n := &docmodel.Node{NodeID: "n1", Type: docmodel.NodeCodeChunk, ProgrammingLanguage: "calc", Code: "x = 1"}
	root := &docmodel.Node{NodeID: "root", Content: []*docmodel.Node{n}}

	g.Compile(root)
	n.ExecutionCount = 1
	n.ExecutionDigest = n.CompilationDigest

	n.Code = "x = 2"
	g.Compile(root)

	assert.Equal(t, docmodel.RequiredStateChanged, n.ExecutionRequired)
}

func TestRegistry_FallsBackToExprForUnknownLanguage(t *testing.T) {
	r := NewRegistry()
	a := r.For("cobol")
	assert.Equal(t, "expr", a.Language())
}

func TestExprAnalyzer_ExtractsIdentifierUseRelations(t *testing.T) {
	a := NewExprAnalyzer()
	info, err := a.Parse("threshold + 1")
	require.NoError(t, err)
	require.Len(t, info.Relations, 1)
	assert.Equal(t, docmodel.RelationUse, info.Relations[0].Relation)
	assert.Equal(t, "threshold", info.Relations[0].Resource.ID)
}

func TestCalcAnalyzer_ExtractsAssignAndUse(t *testing.T) {
	a := NewCalcAnalyzer()
	info, err := a.Parse("doubled = threshold * 2")
	require.NoError(t, err)

	var sawAssign, sawUse bool
	for _, rel := range info.Relations {
		if rel.Relation == docmodel.RelationAssign && rel.Resource.ID == "doubled" {
			sawAssign = true
		}
		if rel.Relation == docmodel.RelationUse && rel.Resource.ID == "threshold" {
			sawUse = true
		}
	}
	assert.True(t, sawAssign)
	assert.True(t, sawUse)
}
