package graph

import (
	"sort"
	"sync"

	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Graph is the compiled resource multigraph for one document: per-node
// relation edges plus the derived dependency/dependant id lists that the
// planner and runner consume. It is rebuilt (incrementally, node by node)
// every CompileDocument.
type Graph struct {
	mu       sync.RWMutex
	registry *Registry
	logger   *logger.Logger
	minter   *docmodel.IDMinter

	// nodeID -> relation edges parsed from that node's code.
	relations map[string][]docmodel.RelationEdge
	// symbol name -> set of node ids that Assign/Alter/Write it.
	assigners map[string]map[string]bool
}

// New builds an empty Graph using reg for per-language parsing.
func New(reg *Registry, log *logger.Logger, minter *docmodel.IDMinter) *Graph {
	return &Graph{
		registry:  reg,
		logger:    log,
		minter:    minter,
		relations: make(map[string][]docmodel.RelationEdge),
		assigners: make(map[string]map[string]bool),
	}
}

// Minter returns the node id minter this graph was built with, so
// executables that splice new subtrees into the document can assign ids
// consistent with the rest of the engine's scheme.
func (g *Graph) Minter() *docmodel.IDMinter {
	return g.minter
}

// Compile walks root in document order per §4.1, assigning ids, parsing
// code, and computing each executable node's CompilationDigest and
// ExecutionRequired.
func (g *Graph) Compile(root *docmodel.Node) {
	// Pass 1: mint ids and parse every node, recording relation edges so
	// pass 2 can resolve Assign-side dependants (a node doesn't know who
	// will Use its symbols until the whole tree has been parsed).
	docmodel.Walk(root, func(n *docmodel.Node) {
		if n.NodeID == "" {
			n.NodeID = g.minter.Mint(n.Type)
		}
		if !n.IsExecutable() || n.Type == docmodel.NodeParameter {
			return
		}
		g.parseNode(n)
	})

	// Pass 2: resolve dependants now that every assigner is known, and
	// compute digests which depend on the full dependency id set.
	docmodel.Walk(root, func(n *docmodel.Node) {
		if !n.IsExecutable() {
			return
		}
		g.resolveDependencies(n)
		g.computeDigest(n)
	})
}

func (g *Graph) parseNode(n *docmodel.Node) {
	lang := n.ProgrammingLanguage
	analyzer := g.registry.For(lang)
	info, err := analyzer.Parse(n.Code)
	if err != nil {
		n.CompilationMessages = append(n.CompilationMessages, docmodel.ExecutionMessage{
			Kind:    docmodel.MessageKindParseError,
			Message: err.Error(),
		})
	}

	g.mu.Lock()
	g.relations[n.NodeID] = info.Relations
	for _, rel := range info.Relations {
		if rel.Relation == docmodel.RelationAssign || rel.Relation == docmodel.RelationAlter || rel.Relation == docmodel.RelationWrite {
			set, ok := g.assigners[rel.Resource.ID]
			if !ok {
				set = make(map[string]bool)
				g.assigners[rel.Resource.ID] = set
			}
			set[n.NodeID] = true
		}
	}
	g.mu.Unlock()

	n.ExecutionTags = extractTags(n.Code)
	n.ExecutionMode = deriveMode(n)
	_ = info.Pure // an explicit @pure/@impure tag is parsed but not stored; IsPure ignores it
}

// extractTags pulls @tag values from code, independent of parseNode's
// language-specific relation extraction.
func extractTags(code string) []string {
	_, tags := scanTags(code)
	return tags
}

func deriveMode(n *docmodel.Node) docmodel.ExecutionMode {
	if n.ExecutionMode != "" {
		return n.ExecutionMode
	}
	return docmodel.ModeAuto
}

// IsPure reports whether n is pure, that is, has no Assign/Alter/Write/Import
// relation. Explicit @pure/@impure tags in the code are not consulted.
func (g *Graph) IsPure(nodeID string) bool {
	g.mu.RLock()
	rels := g.relations[nodeID]
	g.mu.RUnlock()
	for _, rel := range rels {
		if rel.Relation.IsMutating() {
			return false
		}
	}
	return true
}

func (g *Graph) resolveDependencies(n *docmodel.Node) {
	g.mu.RLock()
	rels := g.relations[n.NodeID]
	g.mu.RUnlock()

	depSet := make(map[string]bool)
	for _, rel := range rels {
		if rel.Relation == docmodel.RelationUse || rel.Relation == docmodel.RelationRead || rel.Relation == docmodel.RelationImport {
			g.mu.RLock()
			for assignerID := range g.assigners[rel.Resource.ID] {
				if assignerID != n.NodeID {
					depSet[assignerID] = true
				}
			}
			g.mu.RUnlock()
		}
	}
	n.ExecutionDependencies = sortedKeys(depSet)

	// Dependants: nodes that Use what this node Assigns/Alters/Writes.
	dependantSet := make(map[string]bool)
	for _, rel := range rels {
		if rel.Relation.IsMutating() {
			g.mu.RLock()
			for other, edges := range g.relations {
				if other == n.NodeID {
					continue
				}
				for _, e := range edges {
					if e.Relation == docmodel.RelationUse && e.Resource.ID == rel.Resource.ID {
						dependantSet[other] = true
					}
				}
			}
			g.mu.RUnlock()
		}
	}
	n.ExecutionDependants = sortedKeys(dependantSet)
}

func (g *Graph) computeDigest(n *docmodel.Node) {
	stateDigest := docmodel.HashStrings(n.Code, n.ProgrammingLanguage)
	semanticDigest := docmodel.SortedHash(n.ExecutionDependencies)

	upstream := make([]string, 0, len(n.ExecutionDependencies))
	// the dependencies digest hashes the direct dependency ids, not their
	// state digests, so it changes only when the dependency set changes;
	// nothing later replaces it with a hash of upstream state.
	upstream = append(upstream, n.ExecutionDependencies...)
	dependenciesDigest := docmodel.SortedHash(upstream)

	digest := docmodel.CompilationDigest{
		StateDigest:        stateDigest,
		SemanticDigest:     semanticDigest,
		DependenciesDigest: dependenciesDigest,
	}
	n.CompilationDigest = digest

	n.ExecutionRequired = requiredFor(n, digest)
}

func requiredFor(n *docmodel.Node, digest docmodel.CompilationDigest) docmodel.ExecutionRequired {
	if n.ExecutionCount == 0 {
		return docmodel.RequiredNeverExecuted
	}
	if n.ExecutionDigest.StateDigest == "" {
		return docmodel.RequiredNeverExecuted
	}
	if n.ExecutionDigest.StateDigest != digest.StateDigest {
		return docmodel.RequiredStateChanged
	}
	if n.ExecutionDigest.SemanticDigest != digest.SemanticDigest {
		return docmodel.RequiredSemanticsChanged
	}
	if n.ExecutionDigest.DependenciesDigest != digest.DependenciesDigest {
		return docmodel.RequiredDependenciesChanged
	}
	return docmodel.RequiredNo
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Relations returns the parsed relation edges for a node, used by the
// kernel space's exec() to decide which symbols need mirroring.
func (g *Graph) Relations(nodeID string) []docmodel.RelationEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relations[nodeID]
}
