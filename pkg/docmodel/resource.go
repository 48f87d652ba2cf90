package docmodel

// ResourceKind tags the closed variant of resources tracked by the
// dependency graph: Resource = CodeNode(id) | Symbol(name,kind) | File(path)
// | Module(name) | None.
type ResourceKind string

const (
	ResourceCodeNode ResourceKind = "CodeNode"
	ResourceSymbol   ResourceKind = "Symbol"
	ResourceFile     ResourceKind = "File"
	ResourceModule   ResourceKind = "Module"
	ResourceNone     ResourceKind = "None"
)

// Resource identifies one node of the dependency multigraph.
type Resource struct {
	Kind ResourceKind
	ID   string // CodeNode: node id. Symbol: name. File: path. Module: name.
	Type string // Symbol: kind hint ("variable", "function", ...)
}

// CodeNodeResource builds a Resource referring to an executable node.
func CodeNodeResource(nodeID string) Resource { return Resource{Kind: ResourceCodeNode, ID: nodeID} }

// SymbolResource builds a Resource referring to a named symbol.
func SymbolResource(name, kind string) Resource {
	return Resource{Kind: ResourceSymbol, ID: name, Type: kind}
}

// Relation enumerates the edge labels of the resource graph.
type Relation string

const (
	RelationAssign  Relation = "Assign"
	RelationAlter   Relation = "Alter"
	RelationUse     Relation = "Use"
	RelationRead    Relation = "Read"
	RelationWrite   Relation = "Write"
	RelationImport  Relation = "Import"
	RelationDeclare Relation = "Declare"
	RelationConvert Relation = "Convert"
)

// IsMutating reports whether a relation denotes a mutation of its resource,
// the set used to decide a node's purity per §4.1.
func (r Relation) IsMutating() bool {
	switch r {
	case RelationAssign, RelationAlter, RelationWrite, RelationImport:
		return true
	default:
		return false
	}
}

// RelationEdge is one edge of the resource graph: (this node) -[Relation]-> Resource.
type RelationEdge struct {
	Relation Relation
	Resource Resource
}

// ParseInfo is what a per-language static analyzer returns for one node's
// code, per §4.1 step 3.
type ParseInfo struct {
	Pure      *bool
	Relations []RelationEdge
}
