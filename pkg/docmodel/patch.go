package docmodel

import "fmt"

// PatchPathSegmentKind tags one element of a PatchPath deque.
type PatchPathSegmentKind int

const (
	SegProperty PatchPathSegmentKind = iota
	SegIndex
	SegKey
)

// PatchPathSegment is one Property(name) | Index(usize) | Key(string) hop.
type PatchPathSegment struct {
	Kind  PatchPathSegmentKind
	Name  string // for SegProperty, SegKey
	Index int    // for SegIndex
}

// Property builds a Property path segment.
func Property(name string) PatchPathSegment { return PatchPathSegment{Kind: SegProperty, Name: name} }

// IndexSeg builds an Index path segment.
func IndexSeg(i int) PatchPathSegment { return PatchPathSegment{Kind: SegIndex, Index: i} }

// Key builds a Key path segment.
func Key(k string) PatchPathSegment { return PatchPathSegment{Kind: SegKey, Name: k} }

// PatchPath is an ordered deque of path segments from a node to a field.
type PatchPath []PatchPathSegment

// PatchOpKind enumerates the closed set of patch operations.
type PatchOpKind int

const (
	OpSet PatchOpKind = iota
	OpClear
	OpAppend
	OpPush
	OpInsert
	OpRemove
	OpReplace
	OpMove
	OpNone
)

// PatchOp is one mutation to apply at a PatchPath.
type PatchOp struct {
	Kind    PatchOpKind
	Value   interface{}   // Set, Push, Replace
	Values  []interface{} // Append, Insert
	At      int           // Insert, Replace, Move-from
	To      int           // Move-to
	RangeLo int           // Remove
	RangeHi int           // Remove
}

// SetOp builds a Set(value) op.
func SetOp(v interface{}) PatchOp { return PatchOp{Kind: OpSet, Value: v} }

// ClearOp builds a Clear op.
func ClearOp() PatchOp { return PatchOp{Kind: OpClear} }

// AppendOp builds an Append(vec) op.
func AppendOp(vs ...interface{}) PatchOp { return PatchOp{Kind: OpAppend, Values: vs} }

// PushOp builds a Push(value) op.
func PushOp(v interface{}) PatchOp { return PatchOp{Kind: OpPush, Value: v} }

// Patch addresses a mutation at node_id/path with an ordered list of ops,
// applied atomically under the tree write lock by the patch bus.
type Patch struct {
	NodeID    string
	Path      PatchPath
	Ops       []PatchOp
	Authors   []string
	Format    string
	Timestamp int64
}

// Apply resolves p.Path against n and applies every op in order. Ops are
// total per §4.6: out-of-range indexes truncate, Clear on an absent field
// is a no-op. Unsupported property names return ErrInvalidPatchPath so the
// caller can log-and-drop per the invariant that unreachable patches never
// touch the wrong node.
func (p Patch) Apply(n *Node) error {
	if len(p.Path) == 0 {
		return applyOpsToNode(n, p.Ops)
	}
	seg := p.Path[0]
	if seg.Kind != SegProperty {
		return fmt.Errorf("%w: path must start with a property", ErrInvalidPatchPath)
	}
	rest := p.Path[1:]
	return applyProperty(n, seg.Name, rest, p.Ops)
}

func applyOpsToNode(n *Node, ops []PatchOp) error {
	// A patch with an empty path targets the node's default "content"
	// collection, mirroring the PatchNodeContent clear+append convention.
	return applyListOps(&n.Content, ops, func(v interface{}) (*Node, bool) {
		child, ok := v.(*Node)
		return child, ok
	})
}

func applyProperty(n *Node, name string, rest PatchPath, ops []PatchOp) error {
	switch name {
	case "content":
		return applyNodeList(&n.Content, rest, ops)
	case "code":
		return applyStringField(&n.Code, ops)
	case "programmingLanguage":
		return applyStringField(&n.ProgrammingLanguage, ops)
	case "executionStatus":
		return applyStatusField(n, ops)
	case "executionRequired":
		return applyRequiredField(n, ops)
	case "executionCount":
		return applyIntField(&n.ExecutionCount, ops)
	case "executionDuration":
		return applyIntField(&n.ExecutionDuration, ops)
	case "executionEnded":
		return applyBoolField(&n.ExecutionEnded, ops)
	case "executionMessages":
		return applyMessageList(&n.ExecutionMessages, ops)
	case "compilationMessages":
		return applyMessageList(&n.CompilationMessages, ops)
	case "outputs":
		return applyInterfaceList(&n.Outputs, ops)
	case "target":
		return applyTargetField(n, ops)
	case "clauses":
		return applyClauseList(n, rest, ops)
	case "messages":
		return applyMessageNodeList(n, rest, ops)
	default:
		return fmt.Errorf("%w: unknown property %q", ErrInvalidPatchPath, name)
	}
}

func applyStringField(field *string, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if s, ok := op.Value.(string); ok {
				*field = s
			}
		case OpClear:
			*field = ""
		}
	}
	return nil
}

func applyIntField(field *int64, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			switch v := op.Value.(type) {
			case int64:
				*field = v
			case int:
				*field = int64(v)
			}
		case OpClear:
			*field = 0
		}
	}
	return nil
}

func applyBoolField(field *bool, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if b, ok := op.Value.(bool); ok {
				*field = b
			}
		case OpClear:
			*field = false
		}
	}
	return nil
}

func applyStatusField(n *Node, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if s, ok := op.Value.(ExecutionStatus); ok {
				n.SetStatus(s)
			} else if s, ok := op.Value.(string); ok {
				n.SetStatus(ExecutionStatus(s))
			}
		case OpClear:
			n.SetStatus(StatusPending)
		}
	}
	return nil
}

func applyRequiredField(n *Node, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if r, ok := op.Value.(ExecutionRequired); ok {
				n.ExecutionRequired = r
			}
		case OpClear:
			n.ExecutionRequired = RequiredNo
		}
	}
	return nil
}

func applyTargetField(n *Node, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if s, ok := op.Value.(string); ok {
				n.Target = &s
			}
		case OpClear:
			n.Target = nil
		}
	}
	return nil
}

func applyMessageList(field *[]ExecutionMessage, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpClear:
			*field = nil
		case OpAppend:
			for _, v := range op.Values {
				if m, ok := v.(ExecutionMessage); ok {
					*field = append(*field, m)
				}
			}
		case OpPush:
			if m, ok := op.Value.(ExecutionMessage); ok {
				*field = append(*field, m)
			}
		case OpRemove:
			*field = removeRange(*field, op.RangeLo, op.RangeHi)
		}
	}
	return nil
}

func applyInterfaceList(field *[]interface{}, ops []PatchOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpClear:
			*field = nil
		case OpAppend:
			*field = append(*field, op.Values...)
		case OpPush:
			*field = append(*field, op.Value)
		case OpSet:
			if v, ok := op.Value.([]interface{}); ok {
				*field = v
			}
		case OpRemove:
			*field = removeRange(*field, op.RangeLo, op.RangeHi)
		}
	}
	return nil
}

func applyNodeList(field *[]*Node, rest PatchPath, ops []PatchOp) error {
	if len(rest) > 0 && rest[0].Kind == SegIndex {
		i := clampIndex(rest[0].Index, len(*field))
		if i >= len(*field) {
			return nil // total: out-of-range index is a no-op descent
		}
		child := (*field)[i]
		return applyProperty(child, propName(rest[1:]), rest[2:], ops)
	}
	return applyListOps(field, ops, func(v interface{}) (*Node, bool) {
		child, ok := v.(*Node)
		return child, ok
	})
}

func applyClauseList(n *Node, rest PatchPath, ops []PatchOp) error {
	if len(rest) > 0 && rest[0].Kind == SegIndex {
		i := clampIndex(rest[0].Index, len(n.Clauses))
		if i >= len(n.Clauses) {
			return nil
		}
		clause := n.Clauses[i]
		if len(rest) > 1 && rest[1].Kind == SegProperty && rest[1].Name == "isActive" {
			for _, op := range ops {
				if op.Kind == OpSet {
					if b, ok := op.Value.(bool); ok {
						clause.IsActive = &b
					}
				}
			}
		}
		return nil
	}
	for _, op := range ops {
		if op.Kind == OpClear {
			n.Clauses = nil
		}
	}
	return nil
}

func applyMessageNodeList(n *Node, rest PatchPath, ops []PatchOp) error {
	if len(rest) > 0 && rest[0].Kind == SegIndex {
		i := clampIndex(rest[0].Index, len(n.Messages))
		if i >= len(n.Messages) {
			return nil
		}
		msg := n.Messages[i]
		if len(rest) > 1 && rest[1].Kind == SegProperty {
			switch rest[1].Name {
			case "executionStatus":
				for _, op := range ops {
					if op.Kind == OpSet {
						if s, ok := op.Value.(ExecutionStatus); ok {
							msg.ExecutionStatus = s
						}
					}
				}
			case "content":
				return applyNodeList(&msg.Content, rest[2:], ops)
			}
		}
		return nil
	}
	for _, op := range ops {
		switch op.Kind {
		case OpClear:
			n.Messages = nil
		case OpPush:
			if m, ok := op.Value.(*ChatMessage); ok {
				n.Messages = append(n.Messages, m)
			}
		case OpAppend:
			for _, v := range op.Values {
				if m, ok := v.(*ChatMessage); ok {
					n.Messages = append(n.Messages, m)
				}
			}
		}
	}
	return nil
}

func applyListOps(field *[]*Node, ops []PatchOp, _ func(interface{}) (*Node, bool)) error {
	for _, op := range ops {
		switch op.Kind {
		case OpClear:
			*field = nil
		case OpPush:
			if c, ok := op.Value.(*Node); ok {
				*field = append(*field, c)
			}
		case OpAppend:
			for _, v := range op.Values {
				if c, ok := v.(*Node); ok {
					*field = append(*field, c)
				}
			}
		case OpRemove:
			*field = removeRange(*field, op.RangeLo, op.RangeHi)
		case OpInsert:
			at := clampIndex(op.At, len(*field))
			inserted := make([]*Node, 0, len(op.Values))
			for _, v := range op.Values {
				if c, ok := v.(*Node); ok {
					inserted = append(inserted, c)
				}
			}
			tail := append([]*Node{}, (*field)[at:]...)
			*field = append((*field)[:at], append(inserted, tail...)...)
		case OpReplace:
			at := clampIndex(op.At, len(*field))
			if at < len(*field) {
				if c, ok := op.Value.(*Node); ok {
					(*field)[at] = c
				}
			}
		case OpMove:
			moveSlice(field, op.At, op.To)
		}
	}
	return nil
}

func clampIndex(i, length int) int {
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

func removeRange[T any](s []T, lo, hi int) []T {
	lo = clampIndex(lo, len(s))
	hi = clampIndex(hi, len(s))
	if hi < lo {
		return s
	}
	return append(append([]T{}, s[:lo]...), s[hi:]...)
}

func moveSlice(field *[]*Node, from, to int) {
	s := *field
	from = clampIndex(from, len(s)-1)
	to = clampIndex(to, len(s)-1)
	if from < 0 || to < 0 || from >= len(s) {
		return
	}
	item := s[from]
	s = append(s[:from], s[from+1:]...)
	if to > len(s) {
		to = len(s)
	}
	s = append(s[:to], append([]*Node{item}, s[to:]...)...)
	*field = s
}

func propName(path PatchPath) string {
	if len(path) == 0 {
		return ""
	}
	return path[0].Name
}
