// Package graph implements the resource graph and digest component (C1):
// per-node static analysis, dependency/dependant bookkeeping, and the three
// content/semantic/dependency digests that drive ExecutionRequired.
package graph

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Analyzer parses one node's code and returns its relation set, grounded on
// the codec/parser registry pattern described in §9 ("process-wide registry
// keyed by language name, initialized once, immutable thereafter").
type Analyzer interface {
	Language() string
	Parse(code string) (docmodel.ParseInfo, error)
}

// Registry is the process-wide analyzer set keyed by canonical language name.
type Registry struct {
	analyzers map[string]Analyzer
}

// NewRegistry builds a registry pre-populated with the calc and expr
// analyzers shipped by this module.
func NewRegistry() *Registry {
	r := &Registry{analyzers: make(map[string]Analyzer)}
	r.Register(NewCalcAnalyzer())
	r.Register(NewExprAnalyzer())
	return r
}

// Register adds or replaces the analyzer for its declared language.
func (r *Registry) Register(a Analyzer) {
	r.analyzers[a.Language()] = a
}

// For returns the analyzer for language, or the expr analyzer as a
// best-effort fallback when language is empty or unrecognized, matching the
// "guess from a heuristic" wording in §4.1 step 2.
func (r *Registry) For(language string) Analyzer {
	if a, ok := r.analyzers[language]; ok {
		return a
	}
	return r.analyzers["expr"]
}

// tagPattern matches `@pure`, `@impure`, and `@tag foo` line comments,
// the explicit override/tag mechanism named in §3 and §4.1.
var tagPattern = regexp.MustCompile(`@(pure|impure|tag)\b\s*([A-Za-z0-9_:-]*)`)

// scanTags extracts purity overrides and execution tags common to every
// analyzer, independent of the host language's comment syntax.
func scanTags(code string) (pure *bool, tags []string) {
	for _, m := range tagPattern.FindAllStringSubmatch(code, -1) {
		switch m[1] {
		case "pure":
			v := true
			pure = &v
		case "impure":
			v := false
			pure = &v
		case "tag":
			if m[2] != "" {
				tags = append(tags, m[2])
			}
		}
	}
	return pure, tags
}

// CalcAnalyzer understands a minimal arithmetic-assignment language of the
// shape `name = expression` or a bare expression, the language the calc
// kernel executes.
type CalcAnalyzer struct{}

// NewCalcAnalyzer constructs the calc language's static analyzer.
func NewCalcAnalyzer() *CalcAnalyzer { return &CalcAnalyzer{} }

// Language returns the canonical name this analyzer declares.
func (a *CalcAnalyzer) Language() string { return "calc" }

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
var assignPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)

// Parse extracts one Assign relation (when the code is `name = expr`) and a
// Use relation per identifier referenced on the right-hand side.
func (a *CalcAnalyzer) Parse(code string) (docmodel.ParseInfo, error) {
	pure, tags := scanTags(code)
	info := docmodel.ParseInfo{Pure: pure}
	_ = tags

	body := code
	if m := assignPattern.FindStringSubmatch(code); m != nil {
		info.Relations = append(info.Relations, docmodel.RelationEdge{
			Relation: docmodel.RelationAssign,
			Resource: docmodel.SymbolResource(m[1], "variable"),
		})
		body = m[2]
	}
	for _, ident := range identPattern.FindAllString(body, -1) {
		if isCalcKeyword(ident) {
			continue
		}
		info.Relations = append(info.Relations, docmodel.RelationEdge{
			Relation: docmodel.RelationUse,
			Resource: docmodel.SymbolResource(ident, "variable"),
		})
	}
	return info, nil
}

func isCalcKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "nil", "null":
		return true
	default:
		return false
	}
}

// ExprAnalyzer understands github.com/expr-lang/expr's expression language,
// the default when no programming_language is set or it is unrecognized.
type ExprAnalyzer struct{}

// NewExprAnalyzer constructs the expr language's static analyzer.
func NewExprAnalyzer() *ExprAnalyzer { return &ExprAnalyzer{} }

// Language returns the canonical name this analyzer declares.
func (a *ExprAnalyzer) Language() string { return "expr" }

// Parse walks the expr AST collecting identifiers (Use) and variable
// declarators (Assign), falling back to a syntax-error CompilationMessage
// rather than failing the whole compile phase when code doesn't parse.
func (a *ExprAnalyzer) Parse(code string) (docmodel.ParseInfo, error) {
	pure, _ := scanTags(code)
	info := docmodel.ParseInfo{Pure: pure}

	tree, err := parser.Parse(code)
	if err != nil {
		return info, err
	}

	seen := make(map[string]bool)
	ast.Walk(&tree.Node, visitorFunc(func(node *ast.Node) {
		switch t := (*node).(type) {
		case *ast.IdentifierNode:
			if !seen[t.Value] {
				seen[t.Value] = true
				info.Relations = append(info.Relations, docmodel.RelationEdge{
					Relation: docmodel.RelationUse,
					Resource: docmodel.SymbolResource(t.Value, "variable"),
				})
			}
		case *ast.VariableDeclaratorNode:
			info.Relations = append(info.Relations, docmodel.RelationEdge{
				Relation: docmodel.RelationAssign,
				Resource: docmodel.SymbolResource(t.Name, "variable"),
			})
		}
	}))

	return info, nil
}

// visitorFunc adapts a plain function to expr's ast.Visitor interface.
type visitorFunc func(*ast.Node)

func (f visitorFunc) Visit(node *ast.Node) { f(node) }
