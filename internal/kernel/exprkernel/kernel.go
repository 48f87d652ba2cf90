// Package exprkernel implements a kernel backed by github.com/expr-lang/expr.
// It runs If-block clauses and other nodes whose programming_language names
// the factory it is registered under; the kernel space does not route nodes
// with no programming_language to it.
package exprkernel

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"

	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Kernel evaluates expr-lang expressions against a persistent symbol
// environment, sharing one ConditionCache across executions so repeated
// clause evaluation (e.g. an If inside a loop) doesn't recompile.
type Kernel struct {
	mu     sync.Mutex
	status kernel.Status
	vars   map[string]interface{}
	cache  *graph.ConditionCache
}

// New constructs an expr kernel with its own condition cache.
func New() *Kernel {
	return &Kernel{
		status: kernel.StatusPending,
		vars:   make(map[string]interface{}),
		cache:  graph.NewConditionCache(512),
	}
}

// Language reports "expr" as canonical for "expr" and "js" hints: expr-lang
// expressions are close enough to a JS expression subset to stand in for it
// here, per this module's DOMAIN STACK decision to ship one general kernel.
func (k *Kernel) Language(hint string) (string, bool) {
	switch hint {
	case "", "expr", "js", "javascript":
		return "expr", true
	default:
		return "", false
	}
}

// Start transitions the kernel to Ready.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = kernel.StatusReady
	return nil
}

// Stop transitions the kernel to Stopped.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = kernel.StatusStopped
	return nil
}

// Status returns the kernel's current lifecycle state.
func (k *Kernel) Status() kernel.Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// Get returns the current value of a symbol, if assigned.
func (k *Kernel) Get(name string) (interface{}, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.vars[name]
	return v, ok
}

// Set assigns a symbol's value directly (used for cross-kernel mirroring).
func (k *Kernel) Set(name string, value interface{}) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.vars[name] = value
	return nil
}

// Exec compiles (or fetches from cache) and runs code against a snapshot of
// the current symbol environment. Names declared with let inside code are
// local to that run and are not stored back into the environment.
func (k *Kernel) Exec(ctx context.Context, code string) ([]interface{}, []kernel.Message, error) {
	k.mu.Lock()
	k.status = kernel.StatusBusy
	env := k.envSnapshot()
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.status = kernel.StatusReady
		k.mu.Unlock()
	}()

	program, err := k.cache.CompileAndCache(code, env)
	if err != nil {
		return nil, []kernel.Message{{Kind: docmodel.MessageKindParseError, Message: err.Error()}}, err
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, []kernel.Message{{Kind: docmodel.MessageKindException, Message: err.Error()}}, err
	}

	return []interface{}{out}, nil, nil
}

func (k *Kernel) envSnapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(k.vars))
	for name, v := range k.vars {
		out[name] = v
	}
	return out
}

// EvalBool compiles and runs code as a boolean-coercible expression,
// applying the truthiness rules from §4.5 for If-block clauses:
// Null->false, Bool->self, Int/Num->(value!=0), String/Array/Object/
// DataTable->non-emptiness, otherwise true.
func (k *Kernel) EvalBool(ctx context.Context, code string) (bool, error) {
	vals, _, err := k.Exec(ctx, code)
	if err != nil {
		return false, err
	}
	if len(vals) == 0 {
		return false, nil
	}
	return CoerceTruthy(vals[0]), nil
}

// CoerceTruthy implements the If-block condition coercion table from §4.5.
func CoerceTruthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}
