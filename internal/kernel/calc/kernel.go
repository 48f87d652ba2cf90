// Package calc implements a minimal arithmetic kernel: the calc language
// named throughout the spec's examples (S1's `x = 2`, `y = x + 3`).
package calc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Kernel evaluates `name = expr` assignments and bare expressions over a
// float64 symbol table using only +, -, *, /, and parentheses.
type Kernel struct {
	mu     sync.Mutex
	status kernel.Status
	vars   map[string]interface{}
}

// New constructs a calc kernel in Pending status.
func New() *Kernel {
	return &Kernel{status: kernel.StatusPending, vars: make(map[string]interface{})}
}

// Language reports "calc" as canonical for the hints "calc" and "arithmetic".
func (k *Kernel) Language(hint string) (string, bool) {
	switch hint {
	case "", "calc", "arithmetic":
		return "calc", true
	default:
		return "", false
	}
}

// Start transitions the kernel to Ready; calc has no external process.
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

// Exec evaluates code, which is either `name = expr` or a bare expr, and
// returns the resulting value as the sole element of the output sequence.
func (k *Kernel) Exec(ctx context.Context, code string) ([]interface{}, []kernel.Message, error) {
	k.mu.Lock()
	k.status = kernel.StatusBusy
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.status = kernel.StatusReady
		k.mu.Unlock()
	}()

	name := ""
	expr := strings.TrimSpace(code)
	if idx := strings.IndexByte(expr, '='); idx > 0 && expr[idx-1] != '!' && expr[idx-1] != '<' && expr[idx-1] != '>' && (idx+1 >= len(expr) || expr[idx+1] != '=') {
		name = strings.TrimSpace(expr[:idx])
		expr = strings.TrimSpace(expr[idx+1:])
	}

	v, err := evalArith(expr, k.snapshot())
	if err != nil {
		return nil, []kernel.Message{{Kind: docmodel.MessageKindError, Message: err.Error()}}, err
	}

	if name != "" {
		k.mu.Lock()
		k.vars[name] = v
		k.mu.Unlock()
	}
	return []interface{}{v}, nil, nil
}

func (k *Kernel) snapshot() map[string]interface{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]interface{}, len(k.vars))
	for name, v := range k.vars {
		out[name] = v
	}
	return out
}

// evalArith is a small recursive-descent evaluator for +,-,*,/,(),
// identifiers, and numeric literals -- sufficient for the calc language's
// scope without pulling in a general expression engine (that role is
// filled by the expr kernel for anything richer).
func evalArith(s string, vars map[string]interface{}) (float64, error) {
	p := &arithParser{s: s, vars: vars}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return 0, fmt.Errorf("calc: unexpected trailing input at %d", p.pos)
	}
	return v, nil
}

type arithParser struct {
	s    string
	pos  int
	vars map[string]interface{}
}

func (p *arithParser) skipSpace() {
	for p.pos < len(p.s) && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *arithParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return v, nil
		}
		op := p.s[p.pos]
		if op != '+' && op != '-' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (p *arithParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return v, nil
		}
		op := p.s[p.pos]
		if op != '*' && op != '/' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			v *= rhs
		} else {
			if rhs == 0 {
				return 0, fmt.Errorf("calc: division by zero")
			}
			v /= rhs
		}
	}
}

func (p *arithParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0, fmt.Errorf("calc: unexpected end of expression")
	}
	if p.s[p.pos] == '-' {
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	}
	if p.s[p.pos] == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.s) || p.s[p.pos] != ')' {
			return 0, fmt.Errorf("calc: expected ')'")
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.s) && (isDigit(p.s[p.pos]) || p.s[p.pos] == '.') {
		p.pos++
	}
	if p.pos > start {
		return strconv.ParseFloat(p.s[start:p.pos], 64)
	}
	for p.pos < len(p.s) && isIdentChar(p.s[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("calc: unexpected character %q", p.s[p.pos])
	}
	name := p.s[start:p.pos]
	v, ok := p.vars[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", docmodel.ErrUnknownSymbol, name)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("calc: %s is not numeric", name)
	}
	return f, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c)
}
