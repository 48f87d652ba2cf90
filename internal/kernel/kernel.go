// Package kernel implements the kernel space component (C2): a set of
// language kernels, the symbol home/mirror table, and cross-kernel symbol
// propagation, grounded on the original Stencila KernelSpace in
// kernels/mod.rs and reshaped around a Go interface in place of the
// source's trait-object dispatch.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Status is a kernel's lifecycle state.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusStarting     Status = "Starting"
	StatusReady        Status = "Ready"
	StatusBusy         Status = "Busy"
	StatusUnresponsive Status = "Unresponsive"
	StatusStopped      Status = "Stopped"
)

// Message is one diagnostic emitted by exec, independent of returned values.
type Message struct {
	Kind    docmodel.ExecutionMessageKind
	Message string
}

// Kernel is the per-language execution backend contract from §6: one
// adapter per language. The Space does not serialize calls into a kernel,
// so an implementation can receive concurrent Exec calls.
type Kernel interface {
	// Language returns the canonical name this kernel declares, e.g. "calc".
	// Aliases (hint) are resolved by the kernel itself, e.g. "py"≡"python3".
	Language(hint string) (canonical string, ok bool)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	Get(name string) (interface{}, bool)
	Set(name string, value interface{}) error
	Exec(ctx context.Context, code string) ([]interface{}, []Message, error)
}

// SymbolInfo tracks one symbol's home kernel and per-kernel mirror times,
// matching the `name -> SymbolInfo{kind, home_kernel, assigned_at,
// mirrored}` table in §3.
type SymbolInfo struct {
	Kind       string
	Home       string
	AssignedAt time.Time
	Mirrored   map[string]time.Time
}

// Space owns a set of kernels plus the cross-kernel symbol registry. All
// mutation happens under mu. The space adds no lock around a kernel's Exec,
// so exec requests run concurrently, including requests that target the
// same kernel.
type Space struct {
	mu       sync.Mutex
	kernels  map[string]Kernel // kernel id -> kernel
	byLang   map[string]string // canonical language -> kernel id
	symbols  map[string]*SymbolInfo
	factory  map[string]func() Kernel // canonical language -> constructor
	nextID   int
	onRestart func(kernelID string)
}

// NewSpace creates an empty kernel space. factories maps canonical language
// names to kernel constructors; Ensure lazily starts one kernel per
// language the first time it's needed.
func NewSpace(factories map[string]func() Kernel) *Space {
	return &Space{
		kernels: make(map[string]Kernel),
		byLang:  make(map[string]string),
		symbols: make(map[string]*SymbolInfo),
		factory: factories,
	}
}

// OnKernelRestart registers a callback invoked with a kernel id whenever
// DetectUnresponsive finds that kernel Unresponsive. The space itself does
// not restart or replace the kernel.
func (s *Space) OnKernelRestart(fn func(kernelID string)) { s.onRestart = fn }

// Ensure returns the kernel last started for language while it is neither
// Unresponsive nor Stopped, otherwise starts one from the factory registered
// under language. Lookup is by the exact name passed: running kernels are not
// asked whether they accept it as an alias, and a name with no factory of its
// own (such as "" or "js" when only "expr" is registered) fails.
func (s *Space) Ensure(ctx context.Context, language string) (string, error) {
	s.mu.Lock()
	if id, ok := s.byLang[language]; ok {
		if k, exists := s.kernels[id]; exists && k.Status() != StatusUnresponsive && k.Status() != StatusStopped {
			s.mu.Unlock()
			return id, nil
		}
	}
	ctor, ok := s.factory[language]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", docmodel.ErrNoKernelForLanguage, language)
	}

	k := ctor()
	canonical, ok := k.Language(language)
	if !ok {
		return "", fmt.Errorf("%w: %s", docmodel.ErrIncompatibleLang, language)
	}
	if err := k.Start(ctx); err != nil {
		return "", fmt.Errorf("%w: %s", docmodel.ErrKernelUnavailable, err)
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("%s-%d", canonical, s.nextID)
	s.kernels[id] = k
	s.byLang[canonical] = id
	s.mu.Unlock()
	return id, nil
}

// Get fails ErrUnknownSymbol when no home is recorded, per §4.2.
func (s *Space) Get(name string) (interface{}, error) {
	s.mu.Lock()
	info, ok := s.symbols[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", docmodel.ErrUnknownSymbol, name)
	}
	s.mu.Lock()
	k := s.kernels[info.Home]
	s.mu.Unlock()
	if k == nil {
		return nil, fmt.Errorf("%w: home kernel %s gone", docmodel.ErrKernelUnavailable, info.Home)
	}
	v, ok := k.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", docmodel.ErrUnknownSymbol, name)
	}
	return v, nil
}

// Set ensures a kernel for language, sets the value, and updates home to
// that kernel while clearing mirror timestamps, per §4.2.
func (s *Space) Set(ctx context.Context, name string, value interface{}, language string) error {
	kernelID, err := s.Ensure(ctx, language)
	if err != nil {
		return err
	}
	s.mu.Lock()
	k := s.kernels[kernelID]
	s.mu.Unlock()
	if err := k.Set(name, value); err != nil {
		return err
	}

	s.mu.Lock()
	s.symbols[name] = &SymbolInfo{
		Kind:       "variable",
		Home:       kernelID,
		AssignedAt: time.Now(),
		Mirrored:   make(map[string]time.Time),
	}
	s.mu.Unlock()
	return nil
}

// Exec ensures a kernel for language, mirrors any Used symbols whose home
// isn't already mirrored there since their last assignment, executes code,
// and records Assign relations as new homes, per §4.2.
func (s *Space) Exec(ctx context.Context, code, language string, relations []docmodel.RelationEdge) ([]interface{}, []Message, error) {
	kernelID, err := s.Ensure(ctx, language)
	if err != nil {
		return nil, nil, err
	}

	for _, rel := range relations {
		if rel.Relation != docmodel.RelationUse || rel.Resource.Kind != docmodel.ResourceSymbol {
			continue
		}
		if err := s.mirrorIfNeeded(rel.Resource.ID, kernelID); err != nil {
			// A missing symbol is not fatal here: the kernel will surface
			// its own UnknownSymbol-equivalent error on use.
			continue
		}
	}

	s.mu.Lock()
	k := s.kernels[kernelID]
	s.mu.Unlock()

	values, msgs, err := k.Exec(ctx, code)

	for _, rel := range relations {
		if rel.Relation == docmodel.RelationAssign && rel.Resource.Kind == docmodel.ResourceSymbol {
			s.mu.Lock()
			info, ok := s.symbols[rel.Resource.ID]
			if !ok {
				info = &SymbolInfo{Kind: "variable", Mirrored: make(map[string]time.Time)}
				s.symbols[rel.Resource.ID] = info
			}
			info.Home = kernelID
			info.AssignedAt = time.Now()
			info.Mirrored = make(map[string]time.Time)
			s.mu.Unlock()
		}
	}

	return values, msgs, err
}

func (s *Space) mirrorIfNeeded(name, targetKernelID string) error {
	s.mu.Lock()
	info, ok := s.symbols[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", docmodel.ErrUnknownSymbol, name)
	}
	if info.Home == targetKernelID {
		s.mu.Unlock()
		return nil
	}
	lastMirror := info.Mirrored[targetKernelID]
	if !lastMirror.Before(info.AssignedAt) {
		s.mu.Unlock()
		return nil
	}
	homeKernel := s.kernels[info.Home]
	targetKernel := s.kernels[targetKernelID]
	s.mu.Unlock()

	if homeKernel == nil || targetKernel == nil {
		return fmt.Errorf("%w: %s", docmodel.ErrKernelUnavailable, name)
	}
	value, ok := homeKernel.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", docmodel.ErrUnknownSymbol, name)
	}
	if err := targetKernel.Set(name, value); err != nil {
		return err
	}

	s.mu.Lock()
	info.Mirrored[targetKernelID] = time.Now()
	s.mu.Unlock()
	return nil
}

// Stop stops and removes the kernel identified by id.
func (s *Space) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	k, ok := s.kernels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", docmodel.ErrKernelNotRunning, id)
	}
	if err := k.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.kernels, id)
	for lang, kid := range s.byLang {
		if kid == id {
			delete(s.byLang, lang)
		}
	}
	s.mu.Unlock()
	return nil
}

// KernelStatus is the status() summary described in §4.2 and §6.
type KernelStatus struct {
	ID       string
	Language string
	Status   Status
}

// StatusAll returns the status of every kernel currently owned by the space.
func (s *Space) StatusAll() []KernelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KernelStatus, 0, len(s.kernels))
	for lang, id := range s.byLang {
		if k, ok := s.kernels[id]; ok {
			out = append(out, KernelStatus{ID: id, Language: lang, Status: k.Status()})
		}
	}
	return out
}

// Symbols returns a snapshot of the symbol table, the symbols() operation
// from §4.2.
func (s *Space) Symbols() map[string]SymbolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SymbolInfo, len(s.symbols))
	for k, v := range s.symbols {
		mirrored := make(map[string]time.Time, len(v.Mirrored))
		for mk, mv := range v.Mirrored {
			mirrored[mk] = mv
		}
		out[k] = SymbolInfo{Kind: v.Kind, Home: v.Home, AssignedAt: v.AssignedAt, Mirrored: mirrored}
	}
	return out
}

// DetectUnresponsive scans kernels for Unresponsive status and, for each,
// invokes onRestart and then restartedNodes, returning every node id that
// restartedNodes reports. The symbol table and the kernels are left as they
// are.
func (s *Space) DetectUnresponsive(restartedNodes func(symbolHome string) []string) []string {
	s.mu.Lock()
	var dead []string
	for id, k := range s.kernels {
		if k.Status() == StatusUnresponsive {
			dead = append(dead, id)
		}
	}
	s.mu.Unlock()

	var affected []string
	for _, id := range dead {
		if s.onRestart != nil {
			s.onRestart(id)
		}
		if restartedNodes != nil {
			affected = append(affected, restartedNodes(id)...)
		}
	}
	return affected
}
