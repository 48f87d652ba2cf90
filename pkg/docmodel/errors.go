// Package docmodel defines the document tree's node, patch, and digest types
// shared by every other package in this module.
package docmodel

import "errors"

// Sentinel errors returned across the engine, grouped by the component that
// raises them, following the flat var-block style used throughout this
// codebase instead of ad-hoc error strings.
var (
	// Tree / patch errors.
	ErrNodeNotFound     = errors.New("docmodel: node not found")
	ErrInvalidPatchPath = errors.New("docmodel: invalid patch path")
	ErrInvalidPatchOp   = errors.New("docmodel: invalid patch operation for target")

	// Kernel space errors.
	ErrUnknownSymbol       = errors.New("kernel: unknown symbol")
	ErrKernelUnavailable   = errors.New("kernel: unavailable")
	ErrIncompatibleLang    = errors.New("kernel: incompatible language")
	ErrKernelNotRunning    = errors.New("kernel: not running")
	ErrNoKernelForLanguage = errors.New("kernel: no kernel registered for language")

	// Planner / runner errors.
	ErrCyclicDependency  = errors.New("planner: cyclic dependency")
	ErrEmptyPlan         = errors.New("planner: empty plan")
	ErrDependencyFailed  = errors.New("runner: dependency failed")
	ErrExecutionTimeout  = errors.New("runner: execution timeout")
	ErrExecutionCanceled = errors.New("runner: execution cancelled")

	// Dispatch errors.
	ErrUnsupportedNodeKind = errors.New("dispatch: unsupported node kind")
	ErrCodecError          = errors.New("dispatch: codec error")

	// Command coordinator errors.
	ErrCommandIgnored     = errors.New("document: command ignored")
	ErrCommandInterrupted = errors.New("document: command interrupted")
)

// ExecutionMessageKind classifies a message attached to a node during
// compile or execute.
type ExecutionMessageKind string

const (
	MessageKindParseError     ExecutionMessageKind = "ParseError"
	MessageKindWarning        ExecutionMessageKind = "Warning"
	MessageKindError          ExecutionMessageKind = "Error"
	MessageKindException      ExecutionMessageKind = "Exception"
	MessageKindTimeout        ExecutionMessageKind = "Timeout"
	MessageKindKernelUnavail  ExecutionMessageKind = "KernelUnavailable"
	MessageKindDependencyFail ExecutionMessageKind = "DependencyFailed"
)

// ExecutionMessage is attached to a node's compilation_messages or
// execution_messages to record a parse error, kernel diagnostic, or runner
// failure without aborting the surrounding plan.
type ExecutionMessage struct {
	Kind      ExecutionMessageKind `json:"kind"`
	Message   string               `json:"message"`
	StackTrace string              `json:"stackTrace,omitempty"`
}
