// Package document implements the document command coordinator (C8): one
// goroutine arbitrating CompileDocument/ExecuteDocument/ExecuteNodes/
// PatchExecuteNodes/InterruptDocument/InterruptNodes commands against
// whatever command is currently running, while PatchNode/PatchNodeContent/
// SaveDocument/ExportDocument always run concurrently alongside it, grounded
// directly on _examples/original_source/rust/document/src/task_command.rs's
// command_task match arms.
package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/smilemakc/docengine/internal/dispatch"
	"github.com/smilemakc/docengine/internal/domsync"
	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/internal/patchbus"
	"github.com/smilemakc/docengine/internal/planner"
	"github.com/smilemakc/docengine/internal/runner"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// CommandKind is the closed set of commands a Document accepts.
type CommandKind string

const (
	CmdCompileDocument   CommandKind = "CompileDocument"
	CmdExecuteDocument   CommandKind = "ExecuteDocument"
	CmdExecuteNodes      CommandKind = "ExecuteNodes"
	CmdPatchExecuteNodes CommandKind = "PatchExecuteNodes"
	CmdInterruptDocument CommandKind = "InterruptDocument"
	CmdInterruptNodes    CommandKind = "InterruptNodes"
	CmdPatchNode         CommandKind = "PatchNode"
	CmdPatchNodeContent  CommandKind = "PatchNodeContent"
	CmdSaveDocument      CommandKind = "SaveDocument"
	CmdExportDocument    CommandKind = "ExportDocument"
)

// ContentScope distinguishes a PatchNodeContent call targeting a block-level
// node from one targeting an inline span, per §4.8.
type ContentScope string

const (
	ScopeBlock  ContentScope = "Block"
	ScopeInline ContentScope = "Inline"
)

// SidecarPolicy controls whether SaveDocument writes the lossless JSON
// sidecar alongside the (possibly lossy) source.
type SidecarPolicy string

const (
	SidecarYes      SidecarPolicy = "Yes"
	SidecarIfExists SidecarPolicy = "IfExists"
	SidecarNo       SidecarPolicy = "No"
)

// Command is one request submitted to a Document's command loop. Fields
// below the NodeIDs/Patch pair are only consulted by the command variant
// that uses them.
type Command struct {
	Kind    CommandKind
	NodeIDs []string
	Patch   *docmodel.Patch

	// PatchNodeContent: decode Content (in Format) and clear+append it into
	// NodeIDs[0]'s content at the given Scope.
	Format  string
	Content string
	Scope   ContentScope

	// SaveDocument: SourcePath overrides the document's known source path
	// when set; Sidecar controls whether the JSON sidecar is (re)written.
	SourcePath *string
	Sidecar    SidecarPolicy

	// ExportDocument: encode the tree to ExportPath. ExportOptions is
	// threaded through to the codec once one exists for the target format.
	ExportPath    string
	ExportOptions map[string]interface{}
}

// StatusKind mirrors CommandStatus from task_command.rs.
type StatusKind string

const (
	StatusQueued      StatusKind = "Queued"
	StatusRunning     StatusKind = "Running"
	StatusSucceeded   StatusKind = "Succeeded"
	StatusFailed      StatusKind = "Failed"
	StatusIgnored     StatusKind = "Ignored"
	StatusInterrupted StatusKind = "Interrupted"
)

// CommandStatusUpdate is one (commandID, status) event emitted to every
// caller awaiting a command's outcome.
type CommandStatusUpdate struct {
	CommandID string
	Status    StatusKind
	Err       error
}

type inFlight struct {
	command Command
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Document owns one document tree plus the collaborators needed to compile,
// plan, and run it, and serializes every command against whatever command
// is currently running via the arbitration matrix in arbitrate.
type Document struct {
	mu     sync.Mutex
	root   *docmodel.Node
	graph  *graph.Graph
	space  *kernel.Space
	runner *runner.Runner
	bus    *patchbus.Bus
	dom    *domsync.Synchronizer
	logger *logger.Logger

	commands   chan queuedCommand
	status     chan CommandStatusUpdate
	current    *inFlight
	cancelCh   chan runner.CancelRequest
	sourcePath string
}

type queuedCommand struct {
	cmd Command
	id  string
}

// New constructs a Document wired to the given collaborators and starts its
// command loop goroutine.
func New(root *docmodel.Node, g *graph.Graph, space *kernel.Space, disp *dispatch.Dispatcher, bus *patchbus.Bus, log *logger.Logger, opts runner.Options) *Document {
	d := &Document{
		root:     root,
		graph:    g,
		space:    space,
		bus:      bus,
		logger:   log,
		commands: make(chan queuedCommand, 64),
		status:   make(chan CommandStatusUpdate, 64),
		cancelCh: make(chan runner.CancelRequest, 8),
	}
	d.runner = runner.New(space, bus, disp, g, log, opts)
	go d.commandLoop()
	return d
}

// SetSourcePath records the path SaveDocument writes to when its own
// SourcePath override is unset.
func (d *Document) SetSourcePath(path string) {
	d.mu.Lock()
	d.sourcePath = path
	d.mu.Unlock()
}

// Status returns the channel every command's lifecycle is reported on.
func (d *Document) Status() <-chan CommandStatusUpdate { return d.status }

// Submit enqueues a command and returns the id callers should watch for on
// the Status channel.
func (d *Document) Submit(cmd Command) string {
	id := uuid.NewString()
	d.commands <- queuedCommand{cmd: cmd, id: id}
	return id
}

func (d *Document) sendStatus(id string, s StatusKind, err error) {
	select {
	case d.status <- CommandStatusUpdate{CommandID: id, Status: s, Err: err}:
	default:
	}
}

// commandLoop is the single goroutine that owns command arbitration, the Go
// analogue of task_command.rs's command_task while-loop.
func (d *Document) commandLoop() {
	for qc := range d.commands {
		d.arbitrate(qc.cmd, qc.id)
	}
}

// isConcurrentCommand reports whether a command always runs alongside
// whatever else is in flight rather than through the current-tracked
// exclusive path, per §4.8's "PatchNode*/Save/Export" matrix row.
func isConcurrentCommand(k CommandKind) bool {
	switch k {
	case CmdPatchNode, CmdPatchNodeContent, CmdSaveDocument, CmdExportDocument:
		return true
	default:
		return false
	}
}

// isExecuteFamily reports whether k is one of the running-task kinds the
// matrix calls "Execute*": a plain execute or an execute folded into a
// patch.
func isExecuteFamily(k CommandKind) bool {
	switch k {
	case CmdExecuteDocument, CmdExecuteNodes, CmdPatchExecuteNodes:
		return true
	default:
		return false
	}
}

// isCompileOrExecute reports whether k is in the matrix's "Compile /
// Execute*" row.
func isCompileOrExecute(k CommandKind) bool {
	switch k {
	case CmdCompileDocument, CmdExecuteDocument, CmdExecuteNodes, CmdPatchExecuteNodes:
		return true
	default:
		return false
	}
}

// arbitrate implements the matrix from task_command.rs. PatchNode* and
// Save/Export never consult or touch current; they run concurrently.
// Otherwise: a still-running Execute* ignores a new Compile/Execute*
// request, Interrupt* against a running Execute* aborts it synchronously,
// Interrupt* against anything else (or nothing) is ignored, and any other
// command proceeds to runCommand on its own tracked goroutine.
func (d *Document) arbitrate(cmd Command, id string) {
	if isConcurrentCommand(cmd.Kind) {
		d.runConcurrent(cmd, id)
		return
	}

	d.mu.Lock()
	current := d.current
	d.mu.Unlock()

	running := current != nil && !isDone(current.done) && isExecuteFamily(current.command.Kind)

	switch cmd.Kind {
	case CmdInterruptDocument:
		if !running {
			d.sendStatus(id, StatusIgnored, nil)
			return
		}
		d.sendStatus(id, StatusRunning, nil)
		current.cancel()
		d.cancelCh <- runner.CancelRequest{NodeID: nil}
		<-current.done
		d.sendStatus(current.id, StatusInterrupted, nil)
		d.sendStatus(id, StatusSucceeded, nil)
		return

	case CmdInterruptNodes:
		if !running {
			d.sendStatus(id, StatusIgnored, nil)
			return
		}
		d.sendStatus(id, StatusRunning, nil)
		for _, nid := range cmd.NodeIDs {
			nid := nid
			d.cancelCh <- runner.CancelRequest{NodeID: &nid}
		}
		if sameScope(cmd, current.command) {
			current.cancel()
		}
		<-current.done
		d.sendStatus(current.id, StatusInterrupted, nil)
		d.sendStatus(id, StatusSucceeded, nil)
		return

	default:
		if running && isCompileOrExecute(cmd.Kind) {
			d.sendStatus(id, StatusIgnored, nil)
			return
		}
	}

	d.runCommand(cmd, id)
}

func isDone(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func sameScope(a, b Command) bool {
	if len(a.NodeIDs) != len(b.NodeIDs) {
		return false
	}
	for i := range a.NodeIDs {
		if a.NodeIDs[i] != b.NodeIDs[i] {
			return false
		}
	}
	return true
}

// runCommand runs one of the exclusive, current-tracked command kinds
// (Compile/Execute/ExecuteNodes/PatchExecuteNodes). Its inFlight record is
// what Interrupt* and the arbitration matrix above inspect, so it must stay
// installed in d.current for the command's whole lifetime.
func (d *Document) runCommand(cmd Command, id string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.mu.Lock()
	d.current = &inFlight{command: cmd, id: id, cancel: cancel, done: done}
	d.mu.Unlock()

	d.sendStatus(id, StatusRunning, nil)

	go func() {
		defer close(done)
		defer cancel()

		var err error
		switch cmd.Kind {
		case CmdCompileDocument:
			d.graph.Compile(d.root)
		case CmdExecuteDocument:
			err = d.execute(ctx, nil)
		case CmdExecuteNodes:
			err = d.execute(ctx, cmd.NodeIDs)
		case CmdPatchExecuteNodes:
			if cmd.Patch != nil {
				d.bus.Send([]docmodel.Patch{*cmd.Patch})
			}
			err = d.execute(ctx, cmd.NodeIDs)
		}

		if err != nil {
			d.sendStatus(id, StatusFailed, err)
		} else {
			d.sendStatus(id, StatusSucceeded, nil)
		}
	}()
}

// runConcurrent runs a PatchNode/PatchNodeContent/SaveDocument/
// ExportDocument command on its own untracked goroutine: it never reads or
// writes d.current, so it cannot displace whatever exclusive command is
// already running.
func (d *Document) runConcurrent(cmd Command, id string) {
	d.sendStatus(id, StatusRunning, nil)

	go func() {
		var err error
		switch cmd.Kind {
		case CmdPatchNode:
			if cmd.Patch != nil {
				d.bus.Send([]docmodel.Patch{*cmd.Patch})
			}
		case CmdPatchNodeContent:
			err = d.patchNodeContent(cmd)
		case CmdSaveDocument:
			err = d.save(cmd)
		case CmdExportDocument:
			err = d.export(cmd)
		}

		if err != nil {
			d.sendStatus(id, StatusFailed, err)
		} else {
			d.sendStatus(id, StatusSucceeded, nil)
		}
	}()
}

// patchNodeContent decodes cmd.Content (in cmd.Format) and clear+appends it
// into cmd.NodeIDs[0]'s content property. Only the engine's native JSON
// representation has a decoder; any other format is a codec error, per this
// module's codec-plumbing Non-goal.
func (d *Document) patchNodeContent(cmd Command) error {
	if len(cmd.NodeIDs) == 0 {
		return fmt.Errorf("%w: PatchNodeContent requires a target node id", docmodel.ErrInvalidPatchPath)
	}
	format := cmd.Format
	if format == "" {
		format = "json"
	}
	if format != "json" {
		return fmt.Errorf("%w: decoding content in format %q is not supported", docmodel.ErrCodecError, format)
	}

	var nodes []*docmodel.Node
	if cmd.Content != "" {
		if err := json.Unmarshal([]byte(cmd.Content), &nodes); err != nil {
			var single docmodel.Node
			if err := json.Unmarshal([]byte(cmd.Content), &single); err != nil {
				return fmt.Errorf("%w: %v", docmodel.ErrCodecError, err)
			}
			nodes = []*docmodel.Node{&single}
		}
	}

	ops := make([]docmodel.PatchOp, 0, len(nodes)+1)
	ops = append(ops, docmodel.ClearOp())
	for _, n := range nodes {
		ops = append(ops, docmodel.PushOp(n))
	}
	d.bus.Send([]docmodel.Patch{{
		NodeID: cmd.NodeIDs[0],
		Path:   docmodel.PatchPath{docmodel.Property("content")},
		Ops:    ops,
	}})
	return nil
}

// save writes the document to its source path (lossily decoding losses
// aside, since only the native JSON format is wired) and, depending on
// cmd.Sidecar, (re)writes the lossless JSON sidecar next to it.
func (d *Document) save(cmd Command) error {
	path := d.sourcePath
	if cmd.SourcePath != nil {
		path = *cmd.SourcePath
	}
	if path == "" {
		return fmt.Errorf("%w: document has no source path to save to", docmodel.ErrCodecError)
	}

	format := ResolveFormat(path)
	if format != "json" {
		return fmt.Errorf("%w: saving to format %q is not supported", docmodel.ErrCodecError, format)
	}

	d.mu.Lock()
	b, err := json.MarshalIndent(d.root, "", "  ")
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return err
	}
	d.mu.Lock()
	d.sourcePath = path
	d.mu.Unlock()

	policy := cmd.Sidecar
	if policy == "" {
		policy = SidecarIfExists
	}
	switch policy {
	case SidecarYes:
		return writeSidecar(SidecarPath(path), b)
	case SidecarIfExists:
		if SidecarExists(path) {
			return writeSidecar(SidecarPath(path), b)
		}
	}
	return nil
}

// export encodes the tree to cmd.ExportPath. Only JSON has a wired
// encoder; any other resolved format is a codec error.
func (d *Document) export(cmd Command) error {
	if cmd.ExportPath == "" {
		return fmt.Errorf("%w: ExportDocument requires a destination path", docmodel.ErrCodecError)
	}
	format := ResolveFormat(cmd.ExportPath)
	if format != "json" {
		return fmt.Errorf("%w: exporting to format %q is not supported", docmodel.ErrCodecError, format)
	}

	d.mu.Lock()
	b, err := json.MarshalIndent(d.root, "", "  ")
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(cmd.ExportPath, b, 0o644)
}

// writeSidecar writes the sidecar's JSON bytes to path, zipping it into a
// single-entry archive when path has the ".json.zip" canonical extension.
func writeSidecar(path string, content []byte) error {
	if !strings.HasSuffix(path, ".zip") {
		return os.WriteFile(path, content, 0o644)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry := strings.TrimSuffix(filepath.Base(path), ".zip")
	w, err := zw.Create(entry)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (d *Document) execute(ctx context.Context, requested []string) error {
	d.graph.Compile(d.root)
	plan, warnings := planner.Build(d.root, d.graph, requested)
	for _, w := range warnings {
		if d.logger != nil {
			d.logger.Warn(w)
		}
	}
	index := docmodel.Index(d.root)
	return d.runner.Run(ctx, plan, index, d.cancelCh)
}
