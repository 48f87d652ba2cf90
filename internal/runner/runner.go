// Package runner implements the execution runner component (C4): driving a
// plan stage by stage, transitioning node statuses, honouring partial
// cancellation, and emitting patches. Adapted from the workflow engine's
// DAGExecutor wave loop (internal/application/engine/dag_executor.go in the
// teacher) and from the original Stencila node-execute/src/execute.rs
// select-loop, translated to Go's semaphore/WaitGroup and channel idioms.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/smilemakc/docengine/internal/dispatch"
	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/internal/patchbus"
	"github.com/smilemakc/docengine/internal/planner"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Options bound the runner's concurrency and per-step timeout.
type Options struct {
	MaxConcurrency int64
	StepTimeout    time.Duration
}

// DefaultOptions mirrors the workflow engine's default execution options.
func DefaultOptions() Options {
	return Options{MaxConcurrency: 8, StepTimeout: 30 * time.Second}
}

// nodeInfo is the runner's snapshot of one node at plan-build time, per
// §4.4's `NodeInfo{resource_info, node_id, node_address, node_copy,
// previous_status}`.
type nodeInfo struct {
	node           *docmodel.Node
	previousStatus docmodel.ExecutionStatus
}

// Runner drives one Plan to completion against a kernel space and a patch
// bus, dispatching per-node-kind behaviour through dispatch.Dispatcher.For.
type Runner struct {
	space  *kernel.Space
	bus    *patchbus.Bus
	disp   *dispatch.Dispatcher
	graph  *graph.Graph
	logger *logger.Logger
	opts   Options

	mu        sync.Mutex
	cancelled map[string]bool
	cancelAll bool
}

// New constructs a Runner.
func New(space *kernel.Space, bus *patchbus.Bus, disp *dispatch.Dispatcher, g *graph.Graph, log *logger.Logger, opts Options) *Runner {
	return &Runner{
		space:     space,
		bus:       bus,
		disp:      disp,
		graph:     g,
		logger:    log,
		opts:      opts,
		cancelled: make(map[string]bool),
	}
}

// CancelRequest mirrors §4.4's wait-loop cancellation message: a specific
// node id, or nil to cancel every remaining node in the plan.
type CancelRequest struct {
	NodeID *string
}

// Run executes plan against index (the NodeId -> *Node lookup for the whole
// tree), honouring cancelRequests until the plan completes or every node is
// cancelled. It returns once every stage has run, or earlier when a stage's
// dependencies have failed or every node is cancelled; planned nodes that
// never started are then restored to their previous status.
func (r *Runner) Run(ctx context.Context, plan planner.Plan, index map[string]*docmodel.Node, cancelRequests <-chan CancelRequest) error {
	if len(plan.Stages) == 0 {
		return nil
	}

	// Pre-run: drain stale cancellations, then snapshot every planned node.
	drainCancellations(cancelRequests)
	r.mu.Lock()
	r.cancelled = make(map[string]bool)
	r.cancelAll = false
	r.mu.Unlock()

	infos := make(map[string]*nodeInfo)
	var allIDs []string
	for _, stage := range plan.Stages {
		for _, step := range stage.Steps {
			n := index[step.NodeID]
			if n == nil {
				continue
			}
			infos[step.NodeID] = &nodeInfo{node: n, previousStatus: n.ExecutionStatus}
			allIDs = append(allIDs, step.NodeID)
		}
	}

	r.setScheduled(allIDs, infos)

	dependenciesFailed := false
	for _, stage := range plan.Stages {
		if dependenciesFailed {
			break
		}
		if r.isCancelledAll() {
			break
		}

		if r.stageDependenciesFailed(stage, infos, index) {
			dependenciesFailed = true
			break
		}

		r.drainInto(cancelRequests)

		if err := r.runStage(ctx, stage, infos, cancelRequests); err != nil {
			r.logger.Warn("stage execution error", "error", err)
		}
	}

	if dependenciesFailed {
		r.restorePending(infos)
	}
	if r.isCancelledAll() {
		var patches []docmodel.Patch
		for id, info := range infos {
			if info.node.ExecutionStatus.IsScheduledLike() {
				info.node.RestorePreviousStatus()
				patches = append(patches, statusPatch(id, info.node.ExecutionStatus))
			}
		}
		r.bus.Send(patches)
	}

	return nil
}

func drainCancellations(ch <-chan CancelRequest) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (r *Runner) drainInto(ch <-chan CancelRequest) {
	for {
		select {
		case req := <-ch:
			r.applyCancel(req)
		default:
			return
		}
	}
}

func (r *Runner) applyCancel(req CancelRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.NodeID == nil {
		r.cancelAll = true
		return
	}
	r.cancelled[*req.NodeID] = true
}

func (r *Runner) isCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelAll || r.cancelled[id]
}

func (r *Runner) isCancelledAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelAll
}

func (r *Runner) setScheduled(ids []string, infos map[string]*nodeInfo) {
	var patches []docmodel.Patch
	for _, id := range ids {
		info := infos[id]
		status := docmodel.StatusScheduled
		if info.previousStatus == docmodel.StatusFailed {
			status = docmodel.StatusScheduledPreviouslyFailed
		}
		info.node.SetStatus(status)
		patches = append(patches, statusPatch(id, status))
	}
	r.bus.Send(patches)
}

func (r *Runner) stageDependenciesFailed(stage planner.Stage, infos map[string]*nodeInfo, index map[string]*docmodel.Node) bool {
	for _, step := range stage.Steps {
		info := infos[step.NodeID]
		for _, depID := range info.node.ExecutionDependencies {
			dep := index[depID]
			if dep == nil {
				continue
			}
			switch dep.ExecutionStatus {
			case docmodel.StatusFailed, docmodel.StatusCancelled, docmodel.StatusPending:
				return true
			}
		}
	}
	return false
}

func (r *Runner) runStage(ctx context.Context, stage planner.Stage, infos map[string]*nodeInfo, cancelRequests <-chan CancelRequest) error {
	sem := semaphore.NewWeighted(r.opts.MaxConcurrency)
	type result struct {
		nodeID string
		err    error
	}
	results := make(chan result, len(stage.Steps))
	var wg sync.WaitGroup

	for _, step := range stage.Steps {
		step := step
		info := infos[step.NodeID]

		if r.isCancelled(step.NodeID) {
			info.node.RestorePreviousStatus()
			r.bus.Send([]docmodel.Patch{statusPatch(step.NodeID, info.node.ExecutionStatus)})
			continue
		}

		status := docmodel.StatusRunning
		if info.previousStatus == docmodel.StatusFailed {
			status = docmodel.StatusRunningPreviouslyFailed
		}
		info.node.SetStatus(status)
		r.bus.Send([]docmodel.Patch{statusPatch(step.NodeID, status)})

		wg.Add(1)
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Done()
			continue
		}
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			err := r.runStep(ctx, step, info)
			results <- result{nodeID: step.NodeID, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return nil
			}
			if res.err != nil {
				r.logger.Warn("step failed", "node", res.nodeID, "error", res.err)
			}
		case req := <-cancelRequests:
			r.applyCancel(req)
		}
	}
}

func (r *Runner) runStep(ctx context.Context, step planner.Step, info *nodeInfo) error {
	stepCtx := ctx
	var cancel context.CancelFunc
	if r.opts.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, r.opts.StepTimeout)
		defer cancel()
	}

	exec := r.disp.For(info.node)
	if exec == nil {
		info.node.SetStatus(docmodel.StatusFailed)
		r.bus.Send([]docmodel.Patch{statusPatch(step.NodeID, docmodel.StatusFailed)})
		return fmt.Errorf("%w: %s", docmodel.ErrUnsupportedNodeKind, info.node.Type)
	}

	patches, err := exec.Execute(stepCtx, dispatch.ExecContext{
		Space:  r.space,
		Graph:  r.graph,
		IsFork: step.IsFork,
		Disp:   r.disp,
	}, info.node)

	if r.isCancelled(step.NodeID) {
		info.node.SetStatus(docmodel.StatusCancelled)
		r.bus.Send([]docmodel.Patch{statusPatch(step.NodeID, docmodel.StatusCancelled)})
		return nil
	}

	info.node.IncrementExecutionCount()
	info.node.ExecutionEnded = true

	if stepCtx.Err() == context.DeadlineExceeded {
		info.node.ExecutionMessages = append(info.node.ExecutionMessages, docmodel.ExecutionMessage{
			Kind: docmodel.MessageKindTimeout, Message: "execution timed out",
		})
		info.node.SetStatus(docmodel.StatusFailed)
		r.bus.Send([]docmodel.Patch{statusPatch(step.NodeID, docmodel.StatusFailed)})
		return docmodel.ErrExecutionTimeout
	}

	if err != nil {
		info.node.ExecutionMessages = append(info.node.ExecutionMessages, docmodel.ExecutionMessage{
			Kind: docmodel.MessageKindError, Message: err.Error(),
		})
		info.node.SetStatus(docmodel.StatusFailed)
		patches = append(patches, statusPatch(step.NodeID, docmodel.StatusFailed))
		r.bus.Send(patches)
		return err
	}

	info.node.ExecutionDigest = info.node.CompilationDigest
	info.node.SetStatus(docmodel.StatusSucceeded)
	patches = append(patches, statusPatch(step.NodeID, docmodel.StatusSucceeded))
	r.bus.Send(patches)
	return nil
}

func (r *Runner) restorePending(infos map[string]*nodeInfo) {
	var patches []docmodel.Patch
	for id, info := range infos {
		if info.node.ExecutionStatus.IsScheduledLike() || info.node.ExecutionStatus.IsRunningLike() {
			info.node.ExecutionRequired = docmodel.RequiredDependenciesFailed
			info.node.RestorePreviousStatus()
			patches = append(patches, statusPatch(id, info.node.ExecutionStatus))
		}
	}
	if len(patches) > 0 {
		r.bus.Send(patches)
	}
}

func statusPatch(nodeID string, status docmodel.ExecutionStatus) docmodel.Patch {
	return docmodel.Patch{
		NodeID: nodeID,
		Path:   docmodel.PatchPath{docmodel.Property("executionStatus")},
		Ops:    []docmodel.PatchOp{docmodel.SetOp(status)},
	}
}
