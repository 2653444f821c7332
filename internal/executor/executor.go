// Package executor runs a closure of actions with a bounded worker pool.
// A failing action blocks its downstream subtree but leaves independent
// branches running, so one broken target never hides the rest of the build.
package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/anvil-build/anvil/internal/ctxlog"
	"github.com/anvil-build/anvil/internal/graph"
)

// Executor schedules actions over a fixed-size worker pool.
type Executor struct {
	Paths   Paths
	Mem     *MemStore
	Workers int
}

// New returns an executor rooted at the workspace root. workers <= 0 selects
// one worker per CPU.
func New(root string, mem *MemStore, workers int) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{Paths: Paths{Root: root}, Mem: mem, Workers: workers}
}

// Result summarizes one execution of an action closure.
type Result struct {
	Ran     int
	Failed  []*graph.Action
	Blocked []*graph.Action
}

// OK reports whether every action in the closure succeeded.
func (r *Result) OK() bool {
	return len(r.Failed) == 0 && len(r.Blocked) == 0
}

// node wraps an action with the bookkeeping the scheduler needs.
type node struct {
	action     *graph.Action
	remaining  atomic.Int32
	dependents []*node
	skipOnce   sync.Once
}

// Execute runs every action needed to bring the given artifacts up to date.
// It returns an error only for definition problems discovered while planning;
// command failures are reported through the Result instead.
func (e *Executor) Execute(ctx context.Context, targets []*graph.Artifact) (*Result, error) {
	actions := graph.ActionClosure(targets)
	nodes, err := e.plan(actions)
	if err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	readyChan := make(chan *node, len(nodes))
	for _, n := range nodes {
		if n.remaining.Load() == 0 {
			readyChan <- n
		}
	}

	var wg sync.WaitGroup
	wg.Add(len(nodes))

	logger.Debug("starting worker pool", "workers", e.Workers, "actions", len(nodes))
	for i := 0; i < e.Workers; i++ {
		go e.worker(ctx, readyChan, &wg)
	}
	wg.Wait()
	close(readyChan)

	result := &Result{Ran: len(nodes)}
	for _, n := range nodes {
		switch n.action.State() {
		case graph.ActionFailed:
			result.Failed = append(result.Failed, n.action)
		case graph.ActionBlocked:
			result.Blocked = append(result.Blocked, n.action)
		}
	}
	return result, nil
}

// plan builds scheduler nodes for the closure and validates that every input
// is either an existing source file or produced by an action in the closure.
func (e *Executor) plan(actions []*graph.Action) ([]*node, error) {
	byAction := make(map[*graph.Action]*node, len(actions))
	nodes := make([]*node, 0, len(actions))
	for _, a := range actions {
		a.SetState(graph.ActionPending)
		a.Err = nil
		n := &node{action: a}
		byAction[a] = n
		nodes = append(nodes, n)
	}

	for _, n := range nodes {
		deps := make(map[*node]bool)
		for _, in := range n.action.AllInputs() {
			producer := in.Producer
			if producer == nil {
				if in.Kind != graph.SourceArtifact {
					return nil, graph.Definitionf(n.action.Rule.Label.String(),
						"%s depends on %q, but no rule generates it", n.action.Describe(), in.Path)
				}
				if _, err := os.Stat(e.Paths.Disk(in)); err != nil {
					return nil, graph.Definitionf(n.action.Rule.Label.String(),
						"required source file %q does not exist", in.Path)
				}
				continue
			}
			dep, ok := byAction[producer]
			if !ok || dep == n {
				continue
			}
			if !deps[dep] {
				deps[dep] = true
				dep.dependents = append(dep.dependents, n)
				n.remaining.Add(1)
			}
		}
	}
	return nodes, nil
}

func (e *Executor) worker(ctx context.Context, readyChan chan *node, wg *sync.WaitGroup) {
	logger := ctxlog.FromContext(ctx)
	for n := range readyChan {
		if ctx.Err() != nil {
			n.skipOnce.Do(func() {
				n.action.SetState(graph.ActionBlocked)
				n.action.Err = ctx.Err()
				wg.Done()
				e.skipDependents(ctx, n, wg)
			})
			continue
		}

		a := n.action
		a.SetState(graph.ActionRunning)
		logger.Info(a.Describe())

		if err := e.runAction(ctx, a); err != nil {
			logger.Error("action failed", "action", a.Describe(), "error", err)
			a.SetState(graph.ActionFailed)
			a.Err = err
			e.skipDependents(ctx, n, wg)
			wg.Done()
			continue
		}

		a.SetState(graph.ActionSucceeded)
		for _, dependent := range n.dependents {
			if dependent.remaining.Add(-1) == 0 {
				dependent.action.SetState(graph.ActionReady)
				readyChan <- dependent
			}
		}
		wg.Done()
	}
}

// skipDependents marks everything downstream of a failed action as blocked.
// Independent subtrees are untouched and keep executing.
func (e *Executor) skipDependents(ctx context.Context, n *node, wg *sync.WaitGroup) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("skipping action, dependency failed",
				"action", dependent.action.Describe(), "dependency", n.action.Describe())
			dependent.action.SetState(graph.ActionBlocked)
			dependent.action.Err = fmt.Errorf("blocked by failure of %s", n.action.Describe())
			wg.Done()
			e.skipDependents(ctx, dependent, wg)
		})
	}
}
