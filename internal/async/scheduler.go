// Package async implements the runtime's async scheduler: a FIFO wave
// of started operations bounded by max_parallel, each run to
// completion against an isolated state clone so its mutations never
// leak back into the caller before an explicit or implicit join.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/step"
	"github.com/vibe-run/vibe/internal/value"
	"golang.org/x/sync/errgroup"
)

// RunIsolated drives an isolated state to completion. It is the same
// shape as driver.Driver.RunUntilPause, injected rather than imported
// directly to avoid a cycle between the driver and scheduler packages
// (the driver is the one thing that constructs a Scheduler).
type RunIsolated func(ctx context.Context, s *state.State) (*state.State, error)

// Scheduler dispatches StartDescriptors in FIFO waves no wider than
// MaxParallel concurrent goroutines: a bounded worker count applied to
// in-process coroutine fan-out instead of a polled DB table.
type Scheduler struct {
	MaxParallel int
	Run         RunIsolated

	mu      sync.Mutex
	results map[string]value.Value
	errs    map[string]error
	done    map[string]chan struct{}
}

func NewScheduler(maxParallel int, run RunIsolated) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Scheduler{
		MaxParallel: maxParallel,
		Run:         run,
		results:     make(map[string]value.Value),
		errs:        make(map[string]error),
		done:        make(map[string]chan struct{}),
	}
}

// Start launches one goroutine per descriptor, bounded to MaxParallel
// concurrently running at any instant via errgroup.SetLimit — a wave,
// not a single fixed batch: as soon as one op finishes, the next queued
// one starts, rather than waiting for the whole wave to drain.
func (sch *Scheduler) Start(ctx context.Context, parent *state.State, starts []state.StartDescriptor) {
	sch.mu.Lock()
	for _, d := range starts {
		sch.done[d.OpID] = make(chan struct{})
	}
	sch.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sch.MaxParallel)
	for _, d := range starts {
		d := d
		g.Go(func() error {
			v, err := sch.execOne(gctx, parent, d)
			sch.mu.Lock()
			sch.results[d.OpID] = v
			sch.errs[d.OpID] = err
			close(sch.done[d.OpID])
			sch.mu.Unlock()
			return nil
		})
	}
	// Fire-and-forget: the wave runs in the background; Await blocks on
	// the specific op ids a join point actually needs.
	go g.Wait()
}

// Await blocks until every requested op id has a result and returns
// them as the resolved map a resume operation expects.
func (sch *Scheduler) Await(ctx context.Context, opIDs []string) map[string]value.Value {
	out := make(map[string]value.Value, len(opIDs))
	for _, id := range opIDs {
		sch.mu.Lock()
		ch, ok := sch.done[id]
		sch.mu.Unlock()
		if !ok {
			out[id] = value.AsError(fmt.Sprintf("unknown async op %q", id), "InternalError", "")
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			out[id] = value.AsError("async join canceled", "InternalError", "")
			continue
		}
		sch.mu.Lock()
		v, err := sch.results[id], sch.errs[id]
		sch.mu.Unlock()
		if err != nil {
			out[id] = value.AsError(err.Error(), "InternalError", "")
			continue
		}
		out[id] = v
	}
	return out
}

// execOne runs a single started operation to completion against a
// state clone isolated per CloneForIsolation: a clone of the caller's
// program frame plus a fresh frame, with every async-related field
// reset, so the isolated invocation can freely mutate its own locals
// without the parent ever observing it.
func (sch *Scheduler) execOne(ctx context.Context, parent *state.State, d state.StartDescriptor) (value.Value, error) {
	isolated := parent.CloneForIsolation(state.NewFrame("<async>", ""))

	switch d.Kind {
	case "ai":
		isolated.PendingAI = &program.PendingAI{
			OperationType: "do",
			ModelVarName:  d.ModelVar,
			Prompt:        d.Prompt,
		}
		isolated.Status = state.StatusAwaitingAI

	case "host-block":
		isolated.CurrentFrame().Pending = step.CompileBody([]*program.Node{d.Body})

	case "vibe-function":
		fn, ok := parent.Functions[d.FuncName]
		if !ok {
			return value.AsError(fmt.Sprintf("undefined function %q", d.FuncName), "ScopeError", ""), nil
		}
		frame := state.NewFrame(fn.Name, fn.ModulePath)
		for i, p := range fn.Params {
			if i < len(d.FuncArgs) {
				frame.Declare(p.Name, d.FuncArgs[i])
			} else {
				frame.Declare(p.Name, value.Null())
			}
		}
		frame.Pending = step.CompileBody(fn.Body)
		isolated.CallStack = []*state.Frame{isolated.CallStack[0], frame}

	default:
		return value.AsError(fmt.Sprintf("unknown async start kind %q", d.Kind), "InternalError", ""), nil
	}

	final, err := sch.Run(ctx, isolated)
	if err != nil {
		return value.Value{}, err
	}
	if final.Status == state.StatusError && final.ErrorObject != nil {
		return value.AsError(final.ErrorObject.Message, final.ErrorObject.Type, final.ErrorObject.Location), nil
	}
	return final.LastResult, nil
}
