// Package driver implements the outer run-until-pause loop: it drives
// the step engine to each suspension point, dispatches the matching
// external capability, injects the result, and repeats until the run
// completes, errors, or pauses for user input.
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/vibe-run/vibe/internal/observability"
	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/step"
	"github.com/vibe-run/vibe/internal/value"
)

// AIEngine executes one LM round for a suspended do/vibe/compress
// operation. A single call here may itself perform several
// provider round-trips internally (tool-calling rounds); from the
// driver's perspective it is one atomic resume.
type AIEngine interface {
	Execute(ctx context.Context, s *state.State, pending *program.PendingAI) (value.Value, error)
}

// HostEvaluator runs an embedded host-language block.
type HostEvaluator interface {
	Eval(ctx context.Context, s *state.State, pending *program.PendingHostBlock) (value.Value, error)
}

// ToolExecutor invokes a named tool directly (outside an LM tool round).
type ToolExecutor interface {
	Invoke(ctx context.Context, name string, args map[string]any) (value.Value, error)
}

// AsyncScheduler dispatches newly started async operations and blocks
// until at least the requested set has a result.
type AsyncScheduler interface {
	Start(ctx context.Context, s *state.State, starts []state.StartDescriptor)
	Await(ctx context.Context, opIDs []string) map[string]value.Value
}

// Driver wires the step engine to the runtime's external capabilities.
type Driver struct {
	Engine    *step.Engine
	AI        AIEngine
	Host      HostEvaluator
	Tools     ToolExecutor
	Scheduler AsyncScheduler
}

func New(ai AIEngine, host HostEvaluator, tools ToolExecutor, sched AsyncScheduler) *Driver {
	return &Driver{Engine: step.New(), AI: ai, Host: host, Tools: tools, Scheduler: sched}
}

// RunUntilPause advances s until it reaches a terminal status
// (completed/error) or StatusAwaitingUser, which the caller (e.g. the
// CLI driver loop) must resolve externally before calling back in.
func (d *Driver) RunUntilPause(ctx context.Context, s *state.State) (*state.State, error) {
	for {
		s = d.Engine.Run(s)

		if len(s.PendingAsyncStarts) > 0 {
			starts := s.PendingAsyncStarts
			s.PendingAsyncStarts = nil
			d.Scheduler.Start(ctx, s, starts)
		}

		switch s.Status {
		case state.StatusCompleted:
			return s, nil

		case state.StatusError:
			return s, fmt.Errorf("%s", FormatError(s.ErrorObject))

		case state.StatusAwaitingUser:
			return s, nil

		case state.StatusAwaitingAI:
			v, err := d.AI.Execute(ctx, s, s.PendingAI)
			if err != nil {
				return nil, err
			}
			s = s.ResumeWithAIResponse(v)

		case state.StatusAwaitingCompress:
			v, err := d.AI.Execute(ctx, s, s.PendingCompress)
			if err != nil {
				return nil, err
			}
			s = s.ResumeWithCompressResult(v)

		case state.StatusAwaitingHost:
			hctx, span := observability.StartSpan(ctx, "driver.host_block")
			v, err := d.Host.Eval(hctx, s, s.PendingHost)
			if err != nil {
				observability.SetSpanError(span, err)
				span.End()
				return nil, err
			}
			observability.SetSpanOK(span)
			span.End()
			s = s.ResumeWithHostResult(v)

		case state.StatusAwaitingTool:
			tctx, span := observability.StartSpan(ctx, "driver.tool",
				observability.AttrToolName.String(s.PendingTool.ToolName),
			)
			v, err := d.Tools.Invoke(tctx, s.PendingTool.ToolName, s.PendingTool.Args)
			if err != nil {
				observability.SetSpanError(span, err)
				span.End()
				return nil, err
			}
			observability.SetSpanOK(span)
			span.End()
			s = s.ResumeWithToolResult(v)

		case state.StatusAwaitingAsync:
			actx, span := observability.StartSpan(ctx, "driver.async_await")
			resolved := d.Scheduler.Await(actx, s.AwaitingAsyncIDs)
			observability.SetSpanOK(span)
			span.End()
			s = s.ResumeWithAsyncResults(resolved)

		default:
			return nil, fmt.Errorf("driver: unhandled status %q", s.Status)
		}
	}
}

// FormatError renders a fatal error as "[<file>:<line>:<col>]
// <message>" followed by a synthesized stack trace section, matching
// the diagnostic text a host-language stack unwind would have produced.
func FormatError(detail *value.ErrDetail) string {
	if detail == nil {
		return "unknown error"
	}
	var b strings.Builder
	if detail.Location != "" {
		fmt.Fprintf(&b, "[%s] %s", detail.Location, detail.Message)
	} else {
		b.WriteString(detail.Message)
	}
	b.WriteString("\nstack trace:\n")
	if detail.Type != "" {
		fmt.Fprintf(&b, "  %s: %s\n", detail.Type, detail.Message)
	}
	if detail.Location != "" {
		fmt.Fprintf(&b, "  at %s\n", detail.Location)
	}
	return b.String()
}
