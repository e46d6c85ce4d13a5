package async

import (
	"context"
	"testing"
	"time"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

func runImmediate(ctx context.Context, s *state.State) (*state.State, error) {
	if s.Status == state.StatusAwaitingAI {
		return s.ResumeWithAIResponse(value.Wrap("ok", value.SourceAI, value.TypeText)).Complete(value.Wrap("ok", value.SourceAI, value.TypeText)), nil
	}
	return s.Complete(value.Null()), nil
}

func TestSchedulerAwaitResolvesAllRequestedOps(t *testing.T) {
	sch := NewScheduler(2, runImmediate)

	starts := []state.StartDescriptor{
		{OpID: "ts-000001", Kind: "ai", Prompt: "one"},
		{OpID: "ts-000002", Kind: "ai", Prompt: "two"},
	}
	base := state.CreateInitialState(&program.Tree{Functions: map[string]*program.FunctionDef{}}, "/tmp", 2)
	sch.Start(context.Background(), base, starts)

	resolved := sch.Await(context.Background(), []string{"ts-000001", "ts-000002"})
	if len(resolved) != 2 {
		t.Fatalf("expected 2 resolved ops, got %d", len(resolved))
	}
	for id, v := range resolved {
		if v.Error {
			t.Errorf("op %s: unexpected error %v", id, v.ErrMessage())
		}
	}
}

func TestSchedulerAwaitTimesOutOnCanceledContext(t *testing.T) {
	blocked := func(ctx context.Context, s *state.State) (*state.State, error) {
		<-ctx.Done()
		return s.Complete(value.Null()), nil
	}
	sch := NewScheduler(1, blocked)
	base := state.CreateInitialState(&program.Tree{Functions: map[string]*program.FunctionDef{}}, "/tmp", 1)
	sch.Start(context.Background(), base, []state.StartDescriptor{{OpID: "ts-000003", Kind: "ai"}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out := sch.Await(ctx, []string{"ts-000003"})
	if !out["ts-000003"].Error {
		t.Fatalf("expected canceled join to surface an errored value")
	}
}
