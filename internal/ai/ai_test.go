package ai

import (
	"context"
	"testing"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

type fakeProvider struct {
	responses []Response
	calls     int
}

func (f *fakeProvider) Complete(ctx context.Context, req Request) (Response, error) {
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

type noopTools struct{}

func (noopTools) Invoke(ctx context.Context, name string, args map[string]any) (value.Value, error) {
	return value.Wrap("unused", value.SourceHostBlock, value.TypeText), nil
}

func newTestState(t *testing.T, modelVar string, model value.Value) *state.State {
	t.Helper()
	s := state.CreateInitialState(&program.Tree{Functions: map[string]*program.FunctionDef{}}, "/tmp", 4)
	s.CurrentFrame().Declare(modelVar, model)
	return s
}

func TestEngineExecuteDoReturnsPlainText(t *testing.T) {
	e := NewEngine(DefaultConfig(), noopTools{}, nil, nil, nil, nil, nil)
	e.providers["openai"] = &fakeProvider{responses: []Response{{Content: "hello there"}}}

	model := value.Wrap(value.Record{"name": "gpt-4o-mini", "api_key": "test-key", "provider": "openai"}, value.SourceLiteral, value.TypeModel)
	s := newTestState(t, "model", model)

	pending := &program.PendingAI{OperationType: "do", ModelVarName: "model", Prompt: "say hi"}
	v, err := e.Execute(context.Background(), s, pending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Error {
		t.Fatalf("unexpected errored value: %s", v.ErrMessage())
	}
	if got, _ := v.Text(); got != "hello there" {
		t.Errorf("got %q, want %q", got, "hello there")
	}
}

func TestEngineExecuteStructuredReturnUsesReturnTool(t *testing.T) {
	e := NewEngine(DefaultConfig(), noopTools{}, nil, nil, nil, nil, nil)
	e.providers["openai"] = &fakeProvider{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "1", Name: ReturnToolName, Args: map[string]any{"value": float64(42)}}}},
	}}

	model := value.Wrap(value.Record{"name": "gpt-4o-mini", "api_key": "test-key", "provider": "openai"}, value.SourceLiteral, value.TypeModel)
	s := newTestState(t, "model", model)

	pending := &program.PendingAI{OperationType: "do", ModelVarName: "model", Prompt: "pick a number", TargetType: value.TypeNumber}
	v, err := e.Execute(context.Background(), s, pending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Error {
		t.Fatalf("unexpected errored value: %s", v.ErrMessage())
	}
	if n, _ := v.Number(); n != 42 {
		t.Errorf("got %v, want 42", n)
	}
}

func TestEngineExecuteUnboundModelVarIsScopeError(t *testing.T) {
	e := NewEngine(DefaultConfig(), noopTools{}, nil, nil, nil, nil, nil)
	s := state.CreateInitialState(&program.Tree{Functions: map[string]*program.FunctionDef{}}, "/tmp", 4)
	pending := &program.PendingAI{OperationType: "do", ModelVarName: "missing", Prompt: "x"}
	v, err := e.Execute(context.Background(), s, pending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Error {
		t.Fatalf("expected an errored value for an unbound model variable")
	}
}
