// Package hostblock evaluates embedded host-language snippets using
// goja as the reference host-language runtime, the same role
// grafana-k6 gives goja for its own embedded-script evaluation,
// adapted here to a single statement-block snippet instead of a whole
// test script.
package hostblock

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

// Evaluator runs one host-block body per call. A fresh goja.Runtime is
// used per evaluation rather than pooled, since host blocks are
// expected to be short and isolation between calls matters more than
// VM reuse overhead at this scale.
type Evaluator struct {
	Timeout time.Duration
}

func New() *Evaluator {
	return &Evaluator{Timeout: 5 * time.Second}
}

// Eval implements the awaiting_host/awaiting_imported_host resume path.
func (e *Evaluator) Eval(ctx context.Context, s *state.State, pending *program.PendingHostBlock) (value.Value, error) {
	if pending.Imported {
		return e.evalImported(s, pending)
	}

	vm := goja.New()
	for i, name := range pending.BoundNames {
		var payload any
		if i < len(pending.BoundValues) {
			payload = unwrapForHost(pending.BoundValues[i])
		}
		if err := vm.Set(name, payload); err != nil {
			return value.AsError(fmt.Sprintf("bind host-block parameter %q: %s", name, err), "HostBlockError", pending.Loc.String()), nil
		}
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("host block evaluation timed out")
		case <-done:
		}
	}()

	result, err := vm.RunString(pending.Body)
	close(done)
	if err != nil {
		return value.AsError(err.Error(), "HostBlockError", pending.Loc.String()), nil
	}
	return wrapFromHost(result.Export()), nil
}

func (e *Evaluator) evalImported(s *state.State, pending *program.PendingHostBlock) (value.Value, error) {
	mod, ok := s.HostModules[pending.HostModule]
	if !ok {
		return value.AsError(fmt.Sprintf("unknown host module %q", pending.HostModule), "ScopeError", pending.Loc.String()), nil
	}
	fn, ok := mod.Exports[pending.HostFunction]
	if !ok {
		return value.AsError(fmt.Sprintf("host module %q has no export %q", pending.HostModule, pending.HostFunction), "ScopeError", pending.Loc.String()), nil
	}
	v, err := fn(pending.BoundValues)
	if err != nil {
		return value.AsError(err.Error(), "HostBlockError", pending.Loc.String()), nil
	}
	return v, nil
}

// unwrapForHost strips the wrapped-value envelope before handing a
// parameter to the host VM: the host language sees plain data, never
// the runtime's Source/Error/DeclaredType bookkeeping.
func unwrapForHost(v value.Value) any {
	if v.Error {
		return map[string]any{"err": true, "message": v.ErrMessage()}
	}
	return v.Payload
}

// wrapFromHost re-wraps whatever the host VM produced, inferring a
// declared type only loosely from the Go-native shape goja.Export
// returns; validation against an explicit declared type (if any)
// happens when the result is bound via the resume path's declare/assign
// handling.
func wrapFromHost(raw any) value.Value {
	switch v := raw.(type) {
	case int64:
		return value.Wrap(float64(v), value.SourceHostBlock, value.TypeNumber)
	case float64:
		return value.Wrap(v, value.SourceHostBlock, value.TypeNumber)
	case string:
		return value.Wrap(v, value.SourceHostBlock, value.TypeText)
	case bool:
		return value.Wrap(v, value.SourceHostBlock, value.TypeBoolean)
	case nil:
		return value.Null()
	default:
		return value.Wrap(raw, value.SourceHostBlock, "")
	}
}
