package state

import "github.com/vibe-run/vibe/internal/value"

// bindResult assigns a resolved value to the variable name the pending
// operation recorded, honoring declared type / destructuring the way
// declare_var would have.
func (s *State) bindResult(varName string, v value.Value) {
	if varName == "" {
		s.LastResult = v
		return
	}
	s.CurrentFrame().Declare(varName, v)
	s.LastResult = v
}

// ResumeWithAIResponse injects an LM result and clears the awaiting_ai slot.
func (s *State) ResumeWithAIResponse(v value.Value) *State {
	cp := s.shallowClone()
	if cp.PendingAI != nil {
		cp.bindResult(cp.PendingAI.ResultVarName, v)
	}
	cp.PendingAI = nil
	cp.Status = StatusRunning
	return cp
}

// ResumeWithHostResult resumes a run suspended on a host-block evaluation.
func (s *State) ResumeWithHostResult(v value.Value) *State {
	cp := s.shallowClone()
	if cp.PendingHost != nil {
		cp.bindResult(cp.PendingHost.ResultVarName, v)
	}
	cp.PendingHost = nil
	cp.Status = StatusRunning
	return cp
}

// ResumeWithToolResult resumes a run suspended on a direct tool invocation.
func (s *State) ResumeWithToolResult(v value.Value) *State {
	cp := s.shallowClone()
	if cp.PendingTool != nil {
		cp.bindResult(cp.PendingTool.ResultVarName, v)
	}
	cp.PendingTool = nil
	cp.Status = StatusRunning
	return cp
}

// ResumeWithCompressResult resumes a run suspended on a compress round.
func (s *State) ResumeWithCompressResult(v value.Value) *State {
	cp := s.shallowClone()
	if cp.PendingCompress != nil {
		cp.bindResult(cp.PendingCompress.ResultVarName, v)
	}
	cp.PendingCompress = nil
	cp.Status = StatusRunning
	return cp
}

// ResumeWithAsyncResults injects each resolved async entry's value into
// whichever variable points at it, then clears it from the awaiting
// frontier.
func (s *State) ResumeWithAsyncResults(resolved map[string]value.Value) *State {
	cp := s.shallowClone()
	for opID, v := range resolved {
		for varName, boundOp := range cp.AsyncVarToOp {
			if boundOp != opID {
				continue
			}
			// Search frames innermost-out so the binding lands wherever
			// the async variable actually lives.
			for i := len(cp.CallStack) - 1; i >= 0; i-- {
				if cp.CallStack[i].Assign(varName, v) {
					break
				}
			}
		}
		delete(cp.PendingAsyncIDs, opID)
	}
	remaining := cp.AwaitingAsyncIDs[:0:0]
	for _, id := range cp.AwaitingAsyncIDs {
		if _, done := resolved[id]; !done {
			remaining = append(remaining, id)
		}
	}
	cp.AwaitingAsyncIDs = remaining
	if len(cp.AwaitingAsyncIDs) == 0 {
		cp.Status = StatusRunning
	}
	return cp
}

// Fail transitions to the fatal status: scope/import/validation errors
// become status=error rather than an errored value.
func (s *State) Fail(detail value.ErrDetail) *State {
	cp := s.shallowClone()
	cp.Status = StatusError
	d := detail
	cp.ErrorObject = &d
	return cp
}

// Complete marks the run finished with a final value.
func (s *State) Complete(v value.Value) *State {
	cp := s.shallowClone()
	cp.Status = StatusCompleted
	cp.LastResult = v
	return cp
}
