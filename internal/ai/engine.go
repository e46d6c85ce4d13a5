package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/vibe-run/vibe/internal/circuitbreaker"
	"github.com/vibe-run/vibe/internal/cost"
	"github.com/vibe-run/vibe/internal/metrics"
	"github.com/vibe-run/vibe/internal/observability"
	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/ratelimit"
	"github.com/vibe-run/vibe/internal/secrets"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

// RunLogger records one LM interaction for the verbose event log.
// Implemented by internal/runlog; kept as an interface here so this
// package never imports a storage driver directly.
type RunLogger interface {
	LogInteraction(ctx context.Context, id, operationType, model, prompt, response, errMsg string)
}

// Config configures retry/backoff policy, circuit-breaker thresholds,
// and per-model rate-limit tokens for the LM engine.
type Config struct {
	MaxRetries      int
	RetryBaseDelay  time.Duration
	BreakerErrorPct float64
	BreakerWindow   time.Duration
	BreakerOpenFor  time.Duration

	// RateLimitBurst and RateLimitRefillPerSec size the per-model token
	// bucket checked before each provider round-trip. Zero disables the
	// check regardless of whether a Backend is configured.
	RateLimitBurst        int
	RateLimitRefillPerSec float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:            3,
		RetryBaseDelay:        500 * time.Millisecond,
		BreakerErrorPct:       50,
		BreakerWindow:         time.Minute,
		BreakerOpenFor:        30 * time.Second,
		RateLimitBurst:        20,
		RateLimitRefillPerSec: 5,
	}
}

// Engine is the LM engine: it turns one suspended PendingAI into a
// resolved Value by assembling context, running the provider's
// tool-calling loop to a return, and recording usage/cost/diagnostics
// along the way.
type Engine struct {
	cfg Config

	providers map[string]ProviderExecutor
	tools     ToolInvoker
	secrets   *secrets.Resolver
	cost      *cost.Calculator
	breakers  *circuitbreaker.Registry
	log       RunLogger
	ctxCache  *ContextCache
	limiter   ratelimit.Backend

	seq int
}

// NewEngine wires an LM engine. ctxCache may be nil to disable context
// chunk memoization; limiter may be nil to disable rate limiting.
func NewEngine(cfg Config, tools ToolInvoker, secretsResolver *secrets.Resolver, calc *cost.Calculator, log RunLogger, ctxCache *ContextCache, limiter ratelimit.Backend) *Engine {
	return &Engine{
		cfg: cfg,
		providers: map[string]ProviderExecutor{
			"openai":    NewOpenAIStyleProvider(),
			"anthropic": NewAnthropicStyleProvider(),
		},
		tools:    tools,
		secrets:  secretsResolver,
		cost:     calc,
		breakers: circuitbreaker.NewRegistry(),
		log:      log,
		ctxCache: ctxCache,
		limiter:  limiter,
	}
}

// modelFromValue unpacks a TypeModel-declared Value into the fields the
// engine needs, resolving a $SECRET: API key reference along the way.
func (e *Engine) modelFromValue(ctx context.Context, v value.Value) (name, apiKey, baseURL, provider string, tools []value.ToolDescriptor, err error) {
	rec, ok := v.Payload.(value.Record)
	if !ok {
		if m, ok2 := v.Payload.(map[string]any); ok2 {
			rec = value.Record(m)
		} else {
			return "", "", "", "", nil, fmt.Errorf("model variable does not hold a model record")
		}
	}
	name, _ = rec["name"].(string)
	apiKey, _ = rec["api_key"].(string)
	baseURL, _ = rec["url"].(string)
	provider, _ = rec["provider"].(string)
	if apiKey != "" && secrets.IsSecretRef(apiKey) && e.secrets != nil {
		resolved, rerr := e.secrets.ResolveValue(ctx, apiKey)
		if rerr != nil {
			return "", "", "", "", nil, fmt.Errorf("resolve model api key: %w", rerr)
		}
		apiKey = resolved
	}
	if ts, ok := rec["tools"].([]value.ToolDescriptor); ok {
		tools = ts
	}
	return name, apiKey, baseURL, provider, tools, nil
}

// Execute implements the awaiting_ai/awaiting_compress resume path:
// resolve the model, run the provider round-trip loop until a
// structured return or final text, and hand back a Value the driver
// injects via ResumeWithAIResponse/ResumeWithCompressResult.
func (e *Engine) Execute(ctx context.Context, s *state.State, pending *program.PendingAI) (value.Value, error) {
	ctx, span := observability.StartSpan(ctx, "ai."+pending.OperationType,
		observability.AttrOperationType.String(pending.OperationType),
	)
	defer span.End()

	modelVal, ok := s.ResolveName(pending.ModelVarName)
	if !ok || modelVal.DeclaredType != value.TypeModel {
		observability.SetSpanError(span, fmt.Errorf("model variable %q unbound", pending.ModelVarName))
		return value.AsError(fmt.Sprintf("model variable %q is not bound to a model value", pending.ModelVarName), "ScopeError", ""), nil
	}
	name, apiKey, baseURL, provider, modelTools, err := e.modelFromValue(ctx, modelVal)
	if err != nil {
		observability.SetSpanError(span, err)
		return value.AsError(err.Error(), "ConfigError", ""), nil
	}
	span.SetAttributes(observability.AttrModel.String(name))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	exec, ok := e.providers[provider]
	if !ok {
		exec = e.providers["openai"]
	}

	breaker := e.breakers.Get(name, circuitbreaker.Config{
		ErrorPct: e.cfg.BreakerErrorPct, WindowDuration: e.cfg.BreakerWindow, OpenDuration: e.cfg.BreakerOpenFor,
	})
	if breaker != nil && !breaker.Allow() {
		err := fmt.Errorf("model %q circuit breaker is open", name)
		observability.SetSpanError(span, err)
		return value.AsError(err.Error(), "ProviderUnavailable", ""), nil
	}

	needsReturn := pending.TargetType != "" || len(pending.Destructure) > 0
	maxRounds := 1
	if pending.OperationType == "vibe" {
		maxRounds = 3
		if needsReturn || len(modelTools) > 0 {
			maxRounds = 10
		}
	}

	var tools []ToolSpec
	for _, t := range modelTools {
		tools = append(tools, ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	forceTool := ""
	if needsReturn {
		var fields []fieldSpec
		for _, d := range pending.Destructure {
			fields = append(fields, fieldSpec{Name: d.Name, Type: d.Type})
		}
		tools = append(tools, returnToolSchema(pending.TargetType, fields))
		forceTool = ReturnToolName
	}

	transcript := []Message{{Role: "user", Content: pending.Prompt}}
	systemPrompt := systemPromptFor(pending.OperationType)
	localContext := renderLocalContext(s)
	messages := assembleContext(ctx, e.ctxCache, systemPrompt, transcript, localContext)

	id := fmt.Sprintf("%s-%s", pending.OperationType, nextSeq(&e.seq))

	for round := 0; round < maxRounds; round++ {
		if e.limiter != nil && e.cfg.RateLimitBurst > 0 {
			allowed, _, rlErr := e.limiter.CheckRateLimit(ctx, ratelimit.KeyForModel(name), e.cfg.RateLimitBurst, e.cfg.RateLimitRefillPerSec, 1)
			if rlErr == nil && !allowed {
				metrics.Global().RecordRateLimited(name)
				err := fmt.Errorf("model %q rate limit exceeded", name)
				observability.SetSpanError(span, err)
				return value.AsError(err.Error(), "RateLimited", ""), nil
			}
		}

		req := Request{
			OperationType: pending.OperationType,
			Model:         name, APIKey: apiKey, BaseURL: baseURL,
			Messages: messages, Tools: tools, MaxTokens: 4096,
		}
		// Force the return tool only once other tools have had a chance
		// to run; forcing every round would prevent the model from doing
		// any tool-augmented work before returning.
		if forceTool != "" && (round == maxRounds-1 || len(tools) == 1) {
			req.ForceTool = forceTool
		}

		roundStart := time.Now()
		roundCtx, roundSpan := observability.StartSpan(ctx, "ai.round", observability.AttrModel.String(name))
		resp, rerr := e.completeWithRetry(roundCtx, exec, req)
		roundMs := time.Since(roundStart).Milliseconds()
		if rerr != nil {
			if breaker != nil {
				breaker.RecordFailure()
			}
			metrics.Global().RecordRound(name, roundMs, false)
			observability.SetSpanError(roundSpan, rerr)
			roundSpan.End()
			e.logRound(ctx, id, pending, "", rerr.Error())
			observability.SetSpanError(span, rerr)
			return value.AsError(rerr.Error(), "ProviderError", ""), nil
		}
		if breaker != nil {
			breaker.RecordSuccess()
		}
		metrics.Global().RecordRound(name, roundMs, true)
		observability.SetSpanOK(roundSpan)
		roundSpan.End()
		if e.cost != nil {
			e.cost.Charge(name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		e.logRound(ctx, id, pending, resp.Content, "")

		if retTC, found := extractTool(resp.ToolCalls, ReturnToolName); found {
			observability.SetSpanOK(span)
			return buildReturnValue(pending, retTC.Args), nil
		}

		if len(resp.ToolCalls) > 0 {
			messages = append(messages, Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
			for _, tc := range resp.ToolCalls {
				result, terr := e.tools.Invoke(ctx, tc.Name, tc.Args)
				var content string
				if terr != nil {
					content = fmt.Sprintf("error: %s", terr.Error())
				} else if result.Error {
					content = fmt.Sprintf("error: %s", result.ErrMessage())
				} else {
					content = result.String()
				}
				messages = append(messages, Message{Role: "tool", ToolCallID: tc.ID, Content: content})
			}
			continue
		}

		if !needsReturn {
			observability.SetSpanOK(span)
			return value.Wrap(resp.Content, value.SourceAI, value.TypeText), nil
		}

		if round == maxRounds-1 {
			break
		}
		messages = append(messages, Message{Role: "assistant", Content: resp.Content})
		messages = append(messages, Message{Role: "user", Content: "Call the return tool with your final answer."})
	}

	err = fmt.Errorf("%s operation did not produce a return value within %d round(s)", pending.OperationType, maxRounds)
	observability.SetSpanError(span, err)
	return value.AsError(err.Error(), "ProviderProtocolError", ""), nil
}

func extractTool(calls []ToolCall, name string) (ToolCall, bool) {
	for _, c := range calls {
		if c.Name == name {
			return c, true
		}
	}
	return ToolCall{}, false
}

func buildReturnValue(pending *program.PendingAI, args map[string]any) value.Value {
	if len(pending.Destructure) > 0 {
		rec := make(value.Record, len(pending.Destructure))
		for _, d := range pending.Destructure {
			rec[d.Name] = args[d.Name]
		}
		return value.Wrap(rec, value.SourceAI, "")
	}
	raw, ok := args["value"]
	if !ok {
		return value.AsError("return tool call was missing the \"value\" field", "ProviderProtocolError", "")
	}
	return value.Wrap(raw, value.SourceAI, pending.TargetType)
}

func systemPromptFor(operationType string) string {
	switch operationType {
	case "vibe":
		return "You are an autonomous assistant embedded in a running program. Use the available tools to accomplish the user's request, then call the return tool with your final answer."
	case "compress":
		return "Summarize the given execution context concisely, preserving facts a future step will need."
	default:
		return "You are an assistant embedded in a running program. Respond directly to the user's instruction."
	}
}

func (e *Engine) completeWithRetry(ctx context.Context, exec ProviderExecutor, req Request) (Response, error) {
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := exec.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var retryable *RetryableError
		if !errors.As(err, &retryable) {
			return Response{}, err
		}
		if attempt == maxRetries-1 {
			break
		}
		metrics.Global().RecordRetry(req.Model)
		delay := e.cfg.RetryBaseDelay * time.Duration(1<<attempt)
		delay += time.Duration(rand.Int63n(int64(e.cfg.RetryBaseDelay) + 1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return Response{}, lastErr
}

func (e *Engine) logRound(ctx context.Context, id string, pending *program.PendingAI, response, errMsg string) {
	if e.log == nil {
		return
	}
	e.log.LogInteraction(ctx, id, pending.OperationType, pending.ModelVarName, pending.Prompt, response, errMsg)
}

func nextSeq(seq *int) string {
	*seq++
	return program.PadSeq(*seq)
}
