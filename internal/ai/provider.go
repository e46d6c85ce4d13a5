// Package ai implements the LM engine: provider-neutral request
// assembly, the multi-round tool-calling loop, the structured-return
// protocol built on a reserved tool call, and retry/circuit-breaking
// around the actual provider round-trip.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one entry in a provider conversation, in the
// provider-neutral shape the engine assembles before dispatch.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	CacheBreak bool       `json:"-"` // this message starts a new cache-eligible chunk
}

// ToolCall is one function-call a provider asked the runtime to make.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolSpec describes one tool available to the model this round.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// Request is the unified, provider-neutral shape every ProviderExecutor
// accepts. OperationType distinguishes do/vibe/compress so a provider
// implementation can apply operation-specific defaults (e.g. compress
// disabling tool use) without the engine branching per provider.
type Request struct {
	OperationType string // do | vibe | compress
	Model         string
	APIKey        string
	BaseURL       string
	Messages      []Message
	Tools         []ToolSpec
	ForceTool     string // non-"" forces exactly this tool (structured return)
	MaxTokens     int
}

// Response is one provider round's result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Usage records token accounting fed into the cost calculator.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ProviderExecutor is the capability contract every concrete LM
// backend implements. RetryableError lets the engine's retry policy
// distinguish a transient failure (rate limit, 5xx, timeout) from a
// permanent one (bad request, auth failure) without inspecting
// provider-specific error shapes itself.
type ProviderExecutor interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// RetryableError marks an error the retry policy should back off and
// reattempt, mirroring the provider capability contract's
// retryable/non-retryable distinction.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// OpenAIStyleProvider talks to any OpenAI-compatible /chat/completions
// endpoint (OpenAI itself, most self-hosted gateways, and many other
// vendors' compatibility shims), forcing tool_choice when the engine
// needs a specific tool called this round.
type OpenAIStyleProvider struct {
	Client *http.Client
}

func NewOpenAIStyleProvider() *OpenAIStyleProvider {
	return &OpenAIStyleProvider{Client: &http.Client{Timeout: 120 * time.Second}}
}

type chatMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCallOut `json:"tool_calls,omitempty"`
}

type chatToolCallOut struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function chatToolCallFnCall `json:"function"`
}

type chatToolCallFnCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []chatMessage    `json:"messages"`
	Tools       []chatToolSchema `json:"tools,omitempty"`
	ToolChoice  any              `json:"tool_choice,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type chatToolSchema struct {
	Type     string             `json:"type"`
	Function chatToolSchemaBody `json:"function"`
}

type chatToolSchemaBody struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

const defaultTemperature = 0.2

func (p *OpenAIStyleProvider) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		out := chatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			out.ToolCalls = append(out.ToolCalls, chatToolCallOut{
				ID: tc.ID, Type: "function",
				Function: chatToolCallFnCall{Name: tc.Name, Arguments: string(args)},
			})
		}
		msgs[i] = out
	}

	var tools []chatToolSchema
	for _, t := range req.Tools {
		tools = append(tools, chatToolSchema{
			Type: "function",
			Function: chatToolSchemaBody{
				Name: t.Name, Description: t.Description, Parameters: t.Schema,
			},
		})
	}

	body := chatCompletionRequest{
		Model: req.Model, Messages: msgs, Tools: tools,
		Temperature: defaultTemperature, MaxTokens: req.MaxTokens,
	}
	if req.ForceTool != "" {
		body.ToolChoice = map[string]any{"type": "function", "function": map[string]string{"name": req.ForceTool}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := req.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Response{}, &RetryableError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Response{}, &RetryableError{Err: fmt.Errorf("provider returned status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices in provider response")
	}
	choice := parsed.Choices[0]

	out := Response{
		FinishReason: choice.FinishReason,
		Usage:        Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens},
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out, nil
}

// AnthropicStyleProvider speaks the Messages API shape (system as a
// top-level field, content blocks instead of a flat string, tool_use
// blocks instead of OpenAI-style tool_calls). Supplied alongside
// OpenAIStyleProvider so a model descriptor's provider field can select
// either family without the engine itself knowing the wire format.
type AnthropicStyleProvider struct {
	Client *http.Client
}

func NewAnthropicStyleProvider() *AnthropicStyleProvider {
	return &AnthropicStyleProvider{Client: &http.Client{Timeout: 120 * time.Second}}
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string                 `json:"model"`
	System    string                 `json:"system,omitempty"`
	Messages  []anthropicMessage     `json:"messages"`
	Tools     []anthropicToolSchema  `json:"tools,omitempty"`
	ToolUse   *anthropicForceToolUse `json:"tool_choice,omitempty"`
	MaxTokens int                    `json:"max_tokens"`
}

type anthropicForceToolUse struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicStyleProvider) Complete(ctx context.Context, req Request) (Response, error) {
	var system string
	var msgs []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := m.Role
		if role == "tool" {
			msgs = append(msgs, anthropicMessage{Role: "user", Content: []anthropicContentBlock{
				{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
			}})
			continue
		}
		blocks := []anthropicContentBlock{}
		if m.Content != "" {
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: blocks})
	}

	var tools []anthropicToolSchema
	for _, t := range req.Tools {
		tools = append(tools, anthropicToolSchema{Name: t.Name, Description: t.Description, InputSchema: t.Schema})
	}

	body := anthropicRequest{Model: req.Model, System: system, Messages: msgs, Tools: tools, MaxTokens: req.MaxTokens}
	if body.MaxTokens == 0 {
		body.MaxTokens = 4096
	}
	if req.ForceTool != "" {
		body.ToolUse = &anthropicForceToolUse{Type: "tool", Name: req.ForceTool}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	url := req.BaseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Response{}, &RetryableError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Response{}, &RetryableError{Err: fmt.Errorf("provider returned status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	out := Response{
		FinishReason: parsed.StopReason,
		Usage:        Usage{PromptTokens: parsed.Usage.InputTokens, CompletionTokens: parsed.Usage.OutputTokens},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
		}
	}
	return out, nil
}
