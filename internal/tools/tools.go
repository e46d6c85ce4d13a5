// Package tools implements the runtime's built-in system module: a
// small fixed set of host-provided tools an LM round can call, each
// sandboxed to RootDir so a tool call can never read or write outside
// its run's own workspace directory.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vibe-run/vibe/internal/value"
)

// Registry is the concrete ToolInvoker the driver wires into the LM
// engine and exposes directly for explicit (non-LM) tool invocation.
type Registry struct {
	RootDir string
	Client  *http.Client
}

func New(rootDir string) *Registry {
	return &Registry{RootDir: rootDir, Client: &http.Client{Timeout: 30 * time.Second}}
}

// Invoke satisfies ai.ToolInvoker.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (value.Value, error) {
	switch name {
	case "http_get":
		return r.httpGet(ctx, args)
	case "read_file":
		return r.readFile(args)
	case "write_file":
		return r.writeFile(args)
	default:
		return value.AsError(fmt.Sprintf("unknown tool %q", name), "ToolError", ""), nil
	}
}

// Specs returns the tool schemas the LM engine advertises when a model
// value's Tools list references one of these by name.
func Specs() []value.ToolDescriptor {
	return []value.ToolDescriptor{
		{
			Name: "http_get", Description: "Fetch the body of a URL via HTTP GET.",
			Schema: value.Record{
				"type":       "object",
				"properties": map[string]any{"url": map[string]any{"type": "string"}},
				"required":   []string{"url"},
			},
		},
		{
			Name: "read_file", Description: "Read a text file relative to the run's root directory.",
			Schema: value.Record{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name: "write_file", Description: "Write a text file relative to the run's root directory.",
			Schema: value.Record{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (r *Registry) httpGet(ctx context.Context, args map[string]any) (value.Value, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return value.AsError("http_get requires a \"url\" argument", "ToolError", ""), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	if resp.StatusCode >= 400 {
		return value.AsError(fmt.Sprintf("http_get: %s returned status %d", url, resp.StatusCode), "ToolError", ""), nil
	}
	return value.Wrap(string(body), value.SourceImported, value.TypeText), nil
}

func (r *Registry) resolvePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	full := filepath.Join(r.RootDir, rel)
	cleanRoot := filepath.Clean(r.RootDir)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the run's root directory", rel)
	}
	return full, nil
}

func (r *Registry) readFile(args map[string]any) (value.Value, error) {
	rel, _ := args["path"].(string)
	full, err := r.resolvePath(rel)
	if err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	return value.Wrap(string(data), value.SourceImported, value.TypeText), nil
}

func (r *Registry) writeFile(args map[string]any) (value.Value, error) {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)
	full, err := r.resolvePath(rel)
	if err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return value.AsError(err.Error(), "ToolError", ""), nil
	}
	return value.Wrap(true, value.SourceImported, value.TypeBoolean), nil
}
