package ai

import (
	"context"
	"sort"
	"strings"

	"github.com/vibe-run/vibe/internal/metrics"
	"github.com/vibe-run/vibe/internal/state"
)

// chunkSize is the target size, in characters, of one cache-breakable
// context chunk: approximated at a 4-characters-per-token rule of
// thumb, since this engine does not carry a tokenizer dependency.
const chunkSize = 5000 * 4

// assembleContext builds the provider-neutral message list from the
// current local context (recent call-stack locals, summarized) plus
// the accumulated interaction transcript, split into chunks marked
// CacheBreak so a provider that supports prompt caching can reuse the
// unchanged prefix across rounds instead of re-billing it every call.
//
// Splitting is the expensive-ish part for a large frame (string
// slicing over the whole rendering), so it is memoized in cc keyed by
// the content hash of localContext: a retried round re-sends the same
// locals far more often than it changes them.
func assembleContext(ctx context.Context, cc *ContextCache, systemPrompt string, transcript []Message, localContext string) []Message {
	out := []Message{{Role: "system", Content: systemPrompt}}

	if localContext != "" {
		chunks, hit := cc.chunks(ctx, localContext)
		if !hit {
			chunks = splitChunks(localContext)
			cc.put(ctx, localContext, chunks)
		}
		if cc != nil && cc.backend != nil {
			if hit {
				metrics.Global().RecordCacheHit()
			} else {
				metrics.Global().RecordCacheMiss()
			}
		}
		for i, chunk := range chunks {
			out = append(out, Message{Role: "system", Content: chunk, CacheBreak: i == 0})
		}
	}

	out = append(out, transcript...)
	return out
}

// renderLocalContext renders the current frame's visible locals (every
// scope from outermost to innermost, later scopes shadowing earlier
// ones by name) into the text block the model sees in place of the Go
// activation record. Names are sorted before rendering so the result is
// deterministic across calls with the same bindings, which keeps it
// usable as a cache key.
func renderLocalContext(s *state.State) string {
	frame := s.CurrentFrame()
	if frame == nil {
		return ""
	}
	seen := make(map[string]bool)
	for _, scope := range frame.Scopes {
		for name := range scope.Locals {
			seen[name] = true
		}
	}
	if len(seen) == 0 {
		return ""
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return summarizeLocals(names, func(name string) string {
		v, ok := frame.Lookup(name)
		if !ok {
			return "<unbound>"
		}
		return v.String()
	})
}

func splitChunks(s string) []string {
	if len(s) <= chunkSize {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		n := chunkSize
		if n > len(s) {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}

// summarizeLocals renders a compact textual snapshot of in-scope
// variables for the prompt's local context section; the model only
// ever sees this rendering of the activation frame, never the Go
// struct itself.
func summarizeLocals(names []string, render func(string) string) string {
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteString(" = ")
		b.WriteString(render(n))
		b.WriteString("\n")
	}
	return b.String()
}
