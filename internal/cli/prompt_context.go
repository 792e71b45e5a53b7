package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
	"github.com/yuin/goldmark"
)

const (
	formatText = "text"
	formatHTML = "html"
)

// buildUserMessage returns plain text when there are no images, otherwise an
// ordered text-then-images multi-part message.
func buildUserMessage(text string, images []string) llm.UserMessage {
	if len(images) == 0 {
		return llm.UserMessage{Text: text, Source: "user"}
	}
	parts := make([]llm.ContentPart, 0, len(images)+1)
	if text != "" {
		parts = append(parts, llm.TextPart{Text: text})
	}
	for _, img := range images {
		parts = append(parts, llm.ImagePart{URL: img})
	}
	return llm.UserMessage{Parts: parts, Source: "user"}
}

// buildMessages prepends the system prompt, when set, to the conversation.
func buildMessages(systemPrompt string, history []llm.Message, next llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, llm.SystemMessage{Content: systemPrompt})
	}
	messages = append(messages, history...)
	if next != nil {
		messages = append(messages, next)
	}
	return messages
}

// parseOverrides turns key=value flags into option overrides. Values are
// decoded as JSON when possible so numbers and booleans keep their type.
func parseOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q: expected key=value", pair)
		}
		out[key] = parseOverrideValue(value)
	}
	return out, nil
}

func parseOverrideValue(raw string) any {
	raw = strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func renderReply(text, format string) (string, error) {
	switch format {
	case "", formatText:
		return text, nil
	case formatHTML:
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(text), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
		return strings.TrimRight(buf.String(), "\n"), nil
	default:
		return "", fmt.Errorf("unsupported format %q (allowed: %s, %s)", format, formatText, formatHTML)
	}
}

func formatToolCalls(calls []llm.ToolCall) string {
	var b strings.Builder
	for i, call := range calls {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "tool_call %s %s %s", call.ID, call.Name, call.Arguments)
	}
	return b.String()
}
