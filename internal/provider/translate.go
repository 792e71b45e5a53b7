package provider

import (
	"fmt"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

// SystemPolicy decides how system messages are translated.
type SystemPolicy string

const (
	// SystemDrop omits system messages from the wire payload.
	SystemDrop SystemPolicy = "drop"
	// SystemReject fails translation with ErrUnsupportedMessage.
	SystemReject SystemPolicy = "reject"
	// SystemSend forwards system messages with role "system".
	SystemSend SystemPolicy = "send"
)

// ParseSystemPolicy parses a configured policy name. Empty means SystemDrop.
func ParseSystemPolicy(s string) (SystemPolicy, error) {
	switch p := SystemPolicy(s); p {
	case "":
		return SystemDrop, nil
	case SystemDrop, SystemReject, SystemSend:
		return p, nil
	default:
		return "", fmt.Errorf("invalid system message policy %q (allowed: %q, %q, %q)", s, SystemDrop, SystemReject, SystemSend)
	}
}

// translateMessages converts generic messages to wire messages, preserving order.
// Nil messages are handled like unknown kinds.
func translateMessages(messages []llm.Message, caps llm.ModelCapabilities, policy SystemPolicy) ([]wireMessage, error) {
	out := make([]wireMessage, 0, len(messages))
	for i, msg := range messages {
		value, ok := messageValue(msg)
		if !ok {
			if policy == SystemReject {
				return nil, fmt.Errorf("message %d: %w: nil %T", i, ErrUnsupportedMessage, msg)
			}
			continue
		}
		switch m := value.(type) {
		case llm.UserMessage:
			wm, err := translateUser(m, caps)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			out = append(out, wm)
		case llm.AssistantMessage:
			out = append(out, translateAssistant(m))
		case llm.ToolResultMessage:
			out = append(out, translateToolResult(m))
		case llm.SystemMessage:
			wm, ok, err := translateSystem(m, policy)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			if ok {
				out = append(out, wm)
			}
		default:
			if policy == SystemReject {
				return nil, fmt.Errorf("message %d: %w: %T", i, ErrUnsupportedMessage, msg)
			}
		}
	}
	return out, nil
}

// messageValue unwraps pointer variants to their values. ok is false for a
// nil interface or nil pointer.
func messageValue(msg llm.Message) (llm.Message, bool) {
	switch m := msg.(type) {
	case nil:
		return nil, false
	case *llm.UserMessage:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *llm.AssistantMessage:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *llm.ToolResultMessage:
		if m == nil {
			return nil, false
		}
		return *m, true
	case *llm.SystemMessage:
		if m == nil {
			return nil, false
		}
		return *m, true
	default:
		return msg, true
	}
}

func translateUser(m llm.UserMessage, caps llm.ModelCapabilities) (wireMessage, error) {
	if m.Parts == nil {
		return wireMessage{Role: "user", Content: m.Text}, nil
	}
	parts := make([]wireContentPart, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch p := part.(type) {
		case llm.ImagePart:
			if !caps.Vision {
				return wireMessage{}, &CapabilityError{Feature: featureVision, Err: ErrUnsupportedContent}
			}
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: p.URL}})
		case llm.TextPart:
			parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
		default:
			return wireMessage{}, fmt.Errorf("%w: content part %T", ErrUnsupportedContent, part)
		}
	}
	return wireMessage{Role: "user", Content: parts}, nil
}

func translateAssistant(m llm.AssistantMessage) wireMessage {
	wm := wireMessage{Role: "assistant", Content: m.Content}
	if len(m.ToolCalls) == 0 {
		return wm
	}
	if m.Content == "" {
		wm.Content = nil
	}
	wm.ToolCalls = make([]wireToolCall, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireFunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return wm
}

func translateToolResult(m llm.ToolResultMessage) wireMessage {
	return wireMessage{Role: "tool", Content: m.Content, ToolCallID: m.CallID}
}

func translateSystem(m llm.SystemMessage, policy SystemPolicy) (wireMessage, bool, error) {
	switch policy {
	case SystemSend:
		return wireMessage{Role: "system", Content: m.Content}, true, nil
	case SystemReject:
		return wireMessage{}, false, fmt.Errorf("%w: system message", ErrUnsupportedMessage)
	default:
		return wireMessage{}, false, nil
	}
}
