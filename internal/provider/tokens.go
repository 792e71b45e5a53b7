package provider

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

// DefaultContextWindow is the token budget used by RemainingTokens when none
// is configured.
const DefaultContextWindow = 4096

// countTokens estimates tokens as one per character of textual content.
func countTokens(messages []llm.Message, tools []llm.Tool) int {
	n := 0
	for _, msg := range messages {
		n += messageChars(msg)
	}
	for _, tool := range tools {
		n += toolChars(tool)
	}
	return n
}

func messageChars(msg llm.Message) int {
	value, ok := messageValue(msg)
	if !ok {
		return 0
	}
	switch m := value.(type) {
	case llm.UserMessage:
		return userChars(m)
	case llm.AssistantMessage:
		return assistantChars(m)
	case llm.ToolResultMessage:
		return utf8.RuneCountInString(m.Content)
	case llm.SystemMessage:
		return utf8.RuneCountInString(m.Content)
	default:
		return 0
	}
}

func userChars(m llm.UserMessage) int {
	if m.Parts == nil {
		return utf8.RuneCountInString(m.Text)
	}
	n := 0
	for _, part := range m.Parts {
		switch p := part.(type) {
		case llm.TextPart:
			n += utf8.RuneCountInString(p.Text)
		case llm.ImagePart:
			n += utf8.RuneCountInString(p.URL)
		}
	}
	return n
}

func assistantChars(m llm.AssistantMessage) int {
	n := utf8.RuneCountInString(m.Content)
	for _, tc := range m.ToolCalls {
		n += utf8.RuneCountInString(tc.Name) + utf8.RuneCountInString(tc.Arguments)
	}
	return n
}

func toolChars(tool llm.Tool) int {
	wire, err := translateTools([]llm.Tool{tool})
	if err != nil {
		return 0
	}
	encoded, err := json.Marshal(wire[0])
	if err != nil {
		return 0
	}
	return utf8.RuneCount(encoded)
}
