package provider

import "github.com/neoclaw-ai/chatbridge/internal/llm"

const (
	featureVision          = "vision"
	featureJSONOutput      = "json_output"
	featureFunctionCalling = "function_calling"
)

// checkCapabilities rejects requests that need features the model does not
// declare. It runs before any payload is built.
func checkCapabilities(messages []llm.Message, opts llm.CallOptions, info llm.ModelInfo) error {
	if opts.JSONOutput == llm.JSONOn && !info.JSONOutput {
		return &CapabilityError{Feature: featureJSONOutput}
	}
	if !info.Vision && containsImages(messages) {
		return &CapabilityError{Feature: featureVision, Err: ErrUnsupportedContent}
	}
	if len(opts.Tools) > 0 && !info.FunctionCalling {
		return &CapabilityError{Feature: featureFunctionCalling}
	}
	return nil
}

func containsImages(messages []llm.Message) bool {
	for _, msg := range messages {
		value, _ := messageValue(msg)
		if m, ok := value.(llm.UserMessage); ok && m.HasImages() {
			return true
		}
	}
	return false
}

// responseFormat maps the JSON output request to the wire response_format.
// ok is false when the field must be omitted.
func responseFormat(mode llm.JSONOutput) (format map[string]any, ok bool) {
	switch mode {
	case llm.JSONOn:
		return map[string]any{"type": "json_object"}, true
	case llm.JSONOff:
		return map[string]any{"type": "text"}, true
	default:
		return nil, false
	}
}
