package provider

import (
	"fmt"
	"sort"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

// Payload is the JSON request body sent to the chat completions endpoint.
type Payload map[string]any

// overridableKeys lists the generation options a caller may override.
var overridableKeys = map[string]struct{}{
	"model":             {},
	"temperature":       {},
	"top_p":             {},
	"n":                 {},
	"stream":            {},
	"stop":              {},
	"max_tokens":        {},
	"presence_penalty":  {},
	"frequency_penalty": {},
	"logit_bias":        {},
	"user":              {},
	"response_format":   {},
}

// OverridableKeys returns the allow-list of overridable option keys, sorted.
func OverridableKeys() []string {
	keys := make([]string, 0, len(overridableKeys))
	for k := range overridableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateOverrides fails with a ConfigurationError naming every key outside
// the allow-list.
func ValidateOverrides(overrides map[string]any) error {
	var invalid []string
	for k := range overrides {
		if _, ok := overridableKeys[k]; !ok {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return &ConfigurationError{
		Keys: invalid,
		Msg:  "extra create args are invalid",
		Err:  ErrInvalidArgument,
	}
}

func defaultPayload(model string) Payload {
	return Payload{
		"model":             model,
		"temperature":       1,
		"presence_penalty":  0,
		"frequency_penalty": 0,
		"top_p":             1,
		"max_tokens":        4000,
		"stream":            false,
	}
}

// buildPayload merges defaults, client-level defaults, call overrides, the JSON
// output mode and the transport mode into one request body.
func buildPayload(model string, base map[string]any, messages []wireMessage, opts llm.CallOptions, stream bool) (Payload, error) {
	if err := ValidateOverrides(opts.Overrides); err != nil {
		return nil, err
	}

	payload := defaultPayload(model)
	for k, v := range base {
		payload[k] = v
	}
	for k, v := range opts.Overrides {
		payload[k] = v
	}
	if format, ok := responseFormat(opts.JSONOutput); ok {
		payload["response_format"] = format
	}
	payload["stream"] = stream
	payload["messages"] = messages

	if len(opts.Tools) > 0 {
		tools, err := translateTools(opts.Tools)
		if err != nil {
			return nil, err
		}
		payload["tools"] = tools
	}
	return payload, nil
}

// translateTools renders declarations in wire shape; raw wire tools pass through.
func translateTools(tools []llm.Tool) ([]any, error) {
	out := make([]any, 0, len(tools))
	for i, tool := range tools {
		switch t := tool.(type) {
		case llm.ToolDeclaration:
			out = append(out, declarationToWire(t))
		case *llm.ToolDeclaration:
			out = append(out, declarationToWire(*t))
		case llm.RawTool:
			out = append(out, t)
		default:
			return nil, &ConfigurationError{Msg: fmt.Sprintf("tool %d has unsupported type %T", i, tool), Err: ErrInvalidArgument}
		}
	}
	return out, nil
}

func declarationToWire(t llm.ToolDeclaration) wireTool {
	return wireTool{
		Type: "function",
		Function: wireToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}
