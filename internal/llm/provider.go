// Package llm defines the model-agnostic chat protocol: messages, tools,
// capabilities, streamed fragments and results shared by every client adapter.
package llm

import "context"

// Client sends chat requests to an LLM backend and reports token usage.
type Client interface {
	Create(ctx context.Context, messages []Message, opts ...CallOption) (*CreateResult, error)
	CreateStream(ctx context.Context, messages []Message, opts ...CallOption) (Stream, error)
	CountTokens(messages []Message, tools []Tool) int
	RemainingTokens(messages []Message, tools []Tool) int
	ActualUsage() RequestUsage
	TotalUsage() RequestUsage
	ModelInfo() ModelInfo
	Capabilities() ModelCapabilities
	Close() error
}

// Stream is a lazy, finite, non-restartable sequence of fragments.
// Close must be called when the caller stops pulling early.
type Stream interface {
	Next() bool
	Current() StreamFragment
	Err() error
	Result() (*CreateResult, error)
	Close() error
}

// ModelFamilyUnknown is the family tag used when none is configured.
const ModelFamilyUnknown = "unknown"

// ModelCapabilities declares what a model accepts before any request is sent.
type ModelCapabilities struct {
	Vision          bool
	FunctionCalling bool
	JSONOutput      bool
}

// ModelInfo is the static descriptor of the target model.
type ModelInfo struct {
	ModelCapabilities
	Family string
}

// JSONOutput is the tri-state JSON output request of one call.
type JSONOutput int

const (
	// JSONUnset leaves the response format to the server default.
	JSONUnset JSONOutput = iota
	// JSONOn requests a JSON object response.
	JSONOn
	// JSONOff explicitly requests a text response.
	JSONOff
)

// CallOptions holds per-call request options.
type CallOptions struct {
	Tools      []Tool
	JSONOutput JSONOutput
	Overrides  map[string]any
}

// CallOption configures one Create or CreateStream call.
type CallOption func(*CallOptions)

// WithTools offers tools to the model for this call.
func WithTools(tools ...Tool) CallOption {
	return func(o *CallOptions) { o.Tools = append(o.Tools, tools...) }
}

// WithJSONOutput requests (true) or refuses (false) JSON output.
func WithJSONOutput(enabled bool) CallOption {
	return func(o *CallOptions) {
		if enabled {
			o.JSONOutput = JSONOn
		} else {
			o.JSONOutput = JSONOff
		}
	}
}

// WithOverrides sets generation option overrides. Later calls merge over earlier ones.
func WithOverrides(overrides map[string]any) CallOption {
	return func(o *CallOptions) {
		if o.Overrides == nil {
			o.Overrides = make(map[string]any, len(overrides))
		}
		for k, v := range overrides {
			o.Overrides[k] = v
		}
	}
}

// ApplyCallOptions folds opts into a CallOptions value.
func ApplyCallOptions(opts ...CallOption) CallOptions {
	var out CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// RequestUsage reports token accounting.
type RequestUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Finish reasons reported in CreateResult.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishFunctionCalls = "function_calls"
	FinishContentFilter = "content_filter"
	FinishUnknown       = "unknown"
)

// CreateResult is the provider-agnostic response of one call.
type CreateResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        RequestUsage
	Model        string
	// Cached is true when the result was served from a caching layer.
	Cached bool
}
