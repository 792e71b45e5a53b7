// Package provider implements llm.Client for OpenAI-compatible chat completion
// endpoints: capability checks, message translation, request building, HTTP
// transport, stream reassembly and usage accounting.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
	"github.com/neoclaw-ai/chatbridge/internal/logging"
)

const chatCompletionsPath = "/v1/chat/completions"

// Config is the fully resolved adapter configuration. Environment lookups
// happen before construction.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Info    llm.ModelInfo
	// ContextWindow is the budget used by RemainingTokens. Zero means DefaultContextWindow.
	ContextWindow int
	// RequestTimeout bounds non-streaming calls. Zero means no timeout.
	RequestTimeout time.Duration
	SystemPolicy   SystemPolicy
	Malformed      MalformedPolicy
	// Defaults are client-wide option overrides applied before per-call overrides.
	Defaults map[string]any
}

// DefaultModelInfo matches the capabilities assumed for a generic
// OpenAI-compatible endpoint.
var DefaultModelInfo = llm.ModelInfo{
	ModelCapabilities: llm.ModelCapabilities{
		Vision:          false,
		FunctionCalling: true,
		JSONOutput:      true,
	},
	Family: llm.ModelFamilyUnknown,
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// Client is an llm.Client for one OpenAI-compatible endpoint and model.
// At most one in-flight call per Client is the supported usage pattern; the
// usage counters are nevertheless safe for concurrent use.
type Client struct {
	apiKey         string
	endpoint       string
	model          string
	info           llm.ModelInfo
	contextWindow  int
	requestTimeout time.Duration
	systemPolicy   SystemPolicy
	malformed      MalformedPolicy
	defaults       map[string]any

	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics
	userAgent  string

	usage  usageAccountant
	closed atomic.Bool
}

var _ llm.Client = (*Client)(nil)

// New validates cfg and returns a Client. It never touches the network.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Msg: "api key is required"}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, &ConfigurationError{Msg: "base url is required"}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &ConfigurationError{Msg: "model is required"}
	}
	if err := ValidateOverrides(cfg.Defaults); err != nil {
		return nil, err
	}

	systemPolicy, err := ParseSystemPolicy(string(cfg.SystemPolicy))
	if err != nil {
		return nil, &ConfigurationError{Msg: err.Error(), Err: ErrInvalidArgument}
	}
	malformed, err := ParseMalformedPolicy(string(cfg.Malformed))
	if err != nil {
		return nil, &ConfigurationError{Msg: err.Error(), Err: ErrInvalidArgument}
	}

	info := cfg.Info
	if info.Family == "" {
		info.Family = llm.ModelFamilyUnknown
	}
	window := cfg.ContextWindow
	if window <= 0 {
		window = DefaultContextWindow
	}

	c := &Client{
		apiKey:         cfg.APIKey,
		endpoint:       baseURL + chatCompletionsPath,
		model:          cfg.Model,
		info:           info,
		contextWindow:  window,
		requestTimeout: cfg.RequestTimeout,
		systemPolicy:   systemPolicy,
		malformed:      malformed,
		defaults:       cfg.Defaults,
		httpClient:     &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		logger:         logging.Logger(),
		userAgent:      defaultUserAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Create sends one non-streaming chat completion request.
func (c *Client) Create(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.CreateResult, error) {
	started := time.Now()
	payload, err := c.prepare(messages, llm.ApplyCallOptions(opts...), false)
	if err != nil {
		return nil, err
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, requestID, err := c.send(ctx, payload, false)
	if err != nil {
		c.metrics.observeRequest(modeCreate, outcomeError, started)
		return nil, err
	}
	defer resp.Body.Close()

	var parsed wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.metrics.observeRequest(modeCreate, outcomeError, started)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		c.metrics.observeRequest(modeCreate, outcomeError, started)
		return nil, ErrEmptyResponse
	}

	choice := parsed.Choices[0]
	toolCalls := make([]llm.ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	c.usage.record(parsed.Usage.CompletionTokens)
	c.metrics.observeTokens(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	c.metrics.observeRequest(modeCreate, outcomeOK, started)
	c.logger.Debug("chat completion finished",
		"request_id", requestID,
		"model", parsed.Model,
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
	)

	return &llm.CreateResult{
		Content:      contentText(choice.Message.Content),
		ToolCalls:    toolCalls,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage: llm.RequestUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Model:  parsed.Model,
		Cached: false,
	}, nil
}

// CreateStream sends a streaming chat completion request. The returned stream
// owns the response body until it reaches a terminal state or is closed.
func (c *Client) CreateStream(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (llm.Stream, error) {
	started := time.Now()
	payload, err := c.prepare(messages, llm.ApplyCallOptions(opts...), true)
	if err != nil {
		return nil, err
	}

	resp, requestID, err := c.send(ctx, payload, true)
	if err != nil {
		c.metrics.observeRequest(modeStream, outcomeError, started)
		return nil, err
	}
	return newStream(ctx, resp.Body, streamConfig{
		policy:    c.malformed,
		logger:    c.logger.With("request_id", requestID),
		metrics:   c.metrics,
		started:   started,
		requestID: requestID,
	}), nil
}

// prepare runs the capability gate, translator and request builder. Every
// error it returns happens before any network activity.
func (c *Client) prepare(messages []llm.Message, opts llm.CallOptions, stream bool) (Payload, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if err := checkCapabilities(messages, opts, c.info); err != nil {
		return nil, err
	}
	wireMessages, err := translateMessages(messages, c.info.ModelCapabilities, c.systemPolicy)
	if err != nil {
		return nil, err
	}
	return buildPayload(c.model, c.defaults, wireMessages, opts, stream)
}

// CountTokens estimates the prompt size of messages and tools.
func (c *Client) CountTokens(messages []llm.Message, tools []llm.Tool) int {
	return countTokens(messages, tools)
}

// RemainingTokens is the context window minus CountTokens.
func (c *Client) RemainingTokens(messages []llm.Message, tools []llm.Tool) int {
	return c.contextWindow - countTokens(messages, tools)
}

// ActualUsage reports completion tokens of the most recent successful call.
func (c *Client) ActualUsage() llm.RequestUsage {
	return c.usage.actual()
}

// TotalUsage reports completion tokens accumulated over the client lifetime.
func (c *Client) TotalUsage() llm.RequestUsage {
	return c.usage.cumulative()
}

// ModelInfo returns the static model descriptor.
func (c *Client) ModelInfo() llm.ModelInfo {
	return c.info
}

// Capabilities returns the declared model capabilities.
func (c *Client) Capabilities() llm.ModelCapabilities {
	return c.info.ModelCapabilities
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Close releases idle connections. It is idempotent; calls made after Close
// fail with ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "", "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishFunctionCalls
	case "content_filter":
		return llm.FinishContentFilter
	default:
		return llm.FinishUnknown
	}
}
