package provider

import (
	"strings"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

// ConfigFromProfile maps a loaded llm.* profile onto adapter configuration.
func ConfigFromProfile(cfg config.LLMProviderConfig) Config {
	family := strings.TrimSpace(cfg.Family)
	if family == "" {
		family = llm.ModelFamilyUnknown
	}
	return Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Info: llm.ModelInfo{
			ModelCapabilities: llm.ModelCapabilities{
				Vision:          cfg.Vision,
				FunctionCalling: cfg.FunctionCalling,
				JSONOutput:      cfg.JSONOutput,
			},
			Family: family,
		},
		ContextWindow:  cfg.ContextWindow,
		RequestTimeout: cfg.RequestTimeout,
		SystemPolicy:   SystemPolicy(strings.ToLower(strings.TrimSpace(cfg.SystemMessages))),
		Malformed:      MalformedPolicy(strings.ToLower(strings.TrimSpace(cfg.MalformedChunks))),
		Defaults:       cfg.Defaults,
	}
}

// NewClientFromConfig builds a Client from the selected LLM profile.
func NewClientFromConfig(cfg config.LLMProviderConfig, opts ...Option) (*Client, error) {
	return New(ConfigFromProfile(cfg), opts...)
}
