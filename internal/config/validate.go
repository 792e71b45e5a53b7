package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

var (
	systemMessagePolicies  = []string{"drop", "reject", "send"}
	malformedChunkPolicies = []string{"skip", "fail"}
)

// Validate checks required endpoint fields and policy names.
func (c LLMProviderConfig) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("api_key is required (or set %s)", EnvAPIKey))
	}
	if c.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base_url is required (or set %s)", EnvBaseURL))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must be >= 0"))
	}
	if c.ContextWindow < 0 {
		errs = append(errs, errors.New("context_window must be >= 0"))
	}
	if err := oneOf("system_messages", c.SystemMessages, systemMessagePolicies); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("malformed_chunks", c.MalformedChunks, malformedChunkPolicies); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks soft spending limits.
func (c CostsConfig) Validate() error {
	if c.DailyLimit < 0 || c.MonthlyLimit < 0 {
		return errors.New("limits must be >= 0")
	}
	return nil
}

// Validate validates metrics settings.
func (c MetricsConfig) Validate() error {
	return nil
}

// Validate validates the active profile and all other sections, joining every
// error found.
func (c *Config) Validate() error {
	var errs []error

	if len(c.LLM) == 0 {
		errs = append(errs, errors.New("at least one llm.* profile is required"))
	}
	if err := c.Costs.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("costs: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}

	names := make([]string, 0, len(c.LLM))
	for name := range c.LLM {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.LLM[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("llm.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func oneOf(field, value string, allowed []string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (allowed: %q)", field, value, allowed)
}
