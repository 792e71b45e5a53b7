// Package config loads chatbridge configuration from a TOML file and environment variables, exposing typed structs and accessors for all sections.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultProfile = "default"

	// EnvHome overrides the chatbridge home directory.
	EnvHome = "CHATBRIDGE_HOME"
	// EnvAPIKey is the credential fallback when api_key is empty.
	EnvAPIKey = "OPENAI_API_KEY"
	// EnvBaseURL is the endpoint fallback when base_url is empty.
	EnvBaseURL = "OPENAI_BASE_URL"

	// DefaultBaseURL is used when neither config nor environment supply a base URL.
	DefaultBaseURL = "https://api.openai.com"
)

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from CHATBRIDGE_HOME and not read from config.
	HomeDir string `mapstructure:"-"`
	// Profile is the selected llm.* profile, runtime-selected.
	Profile string                       `mapstructure:"-"`
	LLM     map[string]LLMProviderConfig `mapstructure:"llm"`
	Costs   CostsConfig                  `mapstructure:"costs"`
	Metrics MetricsConfig                `mapstructure:"metrics"`
}

// LLMProviderConfig configures one OpenAI-compatible endpoint and model.
type LLMProviderConfig struct {
	APIKey          string         `mapstructure:"api_key"`
	BaseURL         string         `mapstructure:"base_url"`
	Model           string         `mapstructure:"model"`
	Family          string         `mapstructure:"family"`
	Vision          bool           `mapstructure:"vision"`
	FunctionCalling bool           `mapstructure:"function_calling"`
	JSONOutput      bool           `mapstructure:"json_output"`
	ContextWindow   int            `mapstructure:"context_window"`
	RequestTimeout  time.Duration  `mapstructure:"request_timeout"`
	SystemMessages  string         `mapstructure:"system_messages"`
	MalformedChunks string         `mapstructure:"malformed_chunks"`
	Defaults        map[string]any `mapstructure:"defaults"`
}

// CostsConfig controls the usage ledger and soft USD spending limits.
type CostsConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DailyLimit   float64 `mapstructure:"daily_limit"`
	MonthlyLimit float64 `mapstructure:"monthly_limit"`
}

// MetricsConfig controls the Prometheus endpoint of interactive sessions.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

var defaultConfig = Config{
	LLM: map[string]LLMProviderConfig{
		defaultProfile: {
			APIKey:          "",
			BaseURL:         "",
			Model:           "gpt-4o",
			Family:          "unknown",
			Vision:          false,
			FunctionCalling: true,
			JSONOutput:      true,
			ContextWindow:   4096,
			RequestTimeout:  60 * time.Second,
			SystemMessages:  "send",
			MalformedChunks: "skip",
		},
	},
	Costs: CostsConfig{
		Enabled:      true,
		DailyLimit:   0,
		MonthlyLimit: 0,
	},
	Metrics: MetricsConfig{
		Listen: "",
	},
}

// homeDir returns the chatbridge home directory.
// Uses CHATBRIDGE_HOME env var if set, otherwise defaults to ~/.chatbridge.
func homeDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

func newViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	for _, profile := range profileNames(v) {
		if profile != defaultProfile {
			setProfileDefaults(v, profile)
		}
	}
	return v, nil
}

// Load merges hardcoded defaults, the config file and environment fallbacks
// in that order. Config is always at $CHATBRIDGE_HOME/config.toml.
func Load() (*Config, error) {
	homeDir, err := homeDir()
	if err != nil {
		return nil, err
	}
	v, err := newViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir
	cfg.Profile = defaultProfile
	for name, llm := range cfg.LLM {
		cfg.LLM[name] = llm.withEnvFallback()
	}

	return &cfg, nil
}

// withEnvFallback fills empty credentials from the environment.
func (c LLMProviderConfig) withEnvFallback() LLMProviderConfig {
	if strings.TrimSpace(c.APIKey) == "" {
		c.APIKey = os.Getenv(EnvAPIKey)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = os.Getenv(EnvBaseURL)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	return c
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := homeDir()
	if err != nil {
		return err
	}
	v, err := newViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, profile := range profileNames(v) {
		key := "llm." + profile + ".request_timeout"
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultUserConfigTOML renders a minimal starter config as TOML.
func DefaultUserConfigTOML() (string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	llm := defaultConfig.LLM[defaultProfile]
	v.Set("llm.default.api_key", "$"+EnvAPIKey)
	v.Set("llm.default.base_url", DefaultBaseURL)
	v.Set("llm.default.model", llm.Model)
	v.Set("llm.default.request_timeout", llm.RequestTimeout.String())
	v.Set("costs.enabled", defaultConfig.Costs.Enabled)

	var out bytes.Buffer
	if err := v.WriteConfigTo(&out); err != nil {
		return "", fmt.Errorf("write default user config: %w", err)
	}
	return out.String(), nil
}

func setDefaults(v *viper.Viper) {
	setProfileDefaults(v, defaultProfile)

	v.SetDefault("costs.enabled", defaultConfig.Costs.Enabled)
	v.SetDefault("costs.daily_limit", defaultConfig.Costs.DailyLimit)
	v.SetDefault("costs.monthly_limit", defaultConfig.Costs.MonthlyLimit)

	v.SetDefault("metrics.listen", defaultConfig.Metrics.Listen)
}

// setProfileDefaults seeds capability, limit and policy keys for one llm
// profile. Credentials and the model are only defaulted for the default
// profile; other profiles must name their own model.
func setProfileDefaults(v *viper.Viper, profile string) {
	llm := defaultConfig.LLM[defaultProfile]
	prefix := "llm." + profile + "."
	if profile == defaultProfile {
		v.SetDefault(prefix+"api_key", llm.APIKey)
		v.SetDefault(prefix+"base_url", llm.BaseURL)
		v.SetDefault(prefix+"model", llm.Model)
	}
	v.SetDefault(prefix+"family", llm.Family)
	v.SetDefault(prefix+"vision", llm.Vision)
	v.SetDefault(prefix+"function_calling", llm.FunctionCalling)
	v.SetDefault(prefix+"json_output", llm.JSONOutput)
	v.SetDefault(prefix+"context_window", llm.ContextWindow)
	v.SetDefault(prefix+"request_timeout", llm.RequestTimeout)
	v.SetDefault(prefix+"system_messages", llm.SystemMessages)
	v.SetDefault(prefix+"malformed_chunks", llm.MalformedChunks)
}

func profileNames(v *viper.Viper) []string {
	profiles := v.GetStringMap("llm")
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectProfile switches the active llm profile.
func (c *Config) SelectProfile(name string) error {
	if _, ok := c.LLM[name]; !ok {
		return fmt.Errorf("unknown llm profile %q", name)
	}
	c.Profile = name
	return nil
}

// ActiveLLM returns the selected LLM profile with fallback defaults.
func (c *Config) ActiveLLM() LLMProviderConfig {
	if llm, ok := c.LLM[c.Profile]; ok {
		return llm
	}
	return c.DefaultLLM()
}

// DefaultLLM returns the default LLM profile with fallback defaults.
func (c *Config) DefaultLLM() LLMProviderConfig {
	if llm, ok := c.LLM[defaultProfile]; ok {
		return llm
	}
	return defaultConfig.LLM[defaultProfile].withEnvFallback()
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
