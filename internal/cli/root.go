// Package cli wires Cobra subcommands to application dependencies; it is a thin controller with no business logic.
package cli

import (
	"log/slog"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/llm"
	"github.com/neoclaw-ai/chatbridge/internal/logging"
	"github.com/neoclaw-ai/chatbridge/internal/provider"
	"github.com/spf13/cobra"
)

var clientFactory = func(cfg config.LLMProviderConfig, opts ...provider.Option) (llm.Client, error) {
	c, err := provider.NewClientFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type rootOptions struct {
	verbose bool
	debug   bool
	profile string
}

// NewRootCmd creates the root command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "chatbridge",
		Short: "Chat with any OpenAI-compatible endpoint",
		// Let main handle fatal error rendering through structured logs.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			switch {
			case opts.debug:
				logging.SetLevel(slog.LevelDebug)
			case opts.verbose:
				logging.SetLevel(slog.LevelInfo)
			default:
				logging.SetLevel(slog.LevelWarn)
			}
			return nil
		},
	}

	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newTokensCmd(opts))
	root.AddCommand(newUsageCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging (info level)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging, including request lifecycle")
	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "LLM profile from config (llm.<name>)")

	return root
}

// loadConfig loads, profile-selects and validates configuration.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.profile != "" {
		if err := cfg.SelectProfile(opts.profile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	warnStartupConditions(cfg)
	return cfg, nil
}
