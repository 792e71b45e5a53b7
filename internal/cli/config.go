package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/store"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var initFile bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print merged configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !initFile {
				return config.Write(cmd.OutOrStdout())
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path := cfg.ConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file %q already exists", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config file %q: %w", path, err)
			}

			body, err := config.DefaultUserConfigTOML()
			if err != nil {
				return err
			}
			if err := store.WriteFile(path, []byte(body), 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&initFile, "init", false, "Write a starter config file if none exists")

	return cmd
}
