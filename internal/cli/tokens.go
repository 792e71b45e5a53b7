package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTokensCmd(root *rootOptions) *cobra.Command {
	var (
		prompt string
		system string
		images []string
	)

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Estimate prompt tokens and remaining context without calling the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(prompt) == "" {
				return errors.New("-p is required")
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			client, err := clientFactory(cfg.ActiveLLM())
			if err != nil {
				return err
			}
			defer client.Close()

			messages := buildMessages(system, nil, buildUserMessage(prompt, images))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "tokens: %d\nremaining: %d\n",
				client.CountTokens(messages, nil),
				client.RemainingTokens(messages, nil),
			)
			return err
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt message")
	cmd.Flags().StringVar(&system, "system", "", "System prompt to include in the count")
	cmd.Flags().StringArrayVar(&images, "image", nil, "Image URL to include in the count (repeatable)")

	return cmd
}
