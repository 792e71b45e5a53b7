package cli

import (
	"fmt"
	"sort"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/costs"
	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Print totals from the usage ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			tracker := costs.New(cfg.UsagePath())
			sum, err := tracker.Summary(cmd.Context())
			if err != nil {
				return err
			}
			spend, err := tracker.Spend(cmd.Context(), nowFunc())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ledger: %s\n", tracker.Path())
			fmt.Fprintf(out, "calls: %d\n", sum.Calls)
			fmt.Fprintf(out, "tokens: prompt=%d completion=%d total=%d\n", sum.PromptTokens, sum.CompletionTokens, sum.TotalTokens)
			fmt.Fprintf(out, "spend: today=$%.4f month=$%.4f all=$%.4f\n", spend.TodayUSD, spend.MonthUSD, sum.CostUSD)

			models := make([]string, 0, len(sum.ByModel))
			for model := range sum.ByModel {
				models = append(models, model)
			}
			sort.Strings(models)
			for _, model := range models {
				fmt.Fprintf(out, "  %s: %d calls\n", model, sum.ByModel[model])
			}
			for _, w := range costs.LimitWarnings(spend, cfg.Costs.DailyLimit, cfg.Costs.MonthlyLimit) {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			return nil
		},
	}
}
