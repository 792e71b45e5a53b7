package cli

import (
	"net/url"
	"strings"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/costs"
	"github.com/neoclaw-ai/chatbridge/internal/logging"
)

// Emit startup warnings derived from non-fatal config conditions.
func warnStartupConditions(cfg *config.Config) {
	if cfg == nil {
		return
	}
	llmCfg := cfg.ActiveLLM()

	if u, err := url.Parse(llmCfg.BaseURL); err == nil && u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		logging.Logger().Warn("base_url uses plain http; the api key is sent unencrypted", "base_url", llmCfg.BaseURL)
	}
	if cfg.Costs.Enabled {
		if _, ok := costs.EstimateUSD(llmCfg.Model, 0, 0); !ok {
			logging.Logger().Info("no fallback pricing for model; usage ledger records zero cost", "model", llmCfg.Model)
		}
	}
	if !cfg.Costs.Enabled && (cfg.Costs.DailyLimit > 0 || cfg.Costs.MonthlyLimit > 0) {
		logging.Logger().Warn("costs limits are set but costs.enabled is false; limits are not checked")
	}
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
