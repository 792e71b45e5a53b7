package provider

import (
	"sync"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

// usageAccountant tracks completion tokens for one client instance.
// Only completion tokens accumulate across calls; prompt tokens are reported
// per call in CreateResult and are always zero in the cumulative views.
type usageAccountant struct {
	mu    sync.Mutex
	last  int
	total int
}

// record stores the completion tokens of one successful call.
func (u *usageAccountant) record(completionTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.last = completionTokens
	u.total += completionTokens
}

func (u *usageAccountant) actual() llm.RequestUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return llm.RequestUsage{CompletionTokens: u.last, TotalTokens: u.last}
}

func (u *usageAccountant) cumulative() llm.RequestUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return llm.RequestUsage{CompletionTokens: u.total, TotalTokens: u.total}
}
