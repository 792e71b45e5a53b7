// Package costs keeps the chat usage ledger: one JSONL record per completed
// call, plus spend and token totals over it.
package costs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/chatbridge/internal/store"
)

// Record is one persisted usage entry.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id,omitempty"`
	Profile          string    `json:"profile,omitempty"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
}

// Spend holds aggregated spend totals in USD.
type Spend struct {
	TodayUSD float64
	MonthUSD float64
}

// Summary aggregates every record in the ledger.
type Summary struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	// ByModel maps model name to its number of calls.
	ByModel map[string]int
}

// Tracker appends usage records and computes totals.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// New returns a Tracker for the usage JSONL path.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// Path returns the ledger location.
func (t *Tracker) Path() string {
	return t.path
}

// Append writes one usage record to the JSONL file.
func (t *Tracker) Append(ctx context.Context, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if t.path == "" {
		return errors.New("usage path is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
	if err := store.AppendJSONL(t.path, rec); err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// Spend returns today's and this month's spend totals in USD.
func (t *Tracker) Spend(ctx context.Context, now time.Time) (Spend, error) {
	totals := Spend{}
	if now.IsZero() {
		now = time.Now()
	}

	nowLocal := now.In(time.Local)
	todayYear, todayMonth, todayDay := nowLocal.Date()

	err := t.each(ctx, func(rec Record) {
		recLocal := rec.Timestamp.In(time.Local)
		y, m, d := recLocal.Date()
		if y == todayYear && m == todayMonth {
			totals.MonthUSD += rec.CostUSD
			if d == todayDay {
				totals.TodayUSD += rec.CostUSD
			}
		}
	})
	if err != nil {
		return Spend{}, err
	}
	return totals, nil
}

// Summary totals calls, tokens and cost across the whole ledger.
func (t *Tracker) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{ByModel: make(map[string]int)}
	err := t.each(ctx, func(rec Record) {
		sum.Calls++
		sum.PromptTokens += rec.PromptTokens
		sum.CompletionTokens += rec.CompletionTokens
		sum.TotalTokens += rec.TotalTokens
		sum.CostUSD += rec.CostUSD
		sum.ByModel[rec.Model]++
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// each calls fn for every decodable record. Unparseable lines are skipped and
// a missing ledger yields no records.
func (t *Tracker) each(ctx context.Context, fn func(Record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.path == "" {
		return errors.New("usage path is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := store.ScanJSONL(ctx, t.path, func(line []byte) error {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil
		}
		fn(rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read usage file: %w", err)
	}
	return nil
}

// LimitWarnings describes every soft limit the spend has reached. A zero limit
// is disabled.
func LimitWarnings(s Spend, dailyLimit, monthlyLimit float64) []string {
	var warnings []string
	if dailyLimit > 0 && s.TodayUSD >= dailyLimit {
		warnings = append(warnings, fmt.Sprintf("daily spend $%.4f reached limit $%.2f", s.TodayUSD, dailyLimit))
	}
	if monthlyLimit > 0 && s.MonthUSD >= monthlyLimit {
		warnings = append(warnings, fmt.Sprintf("monthly spend $%.4f reached limit $%.2f", s.MonthUSD, monthlyLimit))
	}
	return warnings
}
