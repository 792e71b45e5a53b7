package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/llm"
	"github.com/neoclaw-ai/chatbridge/internal/provider"
)

func createTestHome(t *testing.T) string {
	t.Helper()
	homeDir := filepath.Join(t.TempDir(), ".chatbridge")
	t.Setenv(config.EnvHome, homeDir)
	return homeDir
}

func writeValidConfig(t *testing.T, homeDir string) {
	t.Helper()
	writeConfig(t, homeDir, `
[llm.default]
api_key = "test-key"
base_url = "http://localhost:3000"
model = "gpt-4o"

[llm.local]
api_key = "local-key"
base_url = "http://localhost:11434"
model = "qwen2.5"
`)
}

func writeConfig(t *testing.T, homeDir, body string) {
	t.Helper()
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// useFakeClient swaps the client factory for the duration of the test.
func useFakeClient(t *testing.T, client *fakeClient) *[]config.LLMProviderConfig {
	t.Helper()
	var seen []config.LLMProviderConfig
	orig := clientFactory
	t.Cleanup(func() { clientFactory = orig })
	clientFactory = func(cfg config.LLMProviderConfig, _ ...provider.Option) (llm.Client, error) {
		seen = append(seen, cfg)
		return client, nil
	}
	return &seen
}

type fakeClient struct {
	mu        sync.Mutex
	resp      *llm.CreateResult
	err       error
	fragments []llm.StreamFragment
	calls     [][]llm.Message
	options   []llm.CallOptions
	usage     llm.RequestUsage
	closed    bool
}

var _ llm.Client = (*fakeClient)(nil)

func (c *fakeClient) Create(_ context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.CreateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, messages)
	c.options = append(c.options, llm.ApplyCallOptions(opts...))
	if c.err != nil {
		return nil, c.err
	}
	c.usage.CompletionTokens += c.resp.Usage.CompletionTokens
	return c.resp, nil
}

func (c *fakeClient) CreateStream(_ context.Context, messages []llm.Message, opts ...llm.CallOption) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, messages)
	c.options = append(c.options, llm.ApplyCallOptions(opts...))
	if c.err != nil {
		return nil, c.err
	}
	return &fakeStream{fragments: c.fragments, pos: -1}, nil
}

func (c *fakeClient) CountTokens(messages []llm.Message, _ []llm.Tool) int {
	return len(messages) * 10
}

func (c *fakeClient) RemainingTokens(messages []llm.Message, tools []llm.Tool) int {
	return 4096 - c.CountTokens(messages, tools)
}

func (c *fakeClient) ActualUsage() llm.RequestUsage {
	if c.resp == nil {
		return llm.RequestUsage{}
	}
	return llm.RequestUsage{CompletionTokens: c.resp.Usage.CompletionTokens}
}

func (c *fakeClient) TotalUsage() llm.RequestUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *fakeClient) ModelInfo() llm.ModelInfo { return provider.DefaultModelInfo }

func (c *fakeClient) Capabilities() llm.ModelCapabilities {
	return provider.DefaultModelInfo.ModelCapabilities
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

type fakeStream struct {
	fragments []llm.StreamFragment
	pos       int
}

func (s *fakeStream) Next() bool {
	if s.pos+1 >= len(s.fragments) {
		s.pos = len(s.fragments)
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Current() llm.StreamFragment { return s.fragments[s.pos] }

func (s *fakeStream) Err() error { return nil }

func (s *fakeStream) Result() (*llm.CreateResult, error) {
	var text string
	var calls llm.ToolCallAssembler
	for _, f := range s.fragments {
		switch f := f.(type) {
		case llm.TextFragment:
			text += f.Text
		case llm.ToolCallFragment:
			calls.Add(f)
		}
	}
	return &llm.CreateResult{Content: text, ToolCalls: calls.Calls(), FinishReason: llm.FinishStop}, nil
}

func (s *fakeStream) Close() error { return nil }
