package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
)

func TestStoreAppendLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "work.jsonl")
	s := New(path)

	input := []llm.Message{
		llm.SystemMessage{Content: "be brief"},
		llm.UserMessage{Text: "hello", Source: "cli"},
		llm.UserMessage{Parts: []llm.ContentPart{
			llm.TextPart{Text: "what is this?"},
			llm.ImagePart{URL: "data:image/png;base64,AAAA"},
		}},
		&llm.AssistantMessage{
			ToolCalls: []llm.ToolCall{{ID: "1", Name: "lookup", Arguments: `{"q":"go"}`}},
		},
		llm.ToolResultMessage{CallID: "1", Content: "result"},
		llm.AssistantMessage{Content: "done"},
	}

	if err := s.Append(context.Background(), input); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(input) {
		t.Fatalf("expected %d messages, got %d", len(input), len(got))
	}
	if sys, ok := got[0].(llm.SystemMessage); !ok || sys.Content != "be brief" {
		t.Fatalf("unexpected system message: %#v", got[0])
	}
	if user, ok := got[1].(llm.UserMessage); !ok || user.Text != "hello" || user.Source != "cli" {
		t.Fatalf("unexpected user message: %#v", got[1])
	}
	multi, ok := got[2].(llm.UserMessage)
	if !ok || len(multi.Parts) != 2 || !multi.HasImages() {
		t.Fatalf("expected multi-part user message with image, got %#v", got[2])
	}
	call, ok := got[3].(llm.AssistantMessage)
	if !ok || len(call.ToolCalls) != 1 || call.ToolCalls[0].Name != "lookup" || call.ToolCalls[0].Arguments != `{"q":"go"}` {
		t.Fatalf("expected tool call to round-trip, got %#v", got[3])
	}
	if res, ok := got[4].(llm.ToolResultMessage); !ok || res.CallID != "1" {
		t.Fatalf("unexpected tool result: %#v", got[4])
	}
}

func TestStoreLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonl")
	content := strings.Join([]string{
		`{"role":"user","content":"ok"}`,
		`not json`,
		`{"role":"narrator","content":"ignored"}`,
		`{"role":"assistant","content":"fine"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := New(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 valid messages, got %d: %#v", len(got), got)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	got, err := New(filepath.Join(t.TempDir(), "none.jsonl")).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(got))
	}
}

func TestStoreRewriteAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	s := New(path)
	ctx := context.Background()

	if err := s.Append(ctx, []llm.Message{llm.UserMessage{Text: "a"}, llm.UserMessage{Text: "b"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Rewrite(ctx, []llm.Message{llm.AssistantMessage{Content: "summary"}}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message after rewrite, got %d", len(got))
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("load after reset: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript after reset, got %d", len(got))
	}
}

type otherMessage struct{ llm.SystemMessage }

func TestStoreAppendRejectsUnknownMessage(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "s.jsonl"))
	if err := s.Append(context.Background(), []llm.Message{otherMessage{}}); err == nil {
		t.Fatalf("expected error for unknown message type")
	}
	if err := s.Append(context.Background(), []llm.Message{(*llm.UserMessage)(nil)}); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestPath(t *testing.T) {
	got, err := Path("/data/sessions", "work-1")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if got != filepath.Join("/data/sessions", "work-1.jsonl") {
		t.Fatalf("unexpected path %q", got)
	}
	for _, bad := range []string{"", "../etc", "a/b", ".hidden"} {
		if _, err := Path("/data", bad); err == nil {
			t.Fatalf("expected error for name %q", bad)
		}
	}
}

func TestStoreRoundTripsLargeInlineImage(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "img.jsonl"))
	ctx := context.Background()
	url := "data:image/png;base64," + strings.Repeat("A", 2<<20)

	if err := s.Append(ctx, []llm.Message{
		llm.UserMessage{Parts: []llm.ContentPart{llm.TextPart{Text: "look"}, llm.ImagePart{URL: url}}},
		llm.AssistantMessage{Content: "a cat"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, []llm.Message{llm.UserMessage{Text: "next"}}); err != nil {
		t.Fatalf("append follow-up: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	user, ok := got[0].(llm.UserMessage)
	if !ok || len(user.Parts) != 2 {
		t.Fatalf("expected image turn to load, got %#v", got[0])
	}
	if img, ok := user.Parts[1].(llm.ImagePart); !ok || img.URL != url {
		t.Fatalf("expected image url to round-trip")
	}
}
