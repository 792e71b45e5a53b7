// Package session persists named chat transcripts as JSONL, one llm.Message
// per line.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/neoclaw-ai/chatbridge/internal/llm"
	"github.com/neoclaw-ai/chatbridge/internal/store"
)

var errNilMessage = errors.New("nil message")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
	roleSystem    = "system"
)

// Store persists one conversation transcript.
type Store struct {
	path string
	mu   sync.Mutex
}

type record struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Parts      []partRecord   `json:"parts,omitempty"`
	Source     string         `json:"source,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []callRecord   `json:"tool_calls,omitempty"`
}

type callRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type partRecord struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// New creates a store backed by the JSONL file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path resolves the transcript file for a named session inside dir.
func Path(dir, name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid session name %q: use letters, digits, '.', '_' or '-'", name)
	}
	return filepath.Join(dir, name+".jsonl"), nil
}

// Load reads the transcript. Malformed or unrecognized lines are skipped and a
// missing file is an empty transcript.
func (s *Store) Load(ctx context.Context) ([]llm.Message, error) {
	if s == nil || s.path == "" {
		return nil, errors.New("session path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]llm.Message, 0)
	err := store.ScanJSONL(ctx, s.path, func(line []byte) error {
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil
		}
		if msg, ok := rec.message(); ok {
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return messages, nil
}

// Append adds messages to the end of the transcript.
func (s *Store) Append(ctx context.Context, messages []llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	if s == nil || s.path == "" {
		return errors.New("session path is required")
	}
	records, err := toRecords(messages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.AppendJSONL(s.path, records...); err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return nil
}

// Rewrite replaces the transcript with messages.
func (s *Store) Rewrite(ctx context.Context, messages []llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.path == "" {
		return errors.New("session path is required")
	}
	records, err := toRecords(messages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RewriteJSONL(s.path, records...); err != nil {
		return fmt.Errorf("rewrite session: %w", err)
	}
	return nil
}

// Reset clears the transcript.
func (s *Store) Reset(ctx context.Context) error {
	return s.Rewrite(ctx, nil)
}

func toRecords(messages []llm.Message) ([]any, error) {
	records := make([]any, 0, len(messages))
	for i, msg := range messages {
		rec, err := newRecord(msg)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func newRecord(msg llm.Message) (record, error) {
	switch m := msg.(type) {
	case nil:
		return record{}, errNilMessage
	case llm.UserMessage:
		rec := record{Role: roleUser, Content: m.Text, Source: m.Source}
		for _, part := range m.Parts {
			switch p := part.(type) {
			case llm.TextPart:
				rec.Parts = append(rec.Parts, partRecord{Type: "text", Text: p.Text})
			case llm.ImagePart:
				rec.Parts = append(rec.Parts, partRecord{Type: "image", URL: p.URL})
			default:
				return record{}, fmt.Errorf("unsupported content part %T", part)
			}
		}
		return rec, nil
	case *llm.UserMessage:
		if m == nil {
			return record{}, errNilMessage
		}
		return newRecord(*m)
	case llm.AssistantMessage:
		rec := record{Role: roleAssistant, Content: m.Content, Source: m.Source}
		for _, call := range m.ToolCalls {
			rec.ToolCalls = append(rec.ToolCalls, callRecord(call))
		}
		return rec, nil
	case *llm.AssistantMessage:
		if m == nil {
			return record{}, errNilMessage
		}
		return newRecord(*m)
	case llm.ToolResultMessage:
		return record{Role: roleTool, Content: m.Content, ToolCallID: m.CallID}, nil
	case *llm.ToolResultMessage:
		if m == nil {
			return record{}, errNilMessage
		}
		return newRecord(*m)
	case llm.SystemMessage:
		return record{Role: roleSystem, Content: m.Content}, nil
	case *llm.SystemMessage:
		if m == nil {
			return record{}, errNilMessage
		}
		return newRecord(*m)
	default:
		return record{}, fmt.Errorf("unsupported message %T", msg)
	}
}

func (r record) message() (llm.Message, bool) {
	switch r.Role {
	case roleUser:
		msg := llm.UserMessage{Text: r.Content, Source: r.Source}
		for _, p := range r.Parts {
			switch p.Type {
			case "text":
				msg.Parts = append(msg.Parts, llm.TextPart{Text: p.Text})
			case "image":
				msg.Parts = append(msg.Parts, llm.ImagePart{URL: p.URL})
			}
		}
		return msg, true
	case roleAssistant:
		msg := llm.AssistantMessage{Content: r.Content, Source: r.Source}
		for _, call := range r.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall(call))
		}
		return msg, true
	case roleTool:
		return llm.ToolResultMessage{CallID: r.ToolCallID, Content: r.Content}, true
	case roleSystem:
		return llm.SystemMessage{Content: r.Content}, true
	default:
		return nil, false
	}
}
