package llm

import "encoding/json"

// Message is one entry of model conversation history.
// The set of implementations is closed: UserMessage, AssistantMessage,
// ToolResultMessage and SystemMessage.
type Message interface {
	isMessage()
}

// UserMessage is a user-authored message. Text is used when Parts is nil;
// otherwise Parts carries ordered multi-part content.
type UserMessage struct {
	Text   string
	Parts  []ContentPart
	Source string
}

// AssistantMessage is a model-authored message, optionally requesting tool calls.
type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCall
	Source    string
}

// ToolResultMessage carries the result of one tool call back to the model.
type ToolResultMessage struct {
	CallID  string
	Content string
}

// SystemMessage carries system instructions.
type SystemMessage struct {
	Content string
}

func (UserMessage) isMessage()       {}
func (AssistantMessage) isMessage()  {}
func (ToolResultMessage) isMessage() {}
func (SystemMessage) isMessage()     {}

// HasImages reports whether the message carries any image part.
func (m UserMessage) HasImages() bool {
	for _, part := range m.Parts {
		if _, ok := part.(ImagePart); ok {
			return true
		}
	}
	return false
}

// ContentPart is one element of multi-part user content.
type ContentPart interface {
	isContentPart()
}

// TextPart is a plain-text content part.
type TextPart struct {
	Text string
}

// ImagePart references an image by URL (http(s) or data URL).
type ImagePart struct {
	URL string
}

func (TextPart) isContentPart()  {}
func (ImagePart) isContentPart() {}

// ToolCall is a model request to execute a tool.
// Arguments is the JSON-encoded argument object as produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool is a tool offered to the model: either a ToolDeclaration or a RawTool
// already in wire shape.
type Tool interface {
	isTool()
}

// ToolDeclaration describes a callable tool exposed to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// RawTool is a tool definition already encoded in the provider wire format.
// It is forwarded unchanged.
type RawTool json.RawMessage

func (ToolDeclaration) isTool() {}
func (RawTool) isTool()         {}

// MarshalJSON returns the raw wire bytes.
func (t RawTool) MarshalJSON() ([]byte, error) {
	if len(t) == 0 {
		return []byte("null"), nil
	}
	return t, nil
}
