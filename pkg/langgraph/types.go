package langgraph

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Role is the message variant tag used by LangGraph ("type" on the wire).
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// Message is a single conversation message as stored in thread state.
type Message struct {
	ID         string  `json:"id,omitempty"`
	Type       Role    `json:"type"`
	Content    Content `json:"content"`
	Name       string  `json:"name,omitempty"`
	ToolCallID string  `json:"tool_call_id,omitempty"`
}

// Content holds message content, which is either a JSON string or a list of
// typed parts. The raw form is kept so it round-trips unchanged.
type Content struct {
	raw json.RawMessage
}

// TextContent wraps a plain string as message content.
func TextContent(s string) Content {
	b, _ := json.Marshal(s)
	return Content{raw: b}
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte(`""`), nil
	}
	return c.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Any JSON value is accepted.
func (c *Content) UnmarshalJSON(data []byte) error {
	c.raw = append(c.raw[:0], data...)
	return nil
}

// Raw returns the content exactly as received.
func (c Content) Raw() json.RawMessage {
	return c.raw
}

// IsString reports whether the content is a plain JSON string.
func (c Content) IsString() bool {
	trimmed := bytes.TrimSpace(c.raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text returns the textual form of the content. String content is returned
// as is, part lists are reduced to their text parts joined by a space, and
// anything unparseable falls back to the raw bytes.
func (c Content) Text() string {
	if len(c.raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.raw, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(c.raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, " ")
	}
	return string(c.raw)
}

// Display returns string content verbatim and any other content as compact
// JSON. Used where the whole payload should be visible, not just text parts.
func (c Content) Display() string {
	if c.IsString() {
		return c.Text()
	}
	trimmed := bytes.TrimSpace(c.raw)
	if string(trimmed) == "null" {
		return ""
	}
	return string(trimmed)
}

// HumanMessage builds a human message with the given id and text.
func HumanMessage(id, text string) Message {
	return Message{ID: id, Type: RoleHuman, Content: TextContent(text)}
}

// Thread is a server-side conversation record.
type Thread struct {
	ThreadID  string          `json:"thread_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Status    string          `json:"status,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Values    json.RawMessage `json:"values,omitempty"`
}

// Messages decodes the "messages" key of the thread values. Threads whose
// values are missing or not an object yield no messages.
func (t Thread) Messages() []Message {
	if len(t.Values) == 0 {
		return nil
	}
	var v struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(t.Values, &v); err != nil {
		return nil
	}
	return v.Messages
}

// Values is the graph state carried by "values" stream events and thread
// state responses.
type Values struct {
	Messages []Message         `json:"messages"`
	UI       []json.RawMessage `json:"ui,omitempty"`
}

// ThreadState is the response of GET /threads/{id}/state.
type ThreadState struct {
	Values       Values         `json:"values"`
	Next         []string       `json:"next,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CreateThreadRequest is the body of POST /threads.
type CreateThreadRequest struct {
	AssistantID string         `json:"assistant_id,omitempty"`
	Messages    []Message      `json:"messages"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SearchThreadsRequest is the body of POST /threads/search.
type SearchThreadsRequest struct {
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunInput is the input state sent with a run.
type RunInput struct {
	Messages []Message `json:"messages"`
}

// RunRequest is the body of POST /threads/{id}/runs/stream.
type RunRequest struct {
	AssistantID string   `json:"assistant_id"`
	Input       RunInput `json:"input"`
	StreamMode  []string `json:"stream_mode,omitempty"`
}

// Event is a single server-sent event from a run stream.
type Event struct {
	Name string
	Data json.RawMessage
}

// Stream event names.
const (
	EventMetadata = "metadata"
	EventValues   = "values"
	EventCustom   = "custom"
	EventError    = "error"
	EventEnd      = "end"
)
