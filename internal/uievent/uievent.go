// Package uievent reduces custom side-channel events into keyed UI entries.
package uievent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	TypeUI     = "ui"
	TypeRemove = "remove-ui"
)

// Message is one UI entry, or a removal request when Type is TypeRemove.
type Message struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (m Message) merge() bool {
	v, _ := m.Metadata["merge"].(bool)
	return v
}

// Decode parses a custom event payload holding one message or a list.
func Decode(raw json.RawMessage) ([]Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("decode ui events: %w", err)
		}
		return msgs, nil
	}
	var m Message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("decode ui event: %w", err)
	}
	return []Message{m}, nil
}

// Reduce applies events to state and returns the new state. Entries keep
// the position of their first insertion. A removal of an unknown id, or a
// repeated upsert, leaves the state unchanged. state is not modified.
func Reduce(state []Message, events ...Message) []Message {
	out := append([]Message(nil), state...)
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		if ev.Type == TypeRemove {
			kept := out[:0:0]
			for _, m := range out {
				if m.ID != ev.ID {
					kept = append(kept, m)
				}
			}
			out = kept
			continue
		}

		idx := -1
		for i, m := range out {
			if m.ID == ev.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, ev)
			continue
		}
		if ev.merge() {
			props := make(map[string]any, len(out[idx].Props)+len(ev.Props))
			for k, v := range out[idx].Props {
				props[k] = v
			}
			for k, v := range ev.Props {
				props[k] = v
			}
			ev.Props = props
		}
		out[idx] = ev
	}
	return out
}

// Log is an ordered set of UI entries keyed by id. It is not safe for
// concurrent use.
type Log struct {
	items []Message
}

// NewLog builds a Log from UI entries carried in thread state.
func NewLog(raw []json.RawMessage) *Log {
	l := &Log{}
	for _, r := range raw {
		msgs, err := Decode(r)
		if err != nil {
			continue
		}
		l.items = Reduce(l.items, msgs...)
	}
	return l
}

// Apply reduces a raw custom event into the log.
func (l *Log) Apply(raw json.RawMessage) error {
	msgs, err := Decode(raw)
	if err != nil {
		return err
	}
	l.items = Reduce(l.items, msgs...)
	return nil
}

// Items returns a copy of the entries in insertion order.
func (l *Log) Items() []Message {
	return append([]Message(nil), l.items...)
}

// Get returns the entry with id.
func (l *Log) Get(id string) (Message, bool) {
	for _, m := range l.items {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func (l *Log) Len() int {
	return len(l.items)
}
