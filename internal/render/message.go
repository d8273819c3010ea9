// Package render turns conversation messages into display items and draws
// them for terminals and plain-text surfaces.
package render

import (
	"strings"

	"github.com/user/graphchat/pkg/langgraph"
)

// Options controls which messages are shown.
type Options struct {
	HideToolCalls bool
	// Expanded shows tool results in full.
	Expanded bool
}

// Item is a message ready for display.
type Item struct {
	ID   string
	Role langgraph.Role
	Text string
	Tool *ToolView
}

// Items converts msgs into display items. Messages without content are
// skipped, as are tool results when they are hidden.
func Items(msgs []langgraph.Message, opts Options) []Item {
	out := make([]Item, 0, len(msgs))
	for _, m := range msgs {
		if it, ok := item(m, opts); ok {
			out = append(out, it)
		}
	}
	return out
}

func item(m langgraph.Message, opts Options) (Item, bool) {
	text := m.Content.Display()
	if strings.TrimSpace(text) == "" {
		return Item{}, false
	}

	switch m.Type {
	case langgraph.RoleTool:
		if opts.HideToolCalls {
			return Item{}, false
		}
		v := Tool(m, opts.Expanded)
		return Item{ID: m.ID, Role: m.Type, Tool: &v}, true
	case langgraph.RoleHuman, langgraph.RoleAI:
		return Item{ID: m.ID, Role: m.Type, Text: text}, true
	default:
		// Roles this client does not know, such as system messages, are
		// shown like assistant output.
		return Item{ID: m.ID, Role: langgraph.RoleAI, Text: text}, true
	}
}

// LastReply returns the text of the last assistant message after the last
// human message, or "".
func LastReply(msgs []langgraph.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Type {
		case langgraph.RoleHuman:
			return ""
		case langgraph.RoleAI:
			if text := strings.TrimSpace(msgs[i].Content.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// LastTurn returns the messages after the last human message.
func LastTurn(msgs []langgraph.Message) []langgraph.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == langgraph.RoleHuman {
			return msgs[i+1:]
		}
	}
	return msgs
}

// Reply renders everything after the last human message as plain text,
// one block per item. Text surfaces send it as the answer to a turn.
func Reply(msgs []langgraph.Message, opts Options) string {
	var blocks []string
	for _, it := range Items(LastTurn(msgs), opts) {
		blocks = append(blocks, Plain(it))
	}
	return strings.Join(blocks, "\n\n")
}

// Plain renders an item as plain text.
func Plain(it Item) string {
	if it.Tool == nil {
		return it.Text
	}
	v := it.Tool
	var b strings.Builder
	b.WriteString(v.Title())
	if v.CallID != "" {
		b.WriteString(" (" + v.CallID + ")")
	}
	b.WriteString("\n")
	if v.JSON {
		for _, r := range v.Rows {
			b.WriteString(r.Key + ": " + r.Value + "\n")
		}
		if v.HiddenRows > 0 {
			b.WriteString("...\n")
		}
	} else {
		b.WriteString(v.Text + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
