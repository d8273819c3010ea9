package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/graphchat/pkg/langgraph"
)

// Tool results collapse when longer than these limits.
const (
	MaxLines     = 3
	MaxChars     = 100
	CollapseRows = 3
)

// Row is one key/value pair of a JSON tool result.
type Row struct {
	Key     string
	Value   string
	Complex bool
}

// ToolView is the display form of a tool message.
type ToolView struct {
	Name   string
	CallID string
	// JSON results are shown as Rows, everything else as Text.
	JSON        bool
	Rows        []Row
	Text        string
	Collapsible bool
	Collapsed   bool
	HiddenRows  int
}

// Title is the header line of the tool view.
func (v ToolView) Title() string {
	if v.Name == "" {
		return "Tool Result"
	}
	return "Tool Result: " + v.Name
}

// Tool builds the view of a tool message. Unless expanded, long results are
// cut: tables to their first rows, text to its first lines plus "...".
func Tool(m langgraph.Message, expanded bool) ToolView {
	v := ToolView{Name: m.Name, CallID: m.ToolCallID}

	content := m.Content.Display()
	full := content
	var table []Row
	if m.Content.IsString() {
		if rows, pretty, ok := parseJSON(content); ok {
			full = pretty
			table = rows
			v.JSON = rows != nil
		} else if looksLikeHTML(content) {
			if md, err := htmltomarkdown.ConvertString(content); err == nil {
				full = strings.TrimSpace(md)
			}
		}
	}

	v.Collapsible = strings.Count(full, "\n")+1 > MaxLines || len([]rune(full)) > MaxChars
	v.Collapsed = v.Collapsible && !expanded

	if v.JSON {
		v.Rows = table
		if v.Collapsed && len(table) > CollapseRows {
			v.Rows = table[:CollapseRows]
			v.HiddenRows = len(table) - CollapseRows
		}
		return v
	}

	v.Text = full
	if v.Collapsed {
		lines := strings.Split(full, "\n")
		if len(lines) > MaxLines {
			lines = lines[:MaxLines]
		}
		v.Text = strings.Join(lines, "\n") + "\n..."
	}
	return v
}

// parseJSON reports whether s is JSON. Objects and arrays also yield their
// rows in document order; other values only a pretty form.
func parseJSON(s string) (rows []Row, pretty string, ok bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return nil, "", false
	}
	pretty = buf.String()

	switch trimmed[0] {
	case '{':
		rows, err := objectRows(trimmed)
		if err != nil {
			return nil, pretty, true
		}
		return rows, pretty, true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, pretty, true
		}
		rows := make([]Row, 0, len(items))
		for i, item := range items {
			rows = append(rows, valueRow(fmt.Sprint(i), item))
		}
		return rows, pretty, true
	}
	return nil, pretty, true
}

// objectRows walks the top-level object keeping its key order.
func objectRows(s string) ([]Row, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	rows := []Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		rows = append(rows, valueRow(key, raw))
	}
	return rows, nil
}

func valueRow(key string, raw json.RawMessage) Row {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var buf bytes.Buffer
		json.Indent(&buf, trimmed, "", "  ")
		return Row{Key: key, Value: buf.String(), Complex: true}
	}
	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		return Row{Key: key, Value: str}
	}
	return Row{Key: key, Value: string(trimmed)}
}

func looksLikeHTML(s string) bool {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "<") {
		return false
	}
	lower := strings.ToLower(t)
	return strings.Contains(lower, "</") || strings.Contains(lower, "/>") || strings.HasPrefix(lower, "<!doctype html")
}
