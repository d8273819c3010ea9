package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/user/graphchat/internal/threads"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph"
)

// Terminal draws items with ANSI styles.
type Terminal struct {
	width int

	human     lipgloss.Style
	ai        lipgloss.Style
	toolBox   lipgloss.Style
	toolTitle lipgloss.Style
	callID    lipgloss.Style
	key       lipgloss.Style
	value     lipgloss.Style
	complex   lipgloss.Style
	muted     lipgloss.Style
	current   lipgloss.Style
	connected lipgloss.Style
	loading   lipgloss.Style
	failed    lipgloss.Style
}

// NewTerminal creates a renderer wrapping text at width columns. Zero
// disables wrapping.
func NewTerminal(width int) *Terminal {
	t := &Terminal{
		width: width,
		human: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
		ai: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		toolBox: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		toolTitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Bold(true),
		callID: lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")),
		key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("37")),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("35")),
		complex: lipgloss.NewStyle().
			Foreground(lipgloss.Color("69")),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		current: lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true),
		connected: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		loading:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	if width > 0 {
		t.ai = t.ai.Width(width)
		t.human = t.human.Width(width)
		t.toolBox = t.toolBox.Width(width - 2)
	}
	return t
}

// Messages renders the visible messages, or a hint for an empty chat.
func (t *Terminal) Messages(msgs []langgraph.Message, opts Options) string {
	items := Items(msgs, opts)
	if len(items) == 0 {
		return t.muted.Render("Start a conversation with the AI assistant")
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, t.Item(it))
	}
	return strings.Join(parts, "\n\n")
}

// Item renders one item.
func (t *Terminal) Item(it Item) string {
	switch it.Role {
	case langgraph.RoleHuman:
		return t.human.Render("you> " + it.Text)
	case langgraph.RoleTool:
		if it.Tool == nil {
			return t.muted.Render(it.Text)
		}
		return t.Tool(*it.Tool)
	case langgraph.RoleAI:
		return t.ai.Render(it.Text)
	default:
		return t.ai.Render(it.Text)
	}
}

// Tool renders a tool result box.
func (t *Terminal) Tool(v ToolView) string {
	var b strings.Builder
	b.WriteString(t.toolTitle.Render(v.Title()))
	if v.CallID != "" {
		b.WriteString(" " + t.callID.Render(v.CallID))
	}
	b.WriteString("\n")

	if v.JSON {
		width := 0
		for _, r := range v.Rows {
			if len(r.Key) > width {
				width = len(r.Key)
			}
		}
		for _, r := range v.Rows {
			style := t.value
			if r.Complex {
				style = t.complex
			}
			b.WriteString(fmt.Sprintf("%s  %s\n", t.key.Render(fmt.Sprintf("%-*s", width, r.Key)), style.Render(r.Value)))
		}
		if v.HiddenRows > 0 {
			b.WriteString(t.muted.Render(fmt.Sprintf("... %d more", v.HiddenRows)) + "\n")
		}
	} else {
		b.WriteString(v.Text + "\n")
	}
	if v.Collapsed {
		b.WriteString(t.muted.Render("(/tools expand to show more)"))
	}
	return t.toolBox.Render(strings.TrimRight(b.String(), "\n"))
}

// Threads renders the thread list, marking the current thread.
func (t *Terminal) Threads(list []threads.Summary, currentID string) string {
	if len(list) == 0 {
		return t.muted.Render("No chat history yet")
	}
	var b strings.Builder
	for i, s := range list {
		line := fmt.Sprintf("%2d. %s  %s", i+1, s.Preview, t.muted.Render(s.ThreadID))
		if s.ThreadID == currentID {
			line = t.current.Render(fmt.Sprintf("%2d. %s", i+1, s.Preview)) + "  " + t.muted.Render(s.ThreadID)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Status renders a connection status indicator.
func (t *Terminal) Status(s types.Status) string {
	switch s {
	case types.StatusConnected:
		return t.connected.Render("● connected")
	case types.StatusError:
		return t.failed.Render("● unreachable")
	default:
		return t.loading.Render("● connecting...")
	}
}
