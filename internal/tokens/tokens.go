// internal/tokens/tokens.go
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/graphchat/pkg/langgraph"
)

// perMessage approximates the framing tokens each chat message costs.
const perMessage = 3

// Counter estimates how many tokens a conversation occupies.
type Counter struct {
	tokenizer *tiktoken.Tiktoken
}

// New creates a counter using the tokenizer of model, falling back to
// cl100k_base for models tiktoken does not know (which is most graphs).
func New(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Counter{tokenizer: enc}, nil
}

// Count returns the token count for a string.
func (c *Counter) Count(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}

// Usage is the token estimate of a message list.
type Usage struct {
	Messages int
	Total    int
	ByRole   map[langgraph.Role]int
}

// Estimate counts the tokens of msgs. Tool results count with their name.
func (c *Counter) Estimate(msgs []langgraph.Message) Usage {
	u := Usage{Messages: len(msgs), ByRole: make(map[langgraph.Role]int)}
	for _, m := range msgs {
		n := perMessage + c.Count(m.Content.Display())
		if m.Name != "" {
			n += c.Count(m.Name)
		}
		u.ByRole[m.Type] += n
		u.Total += n
	}
	return u
}

// String formats the usage as a one-line footer.
func (u Usage) String() string {
	return fmt.Sprintf("%d messages, ~%d tokens (human %d, ai %d, tool %d)",
		u.Messages, u.Total, u.ByRole[langgraph.RoleHuman], u.ByRole[langgraph.RoleAI], u.ByRole[langgraph.RoleTool])
}
