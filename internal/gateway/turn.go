package gateway

import (
	"context"
	"time"

	"github.com/user/graphchat/internal/types"
)

// TurnStatus represents the lifecycle state of a Turn.
type TurnStatus string

const (
	TurnStatusQueued   TurnStatus = "queued"
	TurnStatusRunning  TurnStatus = "running"
	TurnStatusComplete TurnStatus = "complete"
	TurnStatusFailed   TurnStatus = "failed"
)

// Turn is one user message waiting to be submitted in a chat.
type Turn struct {
	ID         types.TurnID
	Key        types.SessionKey
	Text       string
	Status     TurnStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	Ctx        context.Context
	OnComplete func(response string)
}

// NewTurn creates a queued Turn for the chat identified by key.
func NewTurn(key types.SessionKey, text string) *Turn {
	return &Turn{
		ID:        types.NewTurnID(),
		Key:       key,
		Text:      text,
		Status:    TurnStatusQueued,
		CreatedAt: time.Now(),
	}
}
