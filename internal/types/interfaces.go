// internal/types/interfaces.go
package types

import (
	"context"

	"github.com/user/graphchat/pkg/langgraph"
)

// AgentService is the subset of the LangGraph API the client core uses.
// *langgraph.Client implements it.
type AgentService interface {
	Info(ctx context.Context) error
	CreateThread(ctx context.Context, req langgraph.CreateThreadRequest) (*langgraph.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	SearchThreads(ctx context.Context, req langgraph.SearchThreadsRequest) ([]langgraph.Thread, error)
	GetThreadState(ctx context.Context, threadID string) (*langgraph.ThreadState, error)
	StreamRun(ctx context.Context, threadID string, req langgraph.RunRequest) (*langgraph.RunStream, error)
}

// ServiceFactory builds a service client for a target.
type ServiceFactory func(Target) AgentService
