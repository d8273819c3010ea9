// internal/types/models.go
package types

// Identity is the tuple that names one logical chat session. Changing any
// field starts a new or different session.
type Identity struct {
	ServiceURL  string `json:"service_url"`
	AssistantID string `json:"assistant_id"`
	APIKey      string `json:"-"`
	ThreadID    string `json:"thread_id,omitempty"`
}

// Target is the part of the identity that selects a service and assistant.
// Health probes and thread listings are scoped to it.
type Target struct {
	ServiceURL  string
	AssistantID string
	APIKey      string
}

// Target drops the thread id.
func (i Identity) Target() Target {
	return Target{ServiceURL: i.ServiceURL, AssistantID: i.AssistantID, APIKey: i.APIKey}
}

// WithThread returns a copy bound to threadID.
func (i Identity) WithThread(threadID string) Identity {
	i.ThreadID = threadID
	return i
}

// Status is the connection state derived from the latest health probe.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)
