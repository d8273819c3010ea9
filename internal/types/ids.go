// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type TurnID string

func NewMessageID() string {
	return uuid.New().String()
}

func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}

// IsUUID reports whether s parses as a UUID. Assistant ids that are not
// UUIDs are graph ids.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
