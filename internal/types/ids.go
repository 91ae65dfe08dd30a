// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// ChatID identifies a chat on the messaging transport.
type ChatID int64

// MsgID identifies a message on the messaging transport. Status update
// payloads ride on the message carrying the store frontend instance.
type MsgID int64

// AppID is the stable integer identifier of a catalog entry. Assigned at
// import time, never reused.
type AppID int64

type SessionID string
type RunID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}
