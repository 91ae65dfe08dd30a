package gateway

import (
	"context"
	"time"

	"github.com/user/xdcstore/internal/transport"
	"github.com/user/xdcstore/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks the handling of a single inbound chat event.
type Run struct {
	ID        types.RunID
	ChatID    types.ChatID
	Event     *transport.Event
	Status    RunStatus
	CreatedAt time.Time
	Ctx       context.Context
}

// NewRun creates a Run in the Queued state for the given event.
func NewRun(event *transport.Event) *Run {
	return &Run{
		ID:        types.NewRunID(),
		ChatID:    event.ChatID,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}
