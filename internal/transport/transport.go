// Package transport defines the narrow messaging interface the protocol
// engine is written against. The engine never sees transport framing: it
// receives Events and answers through a Sender.
package transport

import (
	"context"
	"encoding/json"

	"github.com/user/xdcstore/internal/types"
)

// EventKind distinguishes inbound chat events.
type EventKind string

const (
	// EventText is a plain chat text message.
	EventText EventKind = "text"
	// EventStatusUpdate is a status update payload attached to a store
	// frontend instance message.
	EventStatusUpdate EventKind = "status_update"
)

// Event is one inbound chat event.
type Event struct {
	Kind   EventKind
	ChatID types.ChatID
	MsgID  types.MsgID
	// Text is set for EventText.
	Text string
	// Payload is the raw status update payload for EventStatusUpdate,
	// already unwrapped from its envelope.
	Payload json.RawMessage
}

// Sender delivers outbound messages to one chat. Implementations own
// delivery guarantees; the engine logs failures and treats the triggering
// request as unanswered.
type Sender interface {
	// SendText sends plain chat text.
	SendText(ctx context.Context, chatID types.ChatID, text string) error
	// SendWebxdc sends the bundle at path as a mini-app attachment with
	// accompanying text, returning the message id the new instance rides on.
	SendWebxdc(ctx context.Context, chatID types.ChatID, path, text string) (types.MsgID, error)
	// SendPayload attaches a status update payload to an existing
	// mini-app message instance.
	SendPayload(ctx context.Context, msgID types.MsgID, payload any) error
}

// Handler consumes inbound events.
type Handler func(ctx context.Context, event *Event)
