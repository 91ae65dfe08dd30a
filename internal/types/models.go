// internal/types/models.go
package types

import (
	"time"
)

// AppInfo is one published catalog entry. Immutable once published except
// by re-import, which keeps the id and bumps the catalog serial.
type AppInfo struct {
	ID          AppID  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"` // base64 PNG extracted from the bundle
	Version     string `json:"version"`
	Size        int64  `json:"size"`
}

// Session is the per-chat protocol state. It is advisory bookkeeping: every
// update response carries the full catalog, so the engine stays correct even
// if this state is lost. Only the version-skew short-circuit depends on it.
type Session struct {
	ID         SessionID `json:"id"`
	ChatID     ChatID    `json:"chat_id"`
	StoreMsgID MsgID     `json:"store_msg_id"`
	LastSerial int64     `json:"last_serial"`
	// FrontendVersion is the frontend bundle version the client is known to
	// hold, set when the bundle is delivered.
	FrontendVersion string    `json:"frontend_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
