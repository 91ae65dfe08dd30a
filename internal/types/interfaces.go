// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	GetOrCreate(ctx context.Context, chatID ChatID) (*Session, bool, error)
	Get(ctx context.Context, chatID ChatID) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
}

type Catalog interface {
	Snapshot() ([]AppInfo, int64)
	DeltaSince(serial int64) ([]AppInfo, int64)
	LookupApp(id AppID) (AppInfo, bool)
	LookupBundle(id AppID) ([]byte, error)
	FrontendPath() string
	FrontendVersion() string
}
