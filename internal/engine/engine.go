// Package engine is the protocol state machine: it interprets inbound chat
// text and status update payloads, reads the catalog and session tracker,
// and emits exactly one response per request. The one unsolicited send is
// the welcome flow that bootstraps a new chat.
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/xdcstore/internal/catalog"
	"github.com/user/xdcstore/internal/transport"
	"github.com/user/xdcstore/internal/types"
)

// Engine orchestrates catalog, sessions, and outbound delivery.
type Engine struct {
	catalog  types.Catalog
	sessions types.SessionStore
	sender   transport.Sender
	version  string
}

// New creates an Engine. version is the build version reported by /version.
func New(cat types.Catalog, sessions types.SessionStore, sender transport.Sender, version string) *Engine {
	return &Engine{
		catalog:  cat,
		sessions: sessions,
		sender:   sender,
		version:  version,
	}
}

// HandleEvent dispatches one inbound chat event. Failures are scoped to the
// triggering chat; they never touch the catalog or other chats.
func (e *Engine) HandleEvent(ctx context.Context, event *transport.Event) error {
	switch event.Kind {
	case transport.EventText:
		return e.handleText(ctx, event.ChatID, event.Text)
	case transport.EventStatusUpdate:
		return e.handleStatusUpdate(ctx, event.ChatID, event.MsgID, event.Payload)
	default:
		slog.Debug("ignoring event", "kind", event.Kind, "chat_id", int64(event.ChatID))
		return nil
	}
}

func (e *Engine) handleText(ctx context.Context, chatID types.ChatID, text string) error {
	if text == "/version" {
		return e.sender.SendText(ctx, chatID, e.version)
	}

	sess, created, err := e.sessions.GetOrCreate(ctx, chatID)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if created {
		return e.welcome(ctx, sess)
	}

	slog.Debug("ignoring chat text", "chat_id", int64(chatID))
	return nil
}

// welcome sends the store frontend into a new chat and hydrates it with the
// full catalog snapshot.
func (e *Engine) welcome(ctx context.Context, sess *types.Session) error {
	msgID, err := e.sender.SendWebxdc(ctx, sess.ChatID, e.catalog.FrontendPath(), welcomeMessage())
	if err != nil {
		return fmt.Errorf("send store frontend: %w", err)
	}

	apps, serial := e.catalog.Snapshot()
	if err := e.sender.SendPayload(ctx, msgID, types.NewUpdateResponse(apps, serial)); err != nil {
		return fmt.Errorf("send initial update: %w", err)
	}

	sess.StoreMsgID = msgID
	sess.LastSerial = serial
	sess.FrontendVersion = e.catalog.FrontendVersion()
	if err := e.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("record welcome: %w", err)
	}

	slog.Info("welcomed chat", "chat_id", int64(sess.ChatID), "apps", len(apps), "serial", serial)
	return nil
}

func (e *Engine) handleStatusUpdate(ctx context.Context, chatID types.ChatID, msgID types.MsgID, raw []byte) error {
	req, err := types.DecodeRequest(raw)
	if err != nil {
		if errors.Is(err, types.ErrUnknownPayload) {
			// Includes the bot's own responses echoing back through the
			// status update stream.
			slog.Debug("ignoring payload", "chat_id", int64(chatID))
			return nil
		}
		return err
	}

	sess, _, err := e.sessions.GetOrCreate(ctx, chatID)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	switch r := req.(type) {
	case *types.UpdateRequest:
		return e.handleUpdate(ctx, sess, msgID, r)
	case *types.DownloadRequest:
		return e.handleDownload(ctx, chatID, msgID, r)
	case *types.UpdateWebxdcRequest:
		return e.handleUpdateWebxdc(ctx, sess, msgID)
	default:
		return nil
	}
}

// handleUpdate answers a catalog sync request. An outdated frontend is
// short-circuited to Outdated: it must not be fed catalog payloads it
// cannot render, until it requests UpdateWebxdc.
func (e *Engine) handleUpdate(ctx context.Context, sess *types.Session, msgID types.MsgID, req *types.UpdateRequest) error {
	current := e.catalog.FrontendVersion()
	if sess.FrontendVersion != current {
		slog.Info("frontend outdated",
			"chat_id", int64(sess.ChatID),
			"held", sess.FrontendVersion,
			"current", current,
		)
		return e.sender.SendPayload(ctx, msgID, types.NewOutdated(current))
	}

	apps, serial := e.catalog.DeltaSince(req.Serial)
	if err := e.sender.SendPayload(ctx, msgID, types.NewUpdateResponse(apps, serial)); err != nil {
		return fmt.Errorf("send update: %w", err)
	}

	sess.LastSerial = serial
	if err := e.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("record update request: %w", err)
	}
	return nil
}

func (e *Engine) handleDownload(ctx context.Context, chatID types.ChatID, msgID types.MsgID, req *types.DownloadRequest) error {
	data, err := e.catalog.LookupBundle(req.AppID)
	if err != nil {
		if errors.Is(err, catalog.ErrAppNotFound) {
			slog.Info("download of unknown app", "chat_id", int64(chatID), "app_id", int64(req.AppID))
			return e.sender.SendPayload(ctx, msgID, types.NewDownloadError(req.AppID))
		}
		return fmt.Errorf("lookup bundle %d: %w", req.AppID, err)
	}

	app, ok := e.catalog.LookupApp(req.AppID)
	if !ok {
		// Index entry gone between bundle and metadata lookup; answer as
		// not found rather than fabricating an entry.
		return e.sender.SendPayload(ctx, msgID, types.NewDownloadError(req.AppID))
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := e.sender.SendPayload(ctx, msgID, types.NewDownloadOkay(app.ID, app.Name, encoded)); err != nil {
		return fmt.Errorf("send download: %w", err)
	}

	slog.Info("served download", "chat_id", int64(chatID), "app_id", int64(app.ID), "name", app.Name, "size", app.Size)
	return nil
}

// handleUpdateWebxdc re-delivers the store frontend bundle and confirms on
// the old instance. The session is marked current so subsequent update
// requests resume normal catalog responses.
func (e *Engine) handleUpdateWebxdc(ctx context.Context, sess *types.Session, msgID types.MsgID) error {
	newMsgID, err := e.sender.SendWebxdc(ctx, sess.ChatID, e.catalog.FrontendPath(), frontendUpdateMessage())
	if err != nil {
		return fmt.Errorf("resend store frontend: %w", err)
	}
	if err := e.sender.SendPayload(ctx, msgID, types.NewUpdateSent()); err != nil {
		return fmt.Errorf("confirm frontend update: %w", err)
	}

	sess.StoreMsgID = newMsgID
	sess.FrontendVersion = e.catalog.FrontendVersion()
	if err := e.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("record frontend update: %w", err)
	}

	slog.Info("frontend re-sent", "chat_id", int64(sess.ChatID), "version", sess.FrontendVersion)
	return nil
}
