// Package deltachat adapts the narrow transport interface to a chatmail
// account driven through deltachat-rpc-server's JSON-RPC API. The adapter
// owns account selection and configuration, the event loop, and the mapping
// of raw events to transport events; everything else stays in the engine.
package deltachat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	dc "github.com/deltachat/deltachat-rpc-client-go/deltachat"

	"github.com/user/xdcstore/internal/transport"
	"github.com/user/xdcstore/internal/types"
)

// Options configure the adapter.
type Options struct {
	// AccountsDir is where deltachat-rpc-server keeps account state.
	AccountsDir string
	// RpcBin is the deltachat-rpc-server binary to spawn.
	RpcBin string
	// Addr and MailPw configure the account on first start.
	Addr   string
	MailPw string
}

// rpcCaller is the slice of the rpc client the adapter talks through.
type rpcCaller interface {
	Call(method string, params ...any) error
	CallResult(result any, method string, params ...any) error
}

// Adapter bridges a chatmail account to the gateway.
type Adapter struct {
	io        *dc.RpcIO
	rpc       rpcCaller
	accountID uint64
	handler   transport.Handler
	backoff   *transport.BackoffPolicy
	addr      string
	mailPw    string
}

// New creates an Adapter. Start must be called before Run.
func New(opts Options) *Adapter {
	io := dc.NewRpcIO()
	if opts.AccountsDir != "" {
		io.AccountsDir = opts.AccountsDir
	}
	if opts.RpcBin != "" {
		io.Cmd = opts.RpcBin
	}
	return &Adapter{
		io:      io,
		rpc:     io,
		backoff: transport.DefaultBackoffPolicy(),
		addr:    opts.Addr,
		mailPw:  opts.MailPw,
	}
}

// OnEvent sets the handler inbound events are dispatched to.
func (a *Adapter) OnEvent(fn transport.Handler) {
	a.handler = fn
}

// Start spawns the rpc server, selects or creates the account, configures
// it from the addr/mail_pw credentials when unconfigured, and starts IO.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.io.Start(); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}

	var ids []uint64
	if err := a.rpc.CallResult(&ids, "get_all_account_ids"); err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(ids) > 0 {
		a.accountID = ids[0]
	} else {
		if err := a.rpc.CallResult(&a.accountID, "add_account"); err != nil {
			return fmt.Errorf("add account: %w", err)
		}
	}

	var configured bool
	if err := a.rpc.CallResult(&configured, "is_configured", a.accountID); err != nil {
		return fmt.Errorf("check configuration: %w", err)
	}
	if !configured {
		if a.addr == "" || a.mailPw == "" {
			return fmt.Errorf("account unconfigured and no addr/mail_pw provided")
		}
		slog.Info("configuring account", "addr", a.addr)
		if err := a.rpc.Call("set_config", a.accountID, "addr", a.addr); err != nil {
			return fmt.Errorf("set addr: %w", err)
		}
		if err := a.rpc.Call("set_config", a.accountID, "mail_pw", a.mailPw); err != nil {
			return fmt.Errorf("set mail_pw: %w", err)
		}
		if err := a.rpc.Call("set_config", a.accountID, "bot", "1"); err != nil {
			return fmt.Errorf("set bot flag: %w", err)
		}
		if err := a.rpc.Call("configure", a.accountID); err != nil {
			return fmt.Errorf("configure account: %w", err)
		}
		slog.Info("configuration done")
	}

	if err := a.rpc.Call("start_io", a.accountID); err != nil {
		return fmt.Errorf("start io: %w", err)
	}
	return nil
}

// Stop shuts down the rpc server.
func (a *Adapter) Stop() {
	a.io.Stop()
}

// rpcEvent mirrors the get_next_event result: a kind-tagged union carrying
// the superset of fields the adapter cares about.
type rpcEvent struct {
	ContextID uint64 `json:"contextId"`
	Event     struct {
		Kind               string       `json:"kind"`
		Msg                string       `json:"msg"`
		ChatID             types.ChatID `json:"chatId"`
		MsgID              types.MsgID  `json:"msgId"`
		StatusUpdateSerial int64        `json:"statusUpdateSerial"`
		Progress           int          `json:"progress"`
		Comment            string       `json:"comment"`
	} `json:"event"`
}

// Run drives the event loop until the context ends. Event loop failures
// restart with exponential backoff; the rpc server owns delivery retries.
func (a *Adapter) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.pump(ctx); err != nil {
			attempt++
			slog.Error("event loop failed", "error", err, "attempt", attempt)
			if !a.backoff.Wait(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0
	}
}

// pump fetches and dispatches one event.
func (a *Adapter) pump(ctx context.Context) error {
	var ev rpcEvent
	if err := a.rpc.CallResult(&ev, "get_next_event"); err != nil {
		return fmt.Errorf("get_next_event: %w", err)
	}

	// The rpc server multiplexes all accounts onto one event stream; only
	// events for the bot's account are ours to act on.
	if ev.ContextID != a.accountID {
		slog.Debug("event for foreign account", "context_id", ev.ContextID, "kind", ev.Event.Kind)
		return nil
	}

	switch ev.Event.Kind {
	case "Info":
		slog.Debug("core", "msg", ev.Event.Msg)
	case "Warning":
		slog.Warn("core", "msg", ev.Event.Msg)
	case "Error":
		slog.Error("core", "msg", ev.Event.Msg)
	case "ConnectivityChanged":
		slog.Debug("core connectivity changed")
	case "ConfigureProgress":
		slog.Debug("configure progress", "progress", ev.Event.Progress, "comment", ev.Event.Comment)
	case "IncomingMsg":
		return a.handleIncomingMsg(ctx, ev.Event.ChatID, ev.Event.MsgID)
	case "WebxdcStatusUpdate":
		return a.handleStatusUpdate(ctx, ev.Event.MsgID, ev.Event.StatusUpdateSerial)
	default:
		slog.Debug("unhandled core event", "kind", ev.Event.Kind)
	}
	return nil
}

// msgSnapshot is the subset of get_message the adapter needs.
type msgSnapshot struct {
	ChatID types.ChatID `json:"chatId"`
	Text   string       `json:"text"`
	IsBot  bool         `json:"isBot"`
	IsInfo bool         `json:"isInfo"`
}

func (a *Adapter) handleIncomingMsg(ctx context.Context, chatID types.ChatID, msgID types.MsgID) error {
	var snap msgSnapshot
	if err := a.rpc.CallResult(&snap, "get_message", a.accountID, msgID); err != nil {
		return fmt.Errorf("get_message %d: %w", msgID, err)
	}
	if snap.IsInfo || snap.IsBot {
		return nil
	}
	if chatID == 0 {
		chatID = snap.ChatID
	}

	// First contact arrives as a contact request chat; accept so replies
	// can be delivered.
	if err := a.rpc.Call("accept_chat", a.accountID, chatID); err != nil {
		slog.Debug("accept_chat", "chat_id", int64(chatID), "error", err)
	}

	if a.handler != nil {
		a.handler(ctx, &transport.Event{
			Kind:   transport.EventText,
			ChatID: chatID,
			MsgID:  msgID,
			Text:   snap.Text,
		})
	}
	return nil
}

// statusUpdateItem is one element of get_webxdc_status_updates: the
// envelope as sent plus the serial the core assigned on receipt.
type statusUpdateItem struct {
	types.Envelope
	Serial int64 `json:"serial"`
}

func (a *Adapter) handleStatusUpdate(ctx context.Context, msgID types.MsgID, serial int64) error {
	var raw string
	if err := a.rpc.CallResult(&raw, "get_webxdc_status_updates", a.accountID, msgID, serial-1); err != nil {
		return fmt.Errorf("get_webxdc_status_updates %d: %w", msgID, err)
	}

	var items []statusUpdateItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return fmt.Errorf("unmarshal status updates: %w", err)
	}

	var payload json.RawMessage
	for _, item := range items {
		if item.Serial == serial {
			payload = item.Payload
			break
		}
	}
	if payload == nil {
		if len(items) == 0 {
			return nil
		}
		payload = items[len(items)-1].Payload
	}

	var snap msgSnapshot
	if err := a.rpc.CallResult(&snap, "get_message", a.accountID, msgID); err != nil {
		return fmt.Errorf("get_message %d: %w", msgID, err)
	}

	if a.handler != nil {
		a.handler(ctx, &transport.Event{
			Kind:    transport.EventStatusUpdate,
			ChatID:  snap.ChatID,
			MsgID:   msgID,
			Payload: payload,
		})
	}
	return nil
}

// SendText sends plain chat text.
func (a *Adapter) SendText(_ context.Context, chatID types.ChatID, text string) error {
	var msgID types.MsgID
	if err := a.rpc.CallResult(&msgID, "misc_send_text_message", a.accountID, chatID, text); err != nil {
		return fmt.Errorf("send text to chat %d: %w", chatID, err)
	}
	return nil
}

// SendWebxdc sends a bundle as a mini-app attachment with accompanying text.
func (a *Adapter) SendWebxdc(_ context.Context, chatID types.ChatID, path, text string) (types.MsgID, error) {
	var msgID types.MsgID
	data := map[string]any{"file": path, "text": text}
	if err := a.rpc.CallResult(&msgID, "send_msg", a.accountID, chatID, data); err != nil {
		return 0, fmt.Errorf("send webxdc to chat %d: %w", chatID, err)
	}
	return msgID, nil
}

// SendPayload attaches a status update payload to a mini-app message.
func (a *Adapter) SendPayload(_ context.Context, msgID types.MsgID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	update, err := json.Marshal(types.Envelope{Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	if err := a.rpc.Call("send_webxdc_status_update", a.accountID, msgID, string(update), ""); err != nil {
		return fmt.Errorf("send status update on msg %d: %w", msgID, err)
	}
	return nil
}

var _ transport.Sender = (*Adapter)(nil)
