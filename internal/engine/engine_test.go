package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/user/xdcstore/internal/catalog"
	"github.com/user/xdcstore/internal/state"
	"github.com/user/xdcstore/internal/transport"
	"github.com/user/xdcstore/internal/types"
)

// fakeSender records outbound deliveries.
type fakeSender struct {
	texts    []sentText
	webxdcs  []sentWebxdc
	payloads []sentPayload
	nextMsg  types.MsgID
}

type sentText struct {
	chatID types.ChatID
	text   string
}

type sentWebxdc struct {
	chatID types.ChatID
	path   string
	text   string
	msgID  types.MsgID
}

type sentPayload struct {
	msgID   types.MsgID
	payload any
}

func (f *fakeSender) SendText(_ context.Context, chatID types.ChatID, text string) error {
	f.texts = append(f.texts, sentText{chatID, text})
	return nil
}

func (f *fakeSender) SendWebxdc(_ context.Context, chatID types.ChatID, path, text string) (types.MsgID, error) {
	f.nextMsg++
	f.webxdcs = append(f.webxdcs, sentWebxdc{chatID, path, text, f.nextMsg})
	return f.nextMsg, nil
}

func (f *fakeSender) SendPayload(_ context.Context, msgID types.MsgID, payload any) error {
	f.payloads = append(f.payloads, sentPayload{msgID, payload})
	return nil
}

func writeXdc(t *testing.T, path, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.toml")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintf(w, "name = %q\nversion = %q\n", name, version)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newEngine builds an engine over a data dir holding the given apps,
// freshly loaded so the catalog serial is 0.
func newEngine(t *testing.T, apps map[string]string) (*Engine, *fakeSender, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()
	writeXdc(t, filepath.Join(dir, "store.xdc"), "store", "1.0.0")

	src := t.TempDir()
	staging, err := catalog.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	for name, version := range apps {
		path := filepath.Join(src, name+".xdc")
		writeXdc(t, path, name, version)
		if _, err := staging.Import(path); err != nil {
			t.Fatal(err)
		}
	}

	// Reload: the serving catalog always starts at serial 0.
	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	sender := &fakeSender{}
	eng := New(cat, state.NewSessionStore(t.TempDir()), sender, "0.1.0-test")
	return eng, sender, cat
}

func textEvent(chatID types.ChatID, text string) *transport.Event {
	return &transport.Event{Kind: transport.EventText, ChatID: chatID, Text: text}
}

func statusEvent(chatID types.ChatID, msgID types.MsgID, payload string) *transport.Event {
	return &transport.Event{
		Kind:    transport.EventStatusUpdate,
		ChatID:  chatID,
		MsgID:   msgID,
		Payload: json.RawMessage(payload),
	}
}

func TestWelcome(t *testing.T) {
	eng, sender, _ := newEngine(t, map[string]string{"2048": "1.0"})
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}

	if len(sender.webxdcs) != 1 {
		t.Fatalf("expected 1 webxdc message, got %d", len(sender.webxdcs))
	}
	if sender.webxdcs[0].text != "Welcome to the webxdc store!" {
		t.Errorf("unexpected welcome text: %q", sender.webxdcs[0].text)
	}

	if len(sender.payloads) != 1 {
		t.Fatalf("expected 1 hydration payload, got %d", len(sender.payloads))
	}
	update, ok := sender.payloads[0].payload.(types.UpdateResponse)
	if !ok {
		t.Fatalf("expected UpdateResponse, got %T", sender.payloads[0].payload)
	}
	if update.Serial != 0 {
		t.Errorf("expected serial 0 on bootstrap, got %d", update.Serial)
	}
	if len(update.AppInfos) != 1 || update.AppInfos[0].Name != "2048" {
		t.Errorf("unexpected snapshot: %+v", update.AppInfos)
	}
	if sender.payloads[0].msgID != sender.webxdcs[0].msgID {
		t.Error("hydration payload not attached to the store instance")
	}
}

func TestWelcomeOnlyOnce(t *testing.T) {
	eng, sender, _ := newEngine(t, nil)
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	if err := eng.HandleEvent(ctx, textEvent(1, "hello again")); err != nil {
		t.Fatal(err)
	}

	if len(sender.webxdcs) != 1 {
		t.Errorf("expected 1 webxdc message, got %d", len(sender.webxdcs))
	}
	if len(sender.payloads) != 1 {
		t.Errorf("expected 1 payload, got %d", len(sender.payloads))
	}
}

func TestVersionCommand(t *testing.T) {
	eng, sender, _ := newEngine(t, nil)
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(5, "/version")); err != nil {
		t.Fatal(err)
	}

	if len(sender.texts) != 1 {
		t.Fatalf("expected 1 text, got %d", len(sender.texts))
	}
	if sender.texts[0].text != "0.1.0-test" {
		t.Errorf("expected version string, got %q", sender.texts[0].text)
	}
	if len(sender.webxdcs) != 0 {
		t.Errorf("expected no welcome for /version, got %d webxdcs", len(sender.webxdcs))
	}
}

func TestUpdateRequestIdempotent(t *testing.T) {
	eng, sender, _ := newEngine(t, map[string]string{"2048": "1.0"})
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	storeMsg := sender.webxdcs[0].msgID

	for i := 0; i < 2; i++ {
		if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, `{"Update":{"serial":0}}`)); err != nil {
			t.Fatal(err)
		}
	}

	// Hydration plus two responses.
	if len(sender.payloads) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(sender.payloads))
	}
	first := sender.payloads[1].payload.(types.UpdateResponse)
	second := sender.payloads[2].payload.(types.UpdateResponse)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("update responses differ: %+v vs %+v", first, second)
	}
	if first.Serial != 0 || len(first.AppInfos) != 1 {
		t.Errorf("unexpected update response: %+v", first)
	}
}

func TestDownload(t *testing.T) {
	eng, sender, cat := newEngine(t, map[string]string{"2048": "1.0"})
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	storeMsg := sender.webxdcs[0].msgID
	apps, _ := cat.Snapshot()
	appID := apps[0].ID

	payload := fmt.Sprintf(`{"Download":{"app_id":%d}}`, appID)
	if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, payload)); err != nil {
		t.Fatal(err)
	}

	got, ok := sender.payloads[1].payload.(types.DownloadOkayResponse)
	if !ok {
		t.Fatalf("expected DownloadOkayResponse, got %T", sender.payloads[1].payload)
	}
	if got.ID != appID || got.Name != "2048" {
		t.Errorf("unexpected download response: id=%d name=%s", got.ID, got.Name)
	}

	want, err := cat.LookupBundle(appID)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := base64.StdEncoding.DecodeString(got.Data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, want) {
		t.Error("download data does not round-trip to the bundle bytes")
	}
}

func TestDownloadUnknownApp(t *testing.T) {
	eng, sender, cat := newEngine(t, map[string]string{"2048": "1.0"})
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	storeMsg := sender.webxdcs[0].msgID

	if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, `{"Download":{"app_id":9}}`)); err != nil {
		t.Fatal(err)
	}

	got, ok := sender.payloads[1].payload.(types.DownloadErrorResponse)
	if !ok {
		t.Fatalf("expected DownloadErrorResponse, got %T", sender.payloads[1].payload)
	}
	if got.ID != 9 {
		t.Errorf("expected id 9, got %d", got.ID)
	}

	apps, serial := cat.Snapshot()
	if len(apps) != 1 || serial != 0 {
		t.Errorf("failed download mutated catalog: %d apps, serial %d", len(apps), serial)
	}
}

func TestFrontendSkew(t *testing.T) {
	eng, sender, _ := newEngine(t, map[string]string{"2048": "1.0"})
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	storeMsg := sender.webxdcs[0].msgID

	// Simulate a client that received an older frontend bundle.
	sess, err := eng.sessions.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	sess.FrontendVersion = "0.9.0"
	if err := eng.sessions.Update(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, `{"Update":{"serial":0}}`)); err != nil {
		t.Fatal(err)
	}

	outdated, ok := sender.payloads[1].payload.(types.OutdatedResponse)
	if !ok {
		t.Fatalf("expected OutdatedResponse, got %T", sender.payloads[1].payload)
	}
	if !outdated.Critical {
		t.Error("expected critical outdated notice")
	}
	if outdated.Version != "1.0.0" {
		t.Errorf("expected current frontend version, got %s", outdated.Version)
	}

	// The frontend requests a refresh.
	if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, `{"type":"UpdateWebxdc"}`)); err != nil {
		t.Fatal(err)
	}
	if len(sender.webxdcs) != 2 {
		t.Fatalf("expected re-sent frontend bundle, got %d webxdcs", len(sender.webxdcs))
	}
	if _, ok := sender.payloads[2].payload.(types.UpdateSentResponse); !ok {
		t.Fatalf("expected UpdateSentResponse, got %T", sender.payloads[2].payload)
	}

	// Catalog sync resumes.
	if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, `{"Update":{"serial":0}}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := sender.payloads[3].payload.(types.UpdateResponse); !ok {
		t.Fatalf("expected UpdateResponse after refresh, got %T", sender.payloads[3].payload)
	}
}

// staleCatalog still serves bundle bytes for an id its index no longer
// knows, the state left behind when an entry is replaced mid-request.
type staleCatalog struct{}

func (staleCatalog) Snapshot() ([]types.AppInfo, int64)          { return []types.AppInfo{}, 0 }
func (staleCatalog) DeltaSince(int64) ([]types.AppInfo, int64)   { return []types.AppInfo{}, 0 }
func (staleCatalog) LookupApp(types.AppID) (types.AppInfo, bool) { return types.AppInfo{}, false }
func (staleCatalog) LookupBundle(types.AppID) ([]byte, error)    { return []byte("stale bytes"), nil }
func (staleCatalog) FrontendPath() string                        { return "store.xdc" }
func (staleCatalog) FrontendVersion() string                     { return "1.0.0" }

func TestDownloadWithoutIndexEntry(t *testing.T) {
	sender := &fakeSender{}
	eng := New(staleCatalog{}, state.NewSessionStore(t.TempDir()), sender, "0.1.0-test")
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	storeMsg := sender.webxdcs[0].msgID

	if err := eng.HandleEvent(ctx, statusEvent(1, storeMsg, `{"Download":{"app_id":3}}`)); err != nil {
		t.Fatal(err)
	}

	got, ok := sender.payloads[1].payload.(types.DownloadErrorResponse)
	if !ok {
		t.Fatalf("expected DownloadErrorResponse, got %T", sender.payloads[1].payload)
	}
	if got.ID != 3 {
		t.Errorf("expected id 3, got %d", got.ID)
	}
}

func TestUnknownPayloadIgnored(t *testing.T) {
	eng, sender, _ := newEngine(t, nil)
	ctx := context.Background()

	if err := eng.HandleEvent(ctx, textEvent(1, "hi!")); err != nil {
		t.Fatal(err)
	}
	before := len(sender.payloads)

	// The bot's own response shape, echoed back.
	echo := `{"type":"Update","app_infos":[],"serial":0}`
	if err := eng.HandleEvent(ctx, statusEvent(1, 1, echo)); err != nil {
		t.Fatal(err)
	}
	// Garbage.
	if err := eng.HandleEvent(ctx, statusEvent(1, 1, `{"Frobnicate":{}}`)); err != nil {
		t.Fatal(err)
	}

	if len(sender.payloads) != before {
		t.Errorf("unknown payloads produced %d responses", len(sender.payloads)-before)
	}
}
