package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	qrterminal "github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// waLogAdapter routes whatsmeow's own library logging through slog,
// dropping debug-level noise — grounded on whatsapp.go's whatsappLogger.
type waLogAdapter struct {
	logger *slog.Logger
}

func (l waLogAdapter) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}
func (l waLogAdapter) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}
func (l waLogAdapter) Infof(msg string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(msg, args...))
}
func (l waLogAdapter) Debugf(msg string, args ...interface{}) {}
func (l waLogAdapter) Sub(module string) waLog.Logger         { return l }

// WhatsAppAdapter implements Adapter over whatsmeow's multi-device
// client, grounded on whatsapp.go's StartWhatsApp/whatsappClient (device
// store setup, event-handler registration, typing-presence management),
// narrowed from its chat.Hub pub/sub wiring to a direct InboundHandler
// call per message and dropping its per-chat typing-indicator machinery
// as out-of-spec embellishment.
type WhatsAppAdapter struct {
	sessionDir string
	allowed    map[string]bool
	logger     *slog.Logger

	client *whatsmeow.Client
	cancel context.CancelFunc
}

// NewWhatsApp builds a WhatsApp adapter backed by a whatsmeow device
// store under sessionDir. An empty allowFrom means every sender is
// accepted.
func NewWhatsApp(sessionDir string, allowFrom []string, logger *slog.Logger) *WhatsAppAdapter {
	allowed := make(map[string]bool, len(allowFrom))
	for _, num := range allowFrom {
		allowed[num] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppAdapter{sessionDir: sessionDir, allowed: allowed, logger: logger.With("channel", "whatsapp")}
}

func (w *WhatsAppAdapter) Name() string { return "whatsapp" }

func (w *WhatsAppAdapter) dbPath() string {
	return filepath.Join(w.sessionDir, "session.db")
}

// Start connects the already-paired device (see Pair) and begins
// dispatching inbound direct messages to handler. It returns an error
// immediately if the device has never completed pairing.
func (w *WhatsAppAdapter) Start(ctx context.Context, handler InboundHandler) error {
	if err := os.MkdirAll(w.sessionDir, 0o700); err != nil {
		return fmt.Errorf("creating whatsapp session dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+w.dbPath()+"?_foreign_keys=on", waLogAdapter{w.logger})
	if err != nil {
		return fmt.Errorf("connecting to whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("loading whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLogAdapter{w.logger})
	if client.Store.ID == nil {
		return fmt.Errorf("whatsapp not paired — run the setup command first")
	}
	w.client = client

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	dispatcher := &waDispatcher{adapter: w, handler: handler, ctx: ctx}
	client.AddEventHandler(dispatcher.handleEvent)

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting to whatsapp: %w", err)
	}
	w.logger.Info("whatsapp connected", "user", client.Store.ID.User)

	<-ctx.Done()
	client.Disconnect()
	return nil
}

func (w *WhatsAppAdapter) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Send delivers message to channelUserID, a bare phone number (no @
// domain suffix), parsed into a JID.
func (w *WhatsAppAdapter) Send(ctx context.Context, channelUserID, message string) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not connected")
	}
	recipient := types.NewJID(channelUserID, types.DefaultUserServer)
	_, err := w.client.SendMessage(ctx, recipient, &waProto.Message{Conversation: &message})
	return err
}

// waDispatcher bridges whatsmeow's untyped event callback into the
// adapter's InboundHandler, one instance per Start call.
type waDispatcher struct {
	adapter *WhatsAppAdapter
	handler InboundHandler
	ctx     context.Context
}

func (d *waDispatcher) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		_ = d.adapter.client.SendPresence(d.ctx, types.PresenceAvailable)
	case *events.Message:
		d.handleMessage(v)
	}
}

func (d *waDispatcher) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}
	sender := msg.Info.Sender.User
	if len(d.adapter.allowed) > 0 && !d.adapter.allowed[sender] {
		d.adapter.logger.Warn("dropped message from unauthorized sender", "sender", sender)
		return
	}

	content := ""
	if msg.Message.Conversation != nil {
		content = *msg.Message.Conversation
	} else if msg.Message.ExtendedTextMessage != nil && msg.Message.ExtendedTextMessage.Text != nil {
		content = *msg.Message.ExtendedTextMessage.Text
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	_ = d.adapter.client.MarkRead(d.ctx, []types.MessageID{msg.Info.ID}, msg.Info.Timestamp, msg.Info.Chat, msg.Info.Sender)

	raw := rawUserID("whatsapp", sender)
	reply, err := d.handler(d.ctx, raw, content, "whatsapp")
	if err != nil {
		d.adapter.logger.Error("handling whatsapp message", "error", err)
		reply = "Sorry, something went wrong handling that."
	}
	if err := d.adapter.Send(d.ctx, sender, reply); err != nil {
		d.adapter.logger.Error("sending whatsapp reply", "error", err)
	}
}

// Pair displays a QR code for WhatsApp's multi-device linking flow and
// blocks until pairing completes, or times out. Grounded on
// whatsapp.go's SetupWhatsApp, narrowed to the session-dir-only
// configuration this package needs.
func Pair(ctx context.Context, sessionDir string) error {
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return fmt.Errorf("creating whatsapp session dir: %w", err)
	}
	dbPath := filepath.Join(sessionDir, "session.db")

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath+"?_foreign_keys=on", waLogAdapter{slog.Default()})
	if err != nil {
		return fmt.Errorf("connecting to whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("loading whatsapp device: %w", err)
	}
	client := whatsmeow.NewClient(device, waLogAdapter{slog.Default()})
	if client.Store.ID != nil {
		fmt.Printf("Already paired as %s\n", client.Store.ID.User)
		return nil
	}

	connected := make(chan struct{}, 1)
	var once sync.Once
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			once.Do(func() { connected <- struct{}{} })
		}
	})

	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting to whatsapp: %w", err)
	}
	defer client.Disconnect()

	fmt.Println("Scan the QR code below with WhatsApp (Settings > Linked Devices > Link a Device):")
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
		case "success":
			fmt.Println("Pairing successful, finishing setup...")
		case "timeout":
			return fmt.Errorf("QR code timed out, please try again")
		}
	}

	select {
	case <-connected:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for connection after pairing")
	}
	time.Sleep(15 * time.Second)

	fmt.Println("Paired successfully.")
	if client.Store.ID != nil {
		fmt.Printf("Logged in as: %s\n", client.Store.ID.User)
	}
	return nil
}
