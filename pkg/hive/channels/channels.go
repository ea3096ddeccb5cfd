// Package channels implements the channel adapter boundary (B1): the
// Telegram and WhatsApp connectors that turn an external chat message
// into a Gateway.Handle call, and route its reply back out the same
// channel.
//
// Grounded on pkg/goclaw/copilot/assistant.go's ChannelManager()/Register
// pattern (the serve command registers one or more channel adapters
// against a single assistant), generalized from its WhatsApp-plus-
// plugin-loaded-others shape into a small, closed Manager that both
// adapters register against directly.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

// InboundHandler is the Gateway capability a channel adapter drives: one
// inbound message in, one reply text out. Defined here (not imported
// from pkg/hive/gateway) so an adapter never needs to know the
// Gateway's full Dependencies/Options shape, only this one call.
type InboundHandler func(ctx context.Context, rawUserID, message, channel string) (string, error)

// Adapter is one connected messaging channel.
type Adapter interface {
	// Name identifies the channel, e.g. "telegram" or "whatsapp" —
	// matches the channel argument the Gateway's identity resolution
	// expects alongside a tg:/wa: prefixed raw id.
	Name() string
	// Start connects the adapter and begins dispatching inbound
	// messages to handler. It blocks until ctx is cancelled or the
	// connection fails unrecoverably.
	Start(ctx context.Context, handler InboundHandler) error
	// Stop disconnects the adapter. Safe to call even if Start never
	// returned (e.g. to unblock a connecting adapter during shutdown).
	Stop()
	// Send delivers message to the channel-native recipient (a chat
	// ID, JID, etc., NOT a hive user id) on a best-effort basis.
	Send(ctx context.Context, channelUserID, message string) error
}

// Manager owns every registered Adapter and is the Gateway's
// OutboundSender: it resolves a hive user id to the channel identity
// the user was last seen on and routes the send there.
type Manager struct {
	repo store.Store

	mu       sync.Mutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

// New builds an empty Manager. repo is used to resolve a user id to the
// channel/channelUserID pair Send needs.
func New(repo store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, adapters: make(map[string]Adapter), logger: logger}
}

// Register adds an adapter under its own Name(). Registering a second
// adapter under the same name replaces the first.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Name()] = a
}

// StartAll starts every registered adapter concurrently, routing its
// inbound messages to handler. It returns once ctx is cancelled and
// every adapter's Start has returned.
func (m *Manager) StartAll(ctx context.Context, handler InboundHandler) {
	m.mu.Lock()
	adapters := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Start(ctx, handler); err != nil {
				m.logger.Error("channel adapter stopped", "channel", a.Name(), "error", err)
			}
		}(a)
	}
	wg.Wait()
}

// StopAll disconnects every registered adapter.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.adapters {
		a.Stop()
	}
}

// SendTo implements gateway.OutboundSender: it looks up recipientUserID's
// most recently linked channel identity and delivers message there,
// chunked at maxMessageLen on newline boundaries per the notification
// channel contract.
func (m *Manager) SendTo(ctx context.Context, recipientUserID, message string) error {
	identities, err := m.repo.ListChannelIdentities(ctx, recipientUserID)
	if err != nil {
		return err
	}
	if len(identities) == 0 {
		return apperr.Newf(apperr.NotFound, "no channel identity linked for user %q", recipientUserID)
	}
	identity := identities[len(identities)-1]

	m.mu.Lock()
	adapter, ok := m.adapters[identity.Channel]
	m.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.NotConfigured, "channel %q is not connected", identity.Channel)
	}
	for _, chunk := range chunkMessage(message, maxMessageLen) {
		if err := adapter.Send(ctx, identity.ChannelUserID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// maxMessageLen is Telegram's hard per-message limit; WhatsApp tolerates
// far more, but chunking every adapter identically keeps notifier
// behavior uniform across channels.
const maxMessageLen = 4096

// chunkMessage splits message into pieces no longer than maxLen,
// breaking on the last newline within the limit where one exists so a
// chunk boundary never lands mid-line.
func chunkMessage(message string, maxLen int) []string {
	if len(message) <= maxLen {
		return []string{message}
	}

	var chunks []string
	for len(message) > maxLen {
		cut := strings.LastIndex(message[:maxLen], "\n")
		if cut <= 0 {
			cut = maxLen
		}
		chunks = append(chunks, message[:cut])
		message = strings.TrimPrefix(message[cut:], "\n")
	}
	if message != "" {
		chunks = append(chunks, message)
	}
	return chunks
}

// rawUserID builds the tg:/wa:-style prefixed id the Gateway's identity
// resolution expects, from a channel name and its native user id.
func rawUserID(channel, channelUserID string) string {
	switch channel {
	case "telegram":
		return fmt.Sprintf("tg:%s", channelUserID)
	case "whatsapp":
		return fmt.Sprintf("wa:%s", channelUserID)
	default:
		return fmt.Sprintf("%s:%s", channel, channelUserID)
	}
}
