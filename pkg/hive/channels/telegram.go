package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// stallTimeout bounds how long the Telegram long-poll loop tolerates no
// updates before assuming the connection died; grounded on the
// telegram.go example's pollUpdates (tgbotapi's 60s long-poll timeout,
// 2.5x'd for a stall margin).
const stallTimeout = 150 * time.Second

// TelegramAdapter implements Adapter over go-telegram-bot-api's
// long-polling API, grounded on the telegram.go example's
// TelegramChannel (reconnect-with-backoff poll loop, per-update access
// check), narrowed from its task/event-bus routing to a direct
// InboundHandler call per message.
type TelegramAdapter struct {
	token      string
	allowedIDs map[int64]bool
	logger     *slog.Logger

	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
}

// NewTelegram builds a Telegram adapter. An empty allowedIDs means
// every user may message the bot.
func NewTelegram(token string, allowedIDs []int64, logger *slog.Logger) *TelegramAdapter {
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramAdapter{token: token, allowedIDs: allowed, logger: logger.With("channel", "telegram")}
}

func (t *TelegramAdapter) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is
// cancelled, reconnecting with exponential backoff on poll failure —
// the same reconnection shape as the telegram.go example's Start.
func (t *TelegramAdapter) Start(ctx context.Context, handler InboundHandler) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.bot = bot
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.logger.Info("telegram bot started", "user", bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates, handler)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

func (t *TelegramAdapter) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, handler InboundHandler) error {
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if len(t.allowedIDs) > 0 && !t.allowedIDs[update.Message.From.ID] {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(ctx, update.Message, handler)
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramAdapter) handleMessage(ctx context.Context, msg *tgbotapi.Message, handler InboundHandler) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}
	raw := rawUserID("telegram", fmt.Sprintf("%d", msg.Chat.ID))
	reply, err := handler(ctx, raw, content, "telegram")
	if err != nil {
		t.logger.Error("handling telegram message", "error", err)
		t.reply(msg.Chat.ID, "Sorry, something went wrong handling that.")
		return
	}
	t.reply(msg.Chat.ID, reply)
}

func (t *TelegramAdapter) reply(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(out); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

// Send delivers message to channelUserID, a Telegram numeric chat id
// rendered as a string by rawUserID/ResolveChannelIdentity.
func (t *TelegramAdapter) Send(ctx context.Context, channelUserID, message string) error {
	var chatID int64
	if _, err := fmt.Sscanf(channelUserID, "%d", &chatID); err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", channelUserID, err)
	}
	out := tgbotapi.NewMessage(chatID, message)
	_, err := t.bot.Send(out)
	return err
}

func (t *TelegramAdapter) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}
