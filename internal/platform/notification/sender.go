package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrNoAddress is returned by a Sender when the recipient has no address on
// its channel. It does not count as a failed delivery.
var ErrNoAddress = errors.New("recipient has no address on this channel")

// Sender pushes a notification through one external channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, to *Recipient, n *Notification) error
}

// LogSender writes notifications to the application log. It is the only
// channel in development and keeps a trace of every push in production.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("channel", "log").Logger()}
}

func (s *LogSender) Channel() string { return "log" }

func (s *LogSender) Send(_ context.Context, to *Recipient, n *Notification) error {
	s.logger.Info().
		Str("notification_id", n.ID.String()).
		Str("user_id", to.UserID.String()).
		Str("kind", n.Kind).
		Str("title", n.Title).
		Msg("notification")
	return nil
}

// botAPI is the part of *tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers to users that linked a Telegram chat.
type TelegramSender struct {
	bot      botAPI
	logger   zerolog.Logger
	attempts int
	backoff  time.Duration
}

// NewTelegramSender authorizes the bot token against the Telegram API.
func NewTelegramSender(token string, logger zerolog.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return newTelegramSender(bot, logger), nil
}

func newTelegramSender(bot botAPI, logger zerolog.Logger) *TelegramSender {
	return &TelegramSender{
		bot:      bot,
		logger:   logger.With().Str("channel", "telegram").Logger(),
		attempts: 3,
		backoff:  time.Second,
	}
}

func (s *TelegramSender) Channel() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, to *Recipient, n *Notification) error {
	if to.TelegramChatID == nil {
		return ErrNoAddress
	}
	msg := tgbotapi.NewMessage(*to.TelegramChatID, n.Title+"\n\n"+n.Message)

	var err error
	for i := 0; i < s.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<(i-1)) * s.backoff):
			}
		}
		if _, err = s.bot.Send(msg); err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Int("retry", i+1).Str("notification_id", n.ID.String()).Msg("send failed")
	}
	return fmt.Errorf("telegram send: %w", err)
}
