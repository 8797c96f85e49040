package notify

import (
	"context"
	"fmt"

	"trainhub/internal/config"
	"trainhub/internal/domain"
	"trainhub/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	ChannelLog      = "log"
	ChannelTelegram = "telegram"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Channel() string { return ChannelLog }

func (n *LogNotifier) Notify(_ context.Context, recipient *models.User, text string) error {
	n.logger.Info().
		Int64("user_id", recipient.ID).
		Str("role", recipient.Role).
		Str("text", text).
		Msg("notification")
	return nil
}

// TelegramNotifier sends notifications to users that linked a chat.
type TelegramNotifier struct {
	bot domain.TelegramSender
}

func NewTelegramNotifier(bot domain.TelegramSender) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func (n *TelegramNotifier) Channel() string { return ChannelTelegram }

func (n *TelegramNotifier) Notify(_ context.Context, recipient *models.User, text string) error {
	if recipient.TelegramChatID == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(recipient.TelegramChatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to user %d: %w", recipient.ID, err)
	}
	return nil
}

// FromConfig builds the notifiers named in cfg.Channels.
func FromConfig(cfg config.NotificationConfig, logger *zerolog.Logger) ([]domain.Notifier, error) {
	var notifiers []domain.Notifier
	for _, ch := range cfg.Channels {
		switch ch {
		case ChannelLog:
			notifiers = append(notifiers, NewLogNotifier(logger))
		case ChannelTelegram:
			if cfg.TelegramToken == "" {
				return nil, fmt.Errorf("notifications.telegram_token is required for the telegram channel")
			}
			bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
			if err != nil {
				return nil, fmt.Errorf("create telegram bot: %w", err)
			}
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier ready")
			notifiers = append(notifiers, NewTelegramNotifier(bot))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", ch)
		}
	}
	return notifiers, nil
}
