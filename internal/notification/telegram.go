package notification

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a Telegram notifier. It calls getMe once to
// validate the token.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	return newTelegramNotifier(botToken, chatID, tgbotapi.APIEndpoint)
}

func newTelegramNotifier(botToken string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(alert))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

func formatTelegram(alert Alert) string {
	emoji := alert.Emoji
	if emoji == "" {
		emoji = "ℹ️"
		switch alert.Level {
		case AlertWarning:
			emoji = "⚠️"
		case AlertCritical:
			emoji = "🚨"
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			if alert.Fields[k] == "" {
				continue
			}
			fmt.Fprintf(&b, "\n`%s`: %s", escapeMarkdown(k), escapeMarkdown(alert.Fields[k]))
		}
	}
	return b.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
