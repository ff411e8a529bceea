// Package telegram отвечает за доставку сообщений пользователям и
// администраторам через Telegram Bot API.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// sender покрывает используемую часть *tgbotapi.BotAPI.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier шлёт Markdown-сообщения в личные чаты и в административную группу.
type Notifier struct {
	bot         sender
	adminChatID int64
	logger      *zap.Logger
}

// New подключается к Bot API и возвращает готовый Notifier.
func New(token string, adminChatID int64, logger *zap.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot api: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &Notifier{bot: bot, adminChatID: adminChatID, logger: logger}, nil
}

// NewWithSender используется в тестах, где реальный Bot API не нужен.
func NewWithSender(bot sender, adminChatID int64, logger *zap.Logger) *Notifier {
	return &Notifier{bot: bot, adminChatID: adminChatID, logger: logger}
}

// Send отправляет текст в указанный чат. Bot API не принимает контекст,
// поэтому отмена проверяется до сетевого вызова.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send to chat %d: %w", chatID, err)
	}
	return nil
}

// SendToAdmin отправляет текст в административную группу.
func (n *Notifier) SendToAdmin(ctx context.Context, text string) error {
	return n.Send(ctx, n.adminChatID, text)
}

// SendWithButton отправляет текст с одной inline-кнопкой, ведущей по ссылке.
// Используется для кнопки мини-приложения магазина.
func (n *Notifier) SendWithButton(ctx context.Context, chatID int64, text, buttonText, buttonURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(buttonText, buttonURL),
		),
	)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send with button to chat %d: %w", chatID, err)
	}
	return nil
}

// SendApprovalRequest публикует в группе заявку на регистрацию с кнопками
// одобрения и отклонения. В callback data зашивается идентификатор
// пользователя.
func (n *Notifier) SendApprovalRequest(ctx context.Context, text string, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.adminChatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", fmt.Sprintf("approve_user_%d", userID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("reject_user_%d", userID)),
		),
	)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send approval request: %w", err)
	}
	return nil
}

// AnswerCallback закрывает «часики» на inline-кнопке.
func (n *Notifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// RemoveKeyboard убирает клавиатуру у обработанной заявки, чтобы по ней
// нельзя было кликнуть повторно.
func (n *Notifier) RemoveKeyboard(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := n.bot.Request(edit); err != nil {
		return fmt.Errorf("telegram: remove keyboard: %w", err)
	}
	return nil
}
