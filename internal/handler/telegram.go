package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramUpdate принимает обновления от Telegram Bot API.
// Ответ всегда 200: Telegram повторяет доставку при любом другом коде,
// а повторная обработка команд здесь не нужна.
func (h *Handler) TelegramUpdate(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	switch {
	case update.Message != nil:
		h.handleMessage(r, &update)
	case update.CallbackQuery != nil:
		h.handleCallback(r, &update)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessage(r *http.Request, update *tgbotapi.Update) {
	msg := update.Message
	if !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start":
		chatID := msg.Chat.ID
		if err := h.service.RegisterChat(r.Context(), chatID); err != nil {
			h.logger.Error("register chat error", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		if err := h.sendWelcome(r.Context(), chatID); err != nil {
			h.logger.Error("send welcome error", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// sendWelcome приветствует пользователя. Если настроен адрес мини-приложения,
// к приветствию прикрепляется кнопка входа в магазин.
func (h *Handler) sendWelcome(ctx context.Context, chatID int64) error {
	if url := h.composer.MiniAppURL(); url != "" {
		return h.bot.SendWithButton(ctx, chatID, h.composer.Welcome(), "Открыть магазин", url)
	}
	return h.bot.Send(ctx, chatID, h.composer.Welcome())
}

// handleCallback обрабатывает решения администраторов по заявкам.
// Формат callback data: approve_user_<id> или reject_user_<id>.
func (h *Handler) handleCallback(r *http.Request, update *tgbotapi.Update) {
	cb := update.CallbackQuery
	ctx := r.Context()

	var userID int64
	var action string
	switch {
	case strings.HasPrefix(cb.Data, "approve_user_"):
		action = "approve"
		userID, _ = strconv.ParseInt(strings.TrimPrefix(cb.Data, "approve_user_"), 10, 64)
	case strings.HasPrefix(cb.Data, "reject_user_"):
		action = "reject"
		userID, _ = strconv.ParseInt(strings.TrimPrefix(cb.Data, "reject_user_"), 10, 64)
	default:
		return
	}
	if userID == 0 {
		return
	}

	var err error
	var ack string
	if action == "approve" {
		err = h.service.ApproveUser(ctx, userID)
		ack = "Пользователь одобрен"
	} else {
		err = h.service.RejectUser(ctx, userID)
		ack = "Заявка отклонена"
	}
	if err != nil {
		h.logger.Error("moderation callback error",
			zap.Int64("user_id", userID),
			zap.String("action", action),
			zap.Error(err),
		)
		ack = "Ошибка, попробуйте позже"
	}

	if err := h.bot.AnswerCallback(ctx, cb.ID, ack); err != nil {
		h.logger.Error("answer callback error", zap.Error(err))
	}
	if err == nil && cb.Message != nil {
		if err := h.bot.RemoveKeyboard(ctx, cb.Message.Chat.ID, cb.Message.MessageID); err != nil {
			h.logger.Error("remove keyboard error", zap.Error(err))
		}
	}
}
