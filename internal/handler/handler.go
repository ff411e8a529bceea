// Package handler содержит HTTP-обработчики API магазина и вебхуков.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ibrokxim/bitrix-telegram/internal/bitrix"
	"github.com/ibrokxim/bitrix-telegram/internal/model"
	"github.com/ibrokxim/bitrix-telegram/internal/notify"
	"github.com/ibrokxim/bitrix-telegram/internal/repository"
	"github.com/ibrokxim/bitrix-telegram/internal/service"
	"github.com/ibrokxim/bitrix-telegram/internal/sync"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	SubmitRegistration(ctx context.Context, in service.RegistrationInput) (*model.User, error)
	ApproveUser(ctx context.Context, userID int64) error
	RejectUser(ctx context.Context, userID int64) error
	CheckAuth(ctx context.Context, chatID int64) (*model.User, error)
	RegisterChat(ctx context.Context, chatID int64) error
	PlaceOrder(ctx context.Context, chatID int64, items []model.OrderItem) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
}

// StageProcessor обрабатывает события смены стадии сделки.
type StageProcessor interface {
	ProcessStageEvent(ctx context.Context, ev sync.StageEvent) sync.Result
}

// Catalog отдаёт данные каталога.
type Catalog interface {
	Sections(ctx context.Context) ([]bitrix.Section, error)
	Products(ctx context.Context, sectionID int64) ([]bitrix.Product, error)
	Product(ctx context.Context, id int64) (*bitrix.Product, error)
	Invalidate(ctx context.Context) error
}

// Bot покрывает операции Telegram, нужные обработчику вебхука.
type Bot interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendWithButton(ctx context.Context, chatID int64, text, buttonText, buttonURL string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	RemoveKeyboard(ctx context.Context, chatID int64, messageID int) error
}

// Handler реализует HTTP-обработчики сервиса.
type Handler struct {
	service      Service
	engine       StageProcessor
	catalog      Catalog
	bot          Bot
	composer     *notify.Composer
	webhookToken string
	logger       *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, engine StageProcessor, catalog Catalog, bot Bot, composer *notify.Composer, webhookToken string, logger *zap.Logger) *Handler {
	return &Handler{
		service:      s,
		engine:       engine,
		catalog:      catalog,
		bot:          bot,
		composer:     composer,
		webhookToken: webhookToken,
		logger:       logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Register принимает анкету покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegistrationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if in.FirstName == "" || in.Phone == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.SubmitRegistration(r.Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPhone) || errors.Is(err, service.ErrInvalidINN) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("register error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": u.ID,
		"status":  u.Status,
	})
}

type moderationRequest struct {
	UserID int64  `json:"user_id"`
	Action string `json:"action"`
}

// ProcessUserRequest одобряет или отклоняет заявку на регистрацию.
func (h *Handler) ProcessUserRequest(w http.ResponseWriter, r *http.Request) {
	var req moderationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "approve":
		err = h.service.ApproveUser(r.Context(), req.UserID)
	case "reject":
		err = h.service.RejectUser(r.Context(), req.UserID)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("process user request error",
			zap.Int64("user_id", req.UserID),
			zap.String("action", req.Action),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// CheckAuth возвращает статус пользователя по идентификатору чата.
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.CheckAuth(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"registered": false})
			return
		}
		h.logger.Error("check auth error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"registered": true,
		"status":     u.Status,
		"user_id":    u.ID,
	})
}

type placeOrderRequest struct {
	ChatID int64             `json:"chat_id"`
	Items  []model.OrderItem `json:"items"`
}

// PlaceOrder оформляет заказ из мини-приложения.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.ChatID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), req.ChatID, req.Items)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyOrder):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrUserNotApproved), errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("place order error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount,
		"status":       order.Status,
	})
}

// Catalogs возвращает разделы каталога.
func (h *Handler) Catalogs(w http.ResponseWriter, r *http.Request) {
	sections, err := h.catalog.Sections(r.Context())
	if err != nil {
		h.logger.Error("list sections error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

// ProductsByCategory возвращает товары раздела.
func (h *Handler) ProductsByCategory(w http.ResponseWriter, r *http.Request) {
	sectionID, err := strconv.ParseInt(chi.URLParam(r, "sectionID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	products, err := h.catalog.Products(r.Context(), sectionID)
	if err != nil {
		h.logger.Error("list products error", zap.Int64("section_id", sectionID), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// ProductByID возвращает один товар.
func (h *Handler) ProductByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product, err := h.catalog.Product(r.Context(), id)
	if err != nil {
		h.logger.Error("get product error", zap.Int64("product_id", id), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// InvalidateCatalog сбрасывает кэш каталога. Вызывается после правок каталога
// в Битрикс24, запрос подписывается тем же токеном, что и вебхук сделок.
func (h *Handler) InvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Bitrix-Webhook-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if h.webhookToken != "" && token != h.webhookToken {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.catalog.Invalidate(r.Context()); err != nil {
		h.logger.Error("invalidate catalog error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}
