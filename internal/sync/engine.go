// Package sync реализует синхронизацию статусов заказов со стадиями сделок
// Битрикс24. Одно входящее событие приводит не более чем к одному переходу
// статуса и не более чем к одному уведомлению.
package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ibrokxim/bitrix-telegram/internal/bitrix"
	"github.com/ibrokxim/bitrix-telegram/internal/metrics"
	"github.com/ibrokxim/bitrix-telegram/internal/model"
	"github.com/ibrokxim/bitrix-telegram/internal/notify"
	"github.com/ibrokxim/bitrix-telegram/internal/repository"
	"github.com/ibrokxim/bitrix-telegram/internal/stage"
)

// OrderStore описывает контракт доступа к данным, используемый движком.
type OrderStore interface {
	GetOrderByDealID(ctx context.Context, dealID string) (*model.Order, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CompareAndSetStatus(ctx context.Context, orderID int64, expected, next model.OrderStatus) error
	GetOrdersForSync(ctx context.Context, limit int) ([]repository.OrderForSync, error)
}

// DealGetter читает актуальное состояние сделки из Битрикс24.
type DealGetter interface {
	GetDeal(ctx context.Context, dealID string) (*bitrix.Deal, error)
}

// Notifier отправляет текстовое сообщение в Telegram-чат.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Code классифицирует итог обработки одного события.
type Code string

const (
	// StatusUpdated — статус обновлён, уведомление отправлено.
	StatusUpdated Code = "status_updated"
	// NoChange — статус не изменился, повторная доставка события. Не ошибка.
	NoChange Code = "no_change"
	// OrderNotFound — сделка не привязана ни к одному заказу. Постоянное условие.
	OrderNotFound Code = "order_not_found"
	// DealUnavailable — не удалось прочитать сделку из Битрикс24. Временное
	// условие: мутаций ещё не было, событие можно доставить повторно.
	DealUnavailable Code = "deal_unavailable"
	// UnmappedStage — стадия отсутствует в таблице маппинга. Статус заказа
	// не затронут.
	UnmappedStage Code = "unmapped_stage"
	// ConcurrentUpdateExhausted — условное обновление дважды столкнулось с
	// параллельным изменением. Временное условие, уведомление не отправляется.
	ConcurrentUpdateExhausted Code = "concurrent_update_exhausted"
	// NoNotificationTarget — статус обновлён, но у пользователя нет
	// привязанного Telegram-чата. Не ошибка.
	NoNotificationTarget Code = "no_notification_target"
	// NotificationFailed — статус обновлён, но отправка уведомления не удалась.
	// Переход статуса не откатывается.
	NotificationFailed Code = "notification_failed"
	// InternalError — неожиданный сбой хранилища.
	InternalError Code = "internal_error"
)

// Transient сообщает, имеет ли смысл повторная доставка события целиком.
func (c Code) Transient() bool {
	return c == DealUnavailable || c == ConcurrentUpdateExhausted || c == InternalError
}

// StageEvent — входящий сигнал об изменении сделки. Пустой StageID означает,
// что стадию нужно прочитать из Битрикс24 (pull-вариант вебхука).
type StageEvent struct {
	DealID  string
	StageID string
}

// Result описывает итог обработки события.
type Result struct {
	Code      Code
	OrderID   int64
	OldStatus model.OrderStatus
	NewStatus model.OrderStatus
	StageID   string
	Err       error
}

// Engine — движок синхронизации статусов.
type Engine struct {
	store    OrderStore
	crm      DealGetter
	notifier Notifier
	composer *notify.Composer
	mapping  stage.Mapping
	logger   *zap.Logger
}

// NewEngine создаёт движок синхронизации.
func NewEngine(store OrderStore, crm DealGetter, notifier Notifier, composer *notify.Composer, mapping stage.Mapping, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		crm:      crm,
		notifier: notifier,
		composer: composer,
		mapping:  mapping,
		logger:   logger,
	}
}

// ProcessStageEvent обрабатывает одно событие изменения сделки. Параллельные
// вызовы для одного deal id безопасны: единственная точка мутации — условное
// обновление статуса в хранилище.
func (e *Engine) ProcessStageEvent(ctx context.Context, ev StageEvent) Result {
	res := e.processStageEvent(ctx, ev)
	metrics.SyncEvents.WithLabelValues(string(res.Code)).Inc()
	return res
}

func (e *Engine) processStageEvent(ctx context.Context, ev StageEvent) Result {
	order, err := e.store.GetOrderByDealID(ctx, ev.DealID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			e.logger.Warn("order not found for deal", zap.String("dealID", ev.DealID))
			return Result{Code: OrderNotFound}
		}
		return Result{Code: InternalError, Err: err}
	}

	stageID := ev.StageID
	if stageID == "" {
		deal, dealErr := e.crm.GetDeal(ctx, ev.DealID)
		if dealErr != nil {
			e.logger.Warn("failed to read deal from bitrix24",
				zap.String("dealID", ev.DealID), zap.Error(dealErr))
			return Result{Code: DealUnavailable, OrderID: order.ID, Err: dealErr}
		}
		if deal.StageID == "" {
			return Result{Code: DealUnavailable, OrderID: order.ID}
		}
		stageID = deal.StageID
	}

	newStatus := e.mapping.Map(stageID)
	current := order.Status

	// Одна повторная попытка после конфликта условного обновления. Этого
	// достаточно: проигравшая доставка либо увидит уже применённый статус
	// (no change), либо честно отступит, не отправляя уведомление по
	// неподтверждённому состоянию.
	for attempt := 0; ; attempt++ {
		if newStatus == current {
			return Result{Code: NoChange, OrderID: order.ID, OldStatus: current, NewStatus: current, StageID: stageID}
		}

		if newStatus == model.OrderStatusUnknown {
			e.logger.Warn("unmapped bitrix24 stage",
				zap.String("dealID", ev.DealID),
				zap.String("stageID", stageID),
				zap.Int64("orderID", order.ID))
			return Result{Code: UnmappedStage, OrderID: order.ID, OldStatus: current, StageID: stageID}
		}

		casErr := e.store.CompareAndSetStatus(ctx, order.ID, current, newStatus)
		if casErr == nil {
			break
		}

		if errors.Is(casErr, repository.ErrStatusConflict) {
			if attempt >= 1 {
				return Result{Code: ConcurrentUpdateExhausted, OrderID: order.ID, OldStatus: current, NewStatus: newStatus, StageID: stageID, Err: casErr}
			}

			fresh, readErr := e.store.GetOrderByDealID(ctx, ev.DealID)
			if readErr != nil {
				return Result{Code: InternalError, OrderID: order.ID, Err: readErr}
			}
			current = fresh.Status
			continue
		}

		return Result{Code: InternalError, OrderID: order.ID, Err: casErr}
	}

	e.logger.Info("order status updated",
		zap.Int64("orderID", order.ID),
		zap.String("dealID", ev.DealID),
		zap.String("stageID", stageID),
		zap.String("oldStatus", string(current)),
		zap.String("newStatus", string(newStatus)))

	res := Result{Code: StatusUpdated, OrderID: order.ID, OldStatus: current, NewStatus: newStatus, StageID: stageID}

	user, userErr := e.store.GetUserByID(ctx, order.UserID)
	if userErr != nil {
		if errors.Is(userErr, repository.ErrUserNotFound) {
			res.Code = NoNotificationTarget
			return res
		}
		// Статус уже зафиксирован, но адресата прочитать не удалось: это сбой
		// хранилища, а не отсутствие чата.
		e.logger.Error("failed to resolve notification target",
			zap.Int64("orderID", order.ID),
			zap.Int64("userID", order.UserID),
			zap.Error(userErr))
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		res.Code = NotificationFailed
		res.Err = userErr
		return res
	}
	if user.TelegramChatID == nil {
		res.Code = NoNotificationTarget
		return res
	}

	text := e.composer.StatusChanged(order, current, newStatus)
	if sendErr := e.notifier.Send(ctx, *user.TelegramChatID, text); sendErr != nil {
		// Статус уже зафиксирован, откатывать нечего: фиксируем сбой доставки
		// для ручного разбора.
		e.logger.Error("failed to send status notification",
			zap.Int64("orderID", order.ID),
			zap.Int64("chatID", *user.TelegramChatID),
			zap.Error(sendErr))
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		res.Code = NotificationFailed
		res.Err = sendErr
		return res
	}

	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	return res
}

// StartReconciliation периодически сверяет незавершённые заказы со сделками
// Битрикс24 до отмены контекста. Покрывает потерянные вебхуки; безопасна
// благодаря идемпотентности обработки.
func (e *Engine) StartReconciliation(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileBatch(ctx, batch)
		}
	}
}

func (e *Engine) reconcileBatch(ctx context.Context, batch int) {
	orders, err := e.store.GetOrdersForSync(ctx, batch)
	if err != nil {
		e.logger.Error("failed to load orders for reconciliation", zap.Error(err))
		return
	}

	for _, o := range orders {
		res := e.ProcessStageEvent(ctx, StageEvent{DealID: o.DealID})
		if res.Code == InternalError {
			e.logger.Error("reconciliation stopped on storage error",
				zap.String("dealID", o.DealID), zap.Error(res.Err))
			return
		}
	}
}
