// Package stage содержит таблицу соответствия стадий сделки Битрикс24
// каноническим статусам заказа.
package stage

import (
	"strings"

	"github.com/ibrokxim/bitrix-telegram/internal/model"
)

// Entry описывает одну стадию воронки: целевой статус заказа и подписи
// для уведомлений.
type Entry struct {
	Status  model.OrderStatus
	LabelRU string
	LabelUZ string
}

// Mapping — неизменяемая после создания таблица стадий. Идентификатор стадии
// может приходить с префиксом воронки ("C1:EXECUTING"); при поиске префикс
// отбрасывается.
type Mapping struct {
	entries map[string]Entry
}

// New создаёт таблицу из набора стадий. Ключи нормализуются так же,
// как входные идентификаторы при поиске.
func New(entries map[string]Entry) Mapping {
	m := make(map[string]Entry, len(entries))
	for code, e := range entries {
		m[stripPipeline(code)] = e
	}
	return Mapping{entries: m}
}

// Default возвращает таблицу стадий боевой воронки продаж.
func Default() Mapping {
	return New(map[string]Entry{
		"NEW":                {Status: model.OrderStatusNew, LabelRU: "Новый", LabelUZ: "Yangi"},
		"PREPARATION":        {Status: model.OrderStatusProcessed, LabelRU: "В обработке", LabelUZ: "Qayta ishlashda"},
		"PREPAYMENT_INVOICE": {Status: model.OrderStatusConfirmed, LabelRU: "Подтвержден", LabelUZ: "Tasdiqlandi"},
		"EXECUTING":          {Status: model.OrderStatusShipped, LabelRU: "Отправлен", LabelUZ: "Jo'natildi"},
		"FINAL_INVOICE":      {Status: model.OrderStatusDelivered, LabelRU: "Доставлен", LabelUZ: "Yetkazildi"},
		"WON":                {Status: model.OrderStatusCompleted, LabelRU: "Завершен", LabelUZ: "Yakunlandi"},
		"LOSE":               {Status: model.OrderStatusCanceled, LabelRU: "Отменен", LabelUZ: "Bekor qilindi"},
		"APOLOGY":            {Status: model.OrderStatusCanceled, LabelRU: "Отменен", LabelUZ: "Bekor qilindi"},
	})
}

// Map возвращает канонический статус для идентификатора стадии Битрикс24.
// Для неизвестной стадии возвращает model.OrderStatusUnknown.
func (m Mapping) Map(stageID string) model.OrderStatus {
	e, ok := m.entries[stripPipeline(stageID)]
	if !ok {
		return model.OrderStatusUnknown
	}
	return e.Status
}

// Labels возвращает подписи стадии для уведомлений. Для неизвестной стадии
// возвращает нейтральные подписи.
func (m Mapping) Labels(stageID string) (ru, uz string) {
	e, ok := m.entries[stripPipeline(stageID)]
	if !ok {
		return "Статус обновлен", "Holat yangilandi"
	}
	return e.LabelRU, e.LabelUZ
}

func stripPipeline(stageID string) string {
	if i := strings.IndexByte(stageID, ':'); i >= 0 {
		return stageID[i+1:]
	}
	return stageID
}
