// Package model содержит доменные сущности сервиса интеграции с Битрикс24.
package model

import "time"

// UserStatus описывает статус рассмотрения заявки пользователя.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
	UserStatusRejected UserStatus = "rejected"
)

// User представляет зарегистрированного через Telegram клиента магазина.
type User struct {
	ID              int64
	FirstName       string
	SecondName      string
	LastName        string
	Phone           string
	IsLegalEntity   bool
	INN             string
	CompanyName     string
	Position        string
	TelegramChatID  *int64
	BitrixContactID *string
	BitrixCompanyID *string
	Status          UserStatus
	CreatedAt       time.Time
	LastSyncAt      *time.Time
}

// OrderStatus описывает канонический статус заказа.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusProcessed OrderStatus = "processed"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusRejected  OrderStatus = "rejected"

	// OrderStatusUnknown — сентинел для стадий Битрикс24, отсутствующих в таблице
	// маппинга. Никогда не сохраняется поверх известного статуса.
	OrderStatusUnknown OrderStatus = "unknown"
)

// IsTerminal сообщает, является ли статус конечным: из него заказ уже не переходит
// ни в какой другой статус.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderItem описывает одну позицию заказа.
type OrderItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	// Price — цена за единицу в тийинах.
	Price    int64 `json:"price"`
	Quantity int   `json:"quantity"`
}

// Order описывает заказ пользователя.
type Order struct {
	ID     int64
	UserID int64
	// TotalAmount — общая сумма заказа в тийинах.
	TotalAmount  int64
	Items        []OrderItem
	Status       OrderStatus
	BitrixDealID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
