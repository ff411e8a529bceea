package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ibrokxim/bitrix-telegram/internal/model"
)

func testOrder() *model.Order {
	return &model.Order{
		ID:          42,
		UserID:      1,
		TotalAmount: 45000000,
		Items: []model.OrderItem{
			{ProductID: 1, Name: "Товар А", Price: 15000000, Quantity: 2},
			{ProductID: 2, Name: "Товар Б", Price: 15000000, Quantity: 1},
		},
		Status: model.OrderStatusProcessed,
	}
}

func TestStatusChanged_Deterministic(t *testing.T) {
	c := NewComposer("https://t.me/examplebot/market")
	order := testOrder()

	first := c.StatusChanged(order, model.OrderStatusProcessed, model.OrderStatusShipped)
	second := c.StatusChanged(order, model.OrderStatusProcessed, model.OrderStatusShipped)

	assert.Equal(t, first, second)
}

func TestStatusChanged_ContainsOrderReference(t *testing.T) {
	c := NewComposer("")
	order := testOrder()

	text := c.StatusChanged(order, model.OrderStatusProcessed, model.OrderStatusShipped)

	assert.Contains(t, text, "#42")
	assert.Contains(t, text, "Отправлен")
	assert.Contains(t, text, "Jo'natildi")
	assert.Contains(t, text, "Товар А")
}

func TestStatusChanged_DistinctPerStatus(t *testing.T) {
	c := NewComposer("")
	order := testOrder()

	statuses := []model.OrderStatus{
		model.OrderStatusNew,
		model.OrderStatusProcessed,
		model.OrderStatusConfirmed,
		model.OrderStatusShipped,
		model.OrderStatusDelivered,
		model.OrderStatusCompleted,
		model.OrderStatusCanceled,
		model.OrderStatusRejected,
	}

	seen := make(map[string]model.OrderStatus, len(statuses))
	for _, st := range statuses {
		text := c.StatusChanged(order, model.OrderStatusNew, st)
		if prev, ok := seen[text]; ok {
			t.Fatalf("statuses %s and %s produced identical text", prev, st)
		}
		seen[text] = st
	}
}

func TestStatusChanged_UnknownStatusFallback(t *testing.T) {
	c := NewComposer("")
	order := testOrder()

	text := c.StatusChanged(order, model.OrderStatusNew, model.OrderStatus("mystery"))

	assert.Contains(t, text, "#42")
	assert.Contains(t, text, "Статус заказа обновлен")
}

func TestOrderCreated(t *testing.T) {
	c := NewComposer("")
	order := testOrder()

	text := c.OrderCreated(order)

	assert.Contains(t, text, "#42")
	assert.Contains(t, text, "450 000 UZS")
	assert.True(t, strings.Contains(text, "Товар А") && strings.Contains(text, "Товар Б"))
}

func TestOrderAlert(t *testing.T) {
	c := NewComposer("")
	order := testOrder()

	text := c.OrderAlert(order, &model.User{
		FirstName:     "Иван",
		LastName:      "Петров",
		Phone:         "+998901234567",
		IsLegalEntity: true,
		CompanyName:   "ООО Пример",
	})

	assert.Contains(t, text, "#42")
	assert.Contains(t, text, "Иван Петров")
	assert.Contains(t, text, "+998901234567")
	assert.Contains(t, text, "ООО Пример")
	assert.Contains(t, text, "Товар А x 2")
	assert.Contains(t, text, "Сумма: 450 000 UZS")
}

func TestRegistrationRequest_LegalEntityFields(t *testing.T) {
	c := NewComposer("")

	individual := c.RegistrationRequest(&model.User{FirstName: "Иван", Phone: "+998901234567"})
	assert.NotContains(t, individual, "ИНН")

	legal := c.RegistrationRequest(&model.User{
		FirstName:     "Иван",
		IsLegalEntity: true,
		INN:           "123456789",
		CompanyName:   "ООО Пример",
	})
	assert.Contains(t, legal, "ИНН: 123456789")
	assert.Contains(t, legal, "ООО Пример")
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		tiyin int64
		want  string
	}{
		{0, "0"},
		{100, "1"},
		{15000000, "150 000"},
		{123456700, "1 234 567"},
		{-15000000, "-150 000"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.tiyin))
	}
}
