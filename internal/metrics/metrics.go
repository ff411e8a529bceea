// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry — реестр метрик сервиса.
var Registry = prometheus.NewRegistry()

var (
	// SyncEvents считает обработанные события синхронизации по итоговому коду.
	SyncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitrix_telegram",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Processed deal stage events by outcome.",
		},
		[]string{"outcome"},
	)

	// NotificationsSent считает отправленные Telegram-уведомления по результату.
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitrix_telegram",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Telegram notifications by delivery result.",
		},
		[]string{"result"},
	)

	// HTTPRequests считает HTTP-запросы к сервису.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bitrix_telegram",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(SyncEvents, NotificationsSent, HTTPRequests)
}

// Handler возвращает обработчик эндпоинта /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
