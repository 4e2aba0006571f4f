// Package metrics содержит счетчики Prometheus ядра сообщений.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages appended to the store, by kind",
	}, []string{"kind"})

	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_send_failures_total",
		Help: "Send attempts that failed, by reason",
	}, []string{"reason"})

	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_status_transitions_total",
		Help: "Status patches written, by target status",
	}, []string{"status"})

	StatusFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_status_failures_total",
		Help: "Status patches that failed and were not retried, by target status",
	}, []string{"status"})

	PinOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_pin_operations_total",
		Help: "Pin and unpin operations, by operation and result",
	}, []string{"op", "result"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notifications_total",
		Help: "Notifications dispatched, by target and result",
	}, []string{"target", "result"})

	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_subscriptions",
		Help: "Live snapshot subscriptions",
	})
)

// Register регистрирует все метрики в реестре.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		MessagesSent,
		SendFailures,
		StatusTransitions,
		StatusFailures,
		PinOperations,
		Notifications,
		ActiveSubscriptions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler возвращает обработчик для сбора метрик из реестра.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
