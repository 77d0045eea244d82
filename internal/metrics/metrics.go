// Package metrics содержит метрики Prometheus для HTTP-слоя и оформления заказов.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics объединяет коллекторы сервиса. Методы безопасно вызывать у nil.
type Metrics struct {
	requests  *prometheus.CounterVec
	latencyMS *prometheus.HistogramVec

	placed    prometheus.Counter
	failures  *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	events    *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		placed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders committed by the placement workflow.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_failures_total",
			Help:      "Rejected order placements by error kind.",
		}, []string{"kind"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Cancelled orders by stock restoration outcome.",
		}, []string{"stock_restored"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Outbox events handled by the dispatcher.",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(m.requests, m.latencyMS, m.placed, m.failures, m.cancelled, m.events)
	return m
}

// ObserveRequest учитывает один обработанный HTTP-запрос.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latencyMS.WithLabelValues(route).Observe(float64(d) / float64(time.Millisecond))
}

// OrderPlaced учитывает успешно оформленный заказ.
func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.placed.Inc()
}

// OrderFailed учитывает отказ в оформлении заказа.
func (m *Metrics) OrderFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

// OrderCancelled учитывает отмену заказа.
func (m *Metrics) OrderCancelled(stockRestored bool) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(strconv.FormatBool(stockRestored)).Inc()
}

// EventDispatched учитывает попытку доставки события.
func (m *Metrics) EventDispatched(eventType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

// Handler отдаёт метрики из g в формате Prometheus. Сжатие ответа выполняет
// общий gzip middleware роутера.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{DisableCompression: true})
}
