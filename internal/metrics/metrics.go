package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billing"

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	OrdersCreated  prometheus.Counter
	Reconciliation *prometheus.CounterVec
	Invoices       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created from carts.",
		}),
		Reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment events by kind and reconciliation outcome.",
		}, []string{"kind", "outcome"}),
		Invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_total",
			Help:      "Invoice generation attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Requests, m.LatencyMS, m.OrdersCreated, m.Reconciliation, m.Invoices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRequest(route, method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(took.Milliseconds()))
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

func (m *Metrics) PaymentEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.Reconciliation.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Invoice(result string) {
	if m == nil {
		return
	}
	m.Invoices.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
