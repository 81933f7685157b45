package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the exporter.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	ProductsTotal    prometheus.Counter
	VariationsTotal  *prometheus.CounterVec
	EscalationsTotal prometheus.Counter
	ImagesTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total HTTP requests issued, by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_errors_total",
			Help: "Total number of request errors by type.",
		},
		[]string{"error_type"},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_products_discovered_total",
			Help: "Products returned by the catalog listing.",
		},
	)
	variations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_variations_resolved_total",
			Help: "Resolved variations by the source that supplied the price.",
		},
		[]string{"price_source"},
	)
	escalations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_html_escalations_total",
			Help: "Products whose variations needed the product page.",
		},
	)
	images := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_images_total",
			Help: "Image downloads by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, products, variations, escalations, images)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		ProductsTotal:    products,
		VariationsTotal:  variations,
		EscalationsTotal: escalations,
		ImagesTotal:      images,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddProducts adds n discovered products.
func (m *Metrics) AddProducts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// IncVariation counts one resolved variation.
func (m *Metrics) IncVariation(priceSource string) {
	if m == nil {
		return
	}
	m.VariationsTotal.WithLabelValues(priceSource).Inc()
}

// IncEscalation counts one product page fallback.
func (m *Metrics) IncEscalation() {
	if m == nil {
		return
	}
	m.EscalationsTotal.Inc()
}

// IncImage counts one image by outcome ("downloaded" or "skipped").
func (m *Metrics) IncImage(outcome string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(outcome).Inc()
}
