package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Tally billing engine.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics.
	ChargesTotal          *prometheus.CounterVec
	ChargedAmountTotal    *prometheus.CounterVec
	ChargeRejectionsTotal *prometheus.CounterVec
	TopUpsTotal           prometheus.Counter
	TopUpAmountTotal      prometheus.Counter
	TokensChargedTotal    *prometheus.CounterVec

	// Team metrics.
	SeatChangesTotal    *prometheus.CounterVec
	TariffUpgradesTotal *prometheus.CounterVec

	// Collector (usage batching) metrics.
	CollectorBufferSize    prometheus.Gauge
	CollectorFlushesTotal  *prometheus.CounterVec
	CollectorFlushDuration prometheus.Histogram
	CollectorEntriesTotal  prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tally_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		ChargesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_charges_total",
			Help: "Total number of successful feature charges.",
		}, []string{"feature"}),

		ChargedAmountTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_charged_amount_total",
			Help: "Total amount charged from organization balances.",
		}, []string{"feature"}),

		ChargeRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_charge_rejections_total",
			Help: "Total number of rejected charges by rejection reason.",
		}, []string{"reason"}),

		TopUpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_topups_total",
			Help: "Total number of balance top-ups.",
		}),

		TopUpAmountTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_topup_amount_total",
			Help: "Total amount added to organization balances.",
		}),

		TokensChargedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_tokens_charged_total",
			Help: "Total number of tokens charged by processing stage.",
		}, []string{"stage"}),

		SeatChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_seat_changes_total",
			Help: "Total number of team seat additions and removals.",
		}, []string{"action"}),

		TariffUpgradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_tariff_upgrades_total",
			Help: "Total number of tariff changes by target tariff.",
		}, []string{"tariff"}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tally_collector_buffer_size",
			Help: "Current number of buffered usage entries.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_collector_flushes_total",
			Help: "Total number of collector flushes.",
		}, []string{"status"}),

		CollectorFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_collector_flush_duration_seconds",
			Help:    "Duration of collector flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		CollectorEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_collector_entries_total",
			Help: "Total number of usage entries recorded through the collector.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tally_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChargesTotal,
		m.ChargedAmountTotal,
		m.ChargeRejectionsTotal,
		m.TopUpsTotal,
		m.TopUpAmountTotal,
		m.TokensChargedTotal,
		m.SeatChangesTotal,
		m.TariffUpgradesTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorFlushDuration,
		m.CollectorEntriesTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncHTTPRequest increments the HTTP request counter.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
}

// ObserveHTTPDuration records the HTTP request duration.
func (m *Metrics) ObserveHTTPDuration(method, pathPattern string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncCharge records a successful charge and the amount billed.
func (m *Metrics) IncCharge(feature string, amount float64) {
	m.ChargesTotal.WithLabelValues(feature).Inc()
	m.ChargedAmountTotal.WithLabelValues(feature).Add(amount)
}

// IncChargeRejection increments the charge rejection counter for the reason.
func (m *Metrics) IncChargeRejection(reason string) {
	m.ChargeRejectionsTotal.WithLabelValues(reason).Inc()
}

// IncTopUp records a top-up and the amount added.
func (m *Metrics) IncTopUp(amount float64) {
	m.TopUpsTotal.Inc()
	m.TopUpAmountTotal.Add(amount)
}

// AddTokensCharged adds the token count for a processing stage.
func (m *Metrics) AddTokensCharged(stage string, tokens int64) {
	m.TokensChargedTotal.WithLabelValues(stage).Add(float64(tokens))
}

// IncSeatChange increments the seat change counter ("add" or "remove").
func (m *Metrics) IncSeatChange(action string) {
	m.SeatChangesTotal.WithLabelValues(action).Inc()
}

// IncTariffUpgrade increments the tariff change counter.
func (m *Metrics) IncTariffUpgrade(tariff string) {
	m.TariffUpgradesTotal.WithLabelValues(tariff).Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}
