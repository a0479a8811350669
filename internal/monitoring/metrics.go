package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticksTotal        *prometheus.CounterVec
	tradesTotal       *prometheus.CounterVec
	tradeAmount       *prometheus.HistogramVec
	riskBlocksTotal   *prometheus.CounterVec
	tickDuration      *prometheus.HistogramVec
	runningBots       prometheus.Gauge
	emergencyStop     prometheus.Gauge
	logAppendFailures prometheus.Counter
	lastPrice         *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botengine_ticks_total",
			Help: "Ticks processed, by bot type and outcome",
		}, []string{"type", "outcome"}),
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botengine_trades_total",
			Help: "Orders placed",
		}, []string{"pair", "side", "mode"}),
		tradeAmount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botengine_trade_amount",
			Help:    "Quote amount per placed order",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"pair"}),
		riskBlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botengine_risk_blocks_total",
			Help: "Orders blocked by the risk guard, by reason",
		}, []string{"reason"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botengine_tick_duration_seconds",
			Help:    "Wall time of one bot tick",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		runningBots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botengine_running_bots",
			Help: "Bots with an active scheduler actor",
		}),
		emergencyStop: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botengine_emergency_stop_active",
			Help: "1 while the global emergency stop is engaged",
		}),
		logAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botengine_decision_log_append_failures_total",
			Help: "Decision log appends that failed and were queued for retry",
		}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "botengine_last_price",
			Help: "Last snapshot price seen per pair",
		}, []string{"pair"}),
	}
	reg.MustRegister(
		m.ticksTotal, m.tradesTotal, m.tradeAmount, m.riskBlocksTotal, m.tickDuration,
		m.runningBots, m.emergencyStop, m.logAppendFailures, m.lastPrice,
	)
	return m
}

// Handler serves the Prometheus exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTick(botType, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(botType, outcome).Inc()
	m.tickDuration.WithLabelValues(botType).Observe(took.Seconds())
}

func (m *Metrics) RecordTrade(pair, side, mode string, amount float64) {
	if m == nil {
		return
	}
	m.tradesTotal.WithLabelValues(pair, side, mode).Inc()
	m.tradeAmount.WithLabelValues(pair).Observe(amount)
}

func (m *Metrics) RecordRiskBlock(reason string) {
	if m == nil {
		return
	}
	m.riskBlocksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAppendFailure() {
	if m == nil {
		return
	}
	m.logAppendFailures.Inc()
}

func (m *Metrics) SetRunningBots(n int) {
	if m == nil {
		return
	}
	m.runningBots.Set(float64(n))
}

func (m *Metrics) SetEmergencyStop(active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.emergencyStop.Set(v)
}

func (m *Metrics) UpdatePrice(pair string, price float64) {
	if m == nil {
		return
	}
	m.lastPrice.WithLabelValues(pair).Set(price)
}
