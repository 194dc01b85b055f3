// Package metrics exposes Prometheus instrumentation for the trading loop.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	BidAsksTotal prometheus.Counter
	TickDelay    prometheus.Histogram // exchange timestamp to local receive
	DroppedTicks prometheus.Counter   // ring buffer overflow
	WSReconnects prometheus.Counter

	UpdateDur       prometheus.Histogram   // one full provider update cycle
	ManagerErrors   *prometheus.CounterVec // labels: manager
	ManagersActive  prometheus.Gauge
	BufferEvents    *prometheus.GaugeVec // labels: sequence=tick|bidask
	FlushDropsTotal prometheus.Counter

	FillsTotal   *prometheus.CounterVec // labels: action
	PositionsQty *prometheus.GaugeVec   // labels: side
	CycleAborts  prometheus.Counter
}

// New registers and returns all metrics on the given registry; a nil
// registry uses the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_ticks_total",
			Help: "Total ticks received from the market data feed",
		}),
		BidAsksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_bidasks_total",
			Help: "Total bid-ask events received from the market data feed",
		}),
		TickDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tmftrader_tick_delay_seconds",
			Help:    "Delay between exchange timestamp and local receipt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_dropped_ticks_total",
			Help: "Ticks dropped on ring buffer overflow",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		UpdateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tmftrader_update_duration_seconds",
			Help:    "Duration of one full indicator update cycle",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		ManagerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmftrader_manager_errors_total",
			Help: "Per-manager update failures",
		}, []string{"manager"}),
		ManagersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tmftrader_managers_active",
			Help: "Number of registered indicator managers",
		}),
		BufferEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tmftrader_buffer_events",
			Help: "Events currently held by the market event buffer",
		}, []string{"sequence"}),
		FlushDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_flush_drops_total",
			Help: "History flush batches dropped on queue overflow",
		}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmftrader_fills_total",
			Help: "Confirmed order fills",
		}, []string{"action"}),
		PositionsQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tmftrader_positions_qty",
			Help: "Open position quantity per side",
		}, []string{"side"}),
		CycleAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_cycle_aborts_total",
			Help: "Strategy cycles aborted on fatal indicator errors",
		}),
	}
	reg.MustRegister(
		m.TicksTotal, m.BidAsksTotal, m.TickDelay, m.DroppedTicks,
		m.WSReconnects, m.UpdateDur, m.ManagerErrors, m.ManagersActive,
		m.BufferEvents, m.FlushDropsTotal, m.FillsTotal, m.PositionsQty,
		m.CycleAborts,
	)
	return m
}

// ObserveUpdate records one update cycle duration.
func (m *Metrics) ObserveUpdate(start time.Time) {
	if m == nil {
		return
	}
	m.UpdateDur.Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr. Blocks; run in its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("[metrics] listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[metrics] server stopped: %v", err)
	}
}
