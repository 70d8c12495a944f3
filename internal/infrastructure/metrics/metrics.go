package metrics

import (
	"net/http"
	"time"

	"mbobook/internal/domain/orderbook"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mbobook"

// Recorder exports engine activity as Prometheus metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	eventsApplied   *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	applyLatency    prometheus.Histogram
	snapshotLatency prometheus.Histogram
	sinkFailures    *prometheus.CounterVec
	restingOrders   prometheus.Gauge
	bestPrice       *prometheus.GaugeVec
	bestSize        *prometheus.GaugeVec
}

func NewRecorder(symbol string) *Recorder {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"symbol": symbol}

	r := &Recorder{
		registry: registry,
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_applied_total",
			Help:        "MBO events applied to the book, by action.",
			ConstLabels: labels,
		}, []string{"action"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_rejected_total",
			Help:        "MBO events rejected by the book, by action.",
			ConstLabels: labels,
		}, []string{"action"}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "apply_latency_microseconds",
			Help:        "Time spent applying one event to the book.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}),
		snapshotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "snapshot_latency_milliseconds",
			Help:        "Round trip of a full book snapshot through the engine.",
			ConstLabels: labels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sink_failures_total",
			Help:        "Failed writes to downstream sinks.",
			ConstLabels: labels,
		}, []string{"sink"}),
		restingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "resting_orders",
			Help:        "Orders currently resting in the book.",
			ConstLabels: labels,
		}),
		bestPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "best_price_ticks",
			Help:        "Best price per side in fixed-point units; 0 when the side is empty.",
			ConstLabels: labels,
		}, []string{"side"}),
		bestSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "best_size",
			Help:        "Aggregate size at the best price per side.",
			ConstLabels: labels,
		}, []string{"side"}),
	}

	registry.MustRegister(
		r.eventsApplied,
		r.eventsRejected,
		r.applyLatency,
		r.snapshotLatency,
		r.sinkFailures,
		r.restingOrders,
		r.bestPrice,
		r.bestSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) EventApplied(action orderbook.Action, took time.Duration) {
	r.eventsApplied.WithLabelValues(action.String()).Inc()
	r.applyLatency.Observe(float64(took.Nanoseconds()) / 1e3)
}

func (r *Recorder) EventRejected(action orderbook.Action) {
	r.eventsRejected.WithLabelValues(action.String()).Inc()
}

func (r *Recorder) BookState(orders int, bestBid, bestAsk *orderbook.LevelView) {
	r.restingOrders.Set(float64(orders))
	r.setBest("bid", bestBid)
	r.setBest("ask", bestAsk)
}

func (r *Recorder) setBest(side string, lv *orderbook.LevelView) {
	if lv == nil {
		r.bestPrice.WithLabelValues(side).Set(0)
		r.bestSize.WithLabelValues(side).Set(0)
		return
	}
	r.bestPrice.WithLabelValues(side).Set(float64(lv.Price))
	r.bestSize.WithLabelValues(side).Set(float64(lv.Size))
}

func (r *Recorder) SnapshotServed(took time.Duration) {
	r.snapshotLatency.Observe(float64(took.Nanoseconds()) / 1e6)
}

func (r *Recorder) SinkFailed(sink string) {
	r.sinkFailures.WithLabelValues(sink).Inc()
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
