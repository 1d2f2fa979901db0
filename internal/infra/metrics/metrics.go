package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_messages_total", Help: "Messages processed by feed"},
		[]string{"feed"},
	)
	RejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_rejected_total", Help: "Messages discarded before applying (pre-snapshot diffs, unknown types)"},
		[]string{"feed"},
	)
	DesyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_desyncs_total", Help: "Fatal sequencing violations by feed"},
		[]string{"feed"},
	)
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_snapshots_total", Help: "Book snapshots applied by feed"},
		[]string{"feed"},
	)
	SignalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "arbitrage_signals_total", Help: "Crossed-market signals emitted"},
	)
	BookLevels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "book_levels", Help: "Resting levels per book side"},
		[]string{"book", "side"},
	)
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		MessagesTotal, RejectedTotal, DesyncsTotal, SnapshotsTotal, SignalsTotal, BookLevels,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
