// Package metrics exposes poll instrumentation for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gpufleet"

var (
	roundBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10}
	fetchBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5}
)

// Collector groups the coordinator's poll metrics.
type Collector struct {
	RoundDuration prometheus.Histogram
	Rounds        prometheus.Counter
	FetchDuration *prometheus.HistogramVec
	Attempts      *prometheus.CounterVec
	Discarded     *prometheus.CounterVec
	WorkerOnline  *prometheus.GaugeVec
	WorkersOnline prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_round_duration_seconds",
			Help:      "Wall-clock duration of a full polling round.",
			Buckets:   roundBuckets,
		}),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_rounds_total",
			Help:      "Polling rounds completed.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single worker snapshot fetch.",
			Buckets:   fetchBuckets,
		}, []string{"worker"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Worker snapshot fetches by outcome.",
		}, []string{"worker", "result"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Fetch results dropped because a newer attempt was already applied.",
		}, []string{"worker"}),
		WorkerOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_online",
			Help:      "1 if the latest attempt for the worker succeeded.",
		}, []string{"worker"}),
		WorkersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_online",
			Help:      "Workers whose latest attempt succeeded.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.RoundDuration, c.Rounds, c.FetchDuration, c.Attempts,
		c.Discarded, c.WorkerOnline, c.WorkersOnline,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveFetch records one fetch outcome. result is "success" or an error kind.
func (c *Collector) ObserveFetch(worker, result string, d time.Duration, online bool) {
	if c == nil {
		return
	}
	c.FetchDuration.WithLabelValues(worker).Observe(d.Seconds())
	c.Attempts.WithLabelValues(worker, result).Inc()
	v := 0.0
	if online {
		v = 1
	}
	c.WorkerOnline.WithLabelValues(worker).Set(v)
}

// ObserveDiscard counts a result dropped by the monotonicity rule.
func (c *Collector) ObserveDiscard(worker string) {
	if c == nil {
		return
	}
	c.Discarded.WithLabelValues(worker).Inc()
}

// ObserveRound records a completed round.
func (c *Collector) ObserveRound(d time.Duration, online int) {
	if c == nil {
		return
	}
	c.RoundDuration.Observe(d.Seconds())
	c.Rounds.Inc()
	c.WorkersOnline.Set(float64(online))
}
