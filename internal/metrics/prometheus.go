package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated; a metric that
// fails to register simply records into an unexported collector.
type PrometheusSink struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runsInFlight  prometheus.Gauge
	itemsFound    prometheus.Counter
	itemsFresh    prometheus.Counter
	capturesTotal *prometheus.CounterVec
	batchesTotal  *prometheus.CounterVec
	batchSize     prometheus.Histogram
}

// NewPrometheusSink creates a Prometheus metrics sink registered on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}

	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_runs_total",
		Help: "Total workflow runs, by outcome.",
	}, []string{"outcome"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradebot_run_duration_seconds",
		Help:    "Duration of one workflow run in seconds.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_runs_in_flight",
		Help: "Workflow runs currently executing.",
	})
	s.itemsFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_items_found_total",
		Help: "Total listings returned by provider searches.",
	})
	s.itemsFresh = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_items_fresh_total",
		Help: "Total listings surviving dedup.",
	})
	s.capturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_captures_total",
		Help: "Total artifact captures, by result.",
	}, []string{"result"})
	s.batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_batches_total",
		Help: "Total delivered batches, by result.",
	}, []string{"result"})
	s.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradebot_batch_size",
		Help:    "Items per delivered batch.",
		Buckets: []float64{1, 2, 5, 10},
	})

	s.register(reg, s.runsTotal, "tradebot_runs_total")
	s.register(reg, s.runDuration, "tradebot_run_duration_seconds")
	s.register(reg, s.runsInFlight, "tradebot_runs_in_flight")
	s.register(reg, s.itemsFound, "tradebot_items_found_total")
	s.register(reg, s.itemsFresh, "tradebot_items_fresh_total")
	s.register(reg, s.capturesTotal, "tradebot_captures_total")
	s.register(reg, s.batchesTotal, "tradebot_batches_total")
	s.register(reg, s.batchSize, "tradebot_batch_size")

	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RunsInFlightIncr() { s.runsInFlight.Inc() }
func (s *PrometheusSink) RunsInFlightDecr() { s.runsInFlight.Dec() }

func (s *PrometheusSink) SearchCompleted(found, fresh int) {
	s.itemsFound.Add(float64(found))
	s.itemsFresh.Add(float64(fresh))
}

func (s *PrometheusSink) CaptureCompleted(success bool) {
	s.capturesTotal.WithLabelValues(result(success)).Inc()
}

func (s *PrometheusSink) BatchDelivered(size int, success bool) {
	s.batchesTotal.WithLabelValues(result(success)).Inc()
	if success {
		s.batchSize.Observe(float64(size))
	}
}

func result(success bool) string {
	return strconv.FormatBool(success)
}
