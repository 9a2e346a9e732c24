// Package selfmetrics instruments the daemon itself with Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package selfmetrics

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "fritzinfluxdb"

// Write outcomes.
const (
	WriteOK        = "ok"
	WriteRetention = "retention"
	WriteError     = "error"
)

// Drop reasons.
const (
	DropOverflow  = "overflow"
	DropRetention = "retention"
	DropShutdown  = "shutdown"
	DropInvalid   = "invalid"
)

type Metrics struct {
	polls            *prometheus.CounterVec
	extracted        *prometheus.CounterVec
	servicesAvail    *prometheus.GaugeVec
	writes           *prometheus.CounterVec
	written          prometheus.Counter
	dropped          *prometheus.CounterVec
	writeDuration    prometheus.Histogram
	bufferLength     prometheus.Gauge
	batchSize        prometheus.Gauge
	retryIntervalSec prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Device service calls by source, service and result.",
		}, []string{"source", "service", "result"}),
		extracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_extracted_total",
			Help:      "Measurements produced by the extraction engine per source.",
		}, []string{"source"}),
		servicesAvail: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_available",
			Help:      "1 if the service definition is enabled after discovery.",
		}, []string{"source", "service"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Batch writes to InfluxDB by outcome.",
		}, []string{"result"}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_written_total",
			Help:      "Measurements successfully written to InfluxDB.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_dropped_total",
			Help:      "Measurements discarded by the delivery engine by reason.",
		}, []string{"reason"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Duration of batch writes to InfluxDB.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		bufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_length",
			Help:      "Measurements held in the delivery buffer.",
		}),
		batchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Current adaptive write batch size.",
		}),
		retryIntervalSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_interval_seconds",
			Help:      "Current delay between failed write attempts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.extracted, m.servicesAvail, m.writes, m.written,
			m.dropped, m.writeDuration, m.bufferLength, m.batchSize, m.retryIntervalSec)
	}
	return m
}

// Handler serves the metrics gathered from g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Poll(source, service string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.polls.WithLabelValues(source, service, result).Inc()
}

func (m *Metrics) Extracted(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.extracted.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ServiceAvailable(source, service string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.servicesAvail.WithLabelValues(source, service).Set(v)
}

// Write records one sink write attempt of n measurements.
func (m *Metrics) Write(result string, n int, d time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
	m.writeDuration.Observe(d.Seconds())
	if result == WriteOK {
		m.written.Add(float64(n))
	}
}

func (m *Metrics) Dropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.WithLabelValues(reason).Add(float64(n))
}

// DeliveryState records the delivery engine gauges.
func (m *Metrics) DeliveryState(buffered, batchSize int, retry time.Duration) {
	if m == nil {
		return
	}
	m.bufferLength.Set(float64(buffered))
	m.batchSize.Set(float64(batchSize))
	m.retryIntervalSec.Set(retry.Seconds())
}

// Totals gathers g and sums every counter of this daemon per metric family,
// keyed by name without namespace. Used for the shutdown summary log.
func Totals(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER || !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		for _, metric := range mf.GetMetric() {
			out[name] += metric.GetCounter().GetValue()
		}
	}
	return out, nil
}

// SortedKeys returns the keys of totals in lexical order.
func SortedKeys(totals map[string]float64) []string {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
