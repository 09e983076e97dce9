package capture

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "duocap"
	subsystemCapture = "capture"
)

// Metrics exports session counters to prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	bytesWritten   prometheus.Counter
	chunks         prometheus.Counter
	chunksDropped  prometheus.Counter
	blocks         *prometheus.CounterVec
	retuneRequests prometheus.Counter
	retunes        prometheus.Counter
	retuneFailures prometheus.Counter
	retuneSeconds  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: defaultNamespace,
			Subsystem: subsystemCapture,
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		bytesWritten:   counter("bytes_written_total", "Sample bytes written to the sink."),
		chunks:         counter("chunks_total", "Chunks delivered by the device."),
		chunksDropped:  counter("chunks_dropped_total", "Chunks discarded after a stop request."),
		retuneRequests: counter("retune_requests_total", "Retunes requested at block boundaries."),
		retunes:        counter("retunes_total", "Retunes applied to the tuner."),
		retuneFailures: counter("retune_failures_total", "Retunes the tuner rejected."),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: defaultNamespace,
			Subsystem: subsystemCapture,
			Name:      "blocks_total",
			Help:      "Completed blocks per channel.",
		}, []string{"channel"}),
		retuneSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: defaultNamespace,
			Subsystem: subsystemCapture,
			Name:      "retune_seconds",
			Help:      "Time spent in the tuner's set-frequency call.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	for _, c := range []prometheus.Collector{
		m.bytesWritten, m.chunks, m.chunksDropped, m.blocks,
		m.retuneRequests, m.retunes, m.retuneFailures, m.retuneSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeChunk(written int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.bytesWritten.Add(float64(written))
}

func (m *Metrics) observeDropped() {
	if m != nil {
		m.chunksDropped.Inc()
	}
}

func (m *Metrics) observeBlock(channel int) {
	if m != nil {
		m.blocks.WithLabelValues(strconv.Itoa(channel)).Inc()
	}
}

func (m *Metrics) observeRequest() {
	if m != nil {
		m.retuneRequests.Inc()
	}
}

func (m *Metrics) observeRetune(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.retuneSeconds.Observe(d.Seconds())
	if err != nil {
		m.retuneFailures.Inc()
		return
	}
	m.retunes.Inc()
}
