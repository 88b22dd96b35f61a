// Package metrics tracks performance and operational statistics for
// the data acquisition core: frame fan-out, document emission, and
// run-engine step dispatch.
package metrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics aggregates counters for the whole core. A single instance is
// normally shared across the broadcast, document, and engine packages.
type Metrics struct {
	// Frame fan-out.
	FramesPublished atomic.Uint64
	FramesDelivered atomic.Uint64
	FramesDropped   atomic.Uint64
	LagEvents       atomic.Uint64

	// Document stream.
	DocumentsEmitted atomic.Uint64
	DocumentsDropped atomic.Uint64

	// Run engine dispatch.
	StepsExecuted atomic.Uint64
	StepsRetried  atomic.Uint64
	StepsSkipped  atomic.Uint64
	StepsAborted  atomic.Uint64

	// Step dispatch latency.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Frame pool.
	PoolAcquired   atomic.Uint64
	PoolExhausted  atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordFramePublish records one frame entering the broadcast fan-out.
func (m *Metrics) RecordFramePublish() { m.FramesPublished.Add(1) }

// RecordFrameDelivered records a frame reaching a sink.
func (m *Metrics) RecordFrameDelivered(latencyNs uint64) {
	m.FramesDelivered.Add(1)
	m.recordLatency(latencyNs)
}

// RecordFrameDropped records a frame dropped by a sink's overflow policy.
func (m *Metrics) RecordFrameDropped() { m.FramesDropped.Add(1) }

// RecordLag records a lag (gap) event delivered to a subscriber.
func (m *Metrics) RecordLag() { m.LagEvents.Add(1) }

// RecordDocument records a document handed to subscribers.
func (m *Metrics) RecordDocument() { m.DocumentsEmitted.Add(1) }

// RecordDocumentDropped records a document dropped by backpressure policy.
func (m *Metrics) RecordDocumentDropped() { m.DocumentsDropped.Add(1) }

// RecordStep records one dispatched plan step and its outcome.
func (m *Metrics) RecordStep(latencyNs uint64, retried, skipped, aborted bool) {
	m.StepsExecuted.Add(1)
	if retried {
		m.StepsRetried.Add(1)
	}
	if skipped {
		m.StepsSkipped.Add(1)
	}
	if aborted {
		m.StepsAborted.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPoolAcquire records a successful or failed frame pool acquisition.
func (m *Metrics) RecordPoolAcquire(exhausted bool) {
	if exhausted {
		m.PoolExhausted.Add(1)
		return
	}
	m.PoolAcquired.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the metrics instance as stopped (uptime calculations freeze).
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// Snapshot is a point-in-time copy of Metrics' derived statistics.
type Snapshot struct {
	FramesPublished uint64
	FramesDelivered uint64
	FramesDropped   uint64
	LagEvents       uint64

	DocumentsEmitted uint64
	DocumentsDropped uint64

	StepsExecuted uint64
	StepsRetried  uint64
	StepsSkipped  uint64
	StepsAborted  uint64

	PoolAcquired  uint64
	PoolExhausted uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	DropRate float64 // percentage of frames dropped out of published
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		FramesPublished:  m.FramesPublished.Load(),
		FramesDelivered:  m.FramesDelivered.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		LagEvents:        m.LagEvents.Load(),
		DocumentsEmitted: m.DocumentsEmitted.Load(),
		DocumentsDropped: m.DocumentsDropped.Load(),
		StepsExecuted:    m.StepsExecuted.Load(),
		StepsRetried:     m.StepsRetried.Load(),
		StepsSkipped:     m.StepsSkipped.Load(),
		StepsAborted:     m.StepsAborted.Load(),
		PoolAcquired:     m.PoolAcquired.Load(),
		PoolExhausted:    m.PoolExhausted.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		s.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		s.UptimeNs = uint64(stopTime - startTime)
	} else {
		s.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if s.FramesPublished > 0 {
		s.DropRate = float64(s.FramesDropped) / float64(s.FramesPublished) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		s.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		s.LatencyP50Ns = m.calculatePercentile(0.50)
		s.LatencyP99Ns = m.calculatePercentile(0.99)
		s.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return s
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters. Useful in tests.
func (m *Metrics) Reset() {
	m.FramesPublished.Store(0)
	m.FramesDelivered.Store(0)
	m.FramesDropped.Store(0)
	m.LagEvents.Store(0)
	m.DocumentsEmitted.Store(0)
	m.DocumentsDropped.Store(0)
	m.StepsExecuted.Store(0)
	m.StepsRetried.Store(0)
	m.StepsSkipped.Store(0)
	m.StepsAborted.Store(0)
	m.PoolAcquired.Store(0)
	m.PoolExhausted.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection across the broadcast,
// document, and engine packages.
type Observer interface {
	ObserveFramePublish()
	ObserveFrameDelivered(latencyNs uint64)
	ObserveFrameDropped()
	ObserveLag()
	ObserveDocument()
	ObserveDocumentDropped()
	ObserveStep(latencyNs uint64, retried, skipped, aborted bool)
	ObservePoolAcquire(exhausted bool)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveFramePublish()                                  {}
func (NoOpObserver) ObserveFrameDelivered(uint64)                          {}
func (NoOpObserver) ObserveFrameDropped()                                  {}
func (NoOpObserver) ObserveLag()                                           {}
func (NoOpObserver) ObserveDocument()                                      {}
func (NoOpObserver) ObserveDocumentDropped()                               {}
func (NoOpObserver) ObserveStep(uint64, bool, bool, bool)                  {}
func (NoOpObserver) ObservePoolAcquire(bool)                               {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	m *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{m: m} }

func (o *MetricsObserver) ObserveFramePublish()         { o.m.RecordFramePublish() }
func (o *MetricsObserver) ObserveFrameDelivered(ns uint64) { o.m.RecordFrameDelivered(ns) }
func (o *MetricsObserver) ObserveFrameDropped()         { o.m.RecordFrameDropped() }
func (o *MetricsObserver) ObserveLag()                  { o.m.RecordLag() }
func (o *MetricsObserver) ObserveDocument()              { o.m.RecordDocument() }
func (o *MetricsObserver) ObserveDocumentDropped()       { o.m.RecordDocumentDropped() }
func (o *MetricsObserver) ObserveStep(ns uint64, retried, skipped, aborted bool) {
	o.m.RecordStep(ns, retried, skipped, aborted)
}
func (o *MetricsObserver) ObservePoolAcquire(exhausted bool) { o.m.RecordPoolAcquire(exhausted) }

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
