package metrics

import "github.com/prometheus/client_golang/prometheus"

// PrometheusObserver forwards observations to a set of Prometheus
// collectors, in addition to whatever a caller does with Metrics
// directly. It is registered alongside a plain Metrics/MetricsObserver
// pair, not instead of one.
type PrometheusObserver struct {
	framesPublished prometheus.Counter
	framesDelivered prometheus.Counter
	framesDropped   prometheus.Counter
	lagEvents       prometheus.Counter

	documentsEmitted prometheus.Counter
	documentsDropped prometheus.Counter

	stepsExecuted prometheus.Counter
	stepsRetried  prometheus.Counter
	stepsSkipped  prometheus.Counter
	stepsAborted  prometheus.Counter

	stepLatency prometheus.Histogram

	poolAcquired  prometheus.Counter
	poolExhausted prometheus.Counter
}

// NewPrometheusObserver creates a PrometheusObserver registered against
// the default Prometheus registerer.
func NewPrometheusObserver(namespace string) *PrometheusObserver {
	return NewPrometheusObserverWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewPrometheusObserverWithRegistry creates a PrometheusObserver
// registered against a caller-supplied registry, useful for tests and
// for processes embedding more than one daq-core instance.
func NewPrometheusObserverWithRegistry(namespace string, registerer prometheus.Registerer) *PrometheusObserver {
	p := &PrometheusObserver{
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_published_total", Help: "Total frames entering broadcast fan-out.",
		}),
		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_delivered_total", Help: "Total frames delivered to a sink.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total", Help: "Total frames dropped by a sink overflow policy.",
		}),
		lagEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lag_events_total", Help: "Total lag/gap records delivered to lagging subscribers.",
		}),
		documentsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "documents_emitted_total", Help: "Total run documents emitted.",
		}),
		documentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "documents_dropped_total", Help: "Total run documents dropped by backpressure.",
		}),
		stepsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "plan_steps_executed_total", Help: "Total plan steps dispatched.",
		}),
		stepsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "plan_steps_retried_total", Help: "Total plan steps retried after a transient error.",
		}),
		stepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "plan_steps_skipped_total", Help: "Total plan steps skipped by error policy.",
		}),
		stepsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "plan_steps_aborted_total", Help: "Total plan steps that aborted the run.",
		}),
		stepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "plan_step_latency_seconds", Help: "Plan step dispatch latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		poolAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frame_pool_acquired_total", Help: "Total successful frame pool acquisitions.",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frame_pool_exhausted_total", Help: "Total frame pool acquisitions that found no free slot.",
		}),
	}

	collectors := []prometheus.Collector{
		p.framesPublished, p.framesDelivered, p.framesDropped, p.lagEvents,
		p.documentsEmitted, p.documentsDropped,
		p.stepsExecuted, p.stepsRetried, p.stepsSkipped, p.stepsAborted, p.stepLatency,
		p.poolAcquired, p.poolExhausted,
	}
	for _, c := range collectors {
		registerer.MustRegister(c)
	}
	return p
}

func (p *PrometheusObserver) ObserveFramePublish()     { p.framesPublished.Inc() }
func (p *PrometheusObserver) ObserveFrameDropped()     { p.framesDropped.Inc() }
func (p *PrometheusObserver) ObserveLag()              { p.lagEvents.Inc() }
func (p *PrometheusObserver) ObserveDocument()          { p.documentsEmitted.Inc() }
func (p *PrometheusObserver) ObserveDocumentDropped()   { p.documentsDropped.Inc() }

func (p *PrometheusObserver) ObserveFrameDelivered(latencyNs uint64) {
	p.framesDelivered.Inc()
}

func (p *PrometheusObserver) ObserveStep(latencyNs uint64, retried, skipped, aborted bool) {
	p.stepsExecuted.Inc()
	p.stepLatency.Observe(float64(latencyNs) / 1e9)
	if retried {
		p.stepsRetried.Inc()
	}
	if skipped {
		p.stepsSkipped.Inc()
	}
	if aborted {
		p.stepsAborted.Inc()
	}
}

func (p *PrometheusObserver) ObservePoolAcquire(exhausted bool) {
	if exhausted {
		p.poolExhausted.Inc()
		return
	}
	p.poolAcquired.Inc()
}

var _ Observer = (*PrometheusObserver)(nil)

// MultiObserver fans a single observation out to several observers,
// letting a caller combine a MetricsObserver with a PrometheusObserver.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver combines zero or more observers into one.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

func (m *MultiObserver) ObserveFramePublish() {
	for _, o := range m.observers {
		o.ObserveFramePublish()
	}
}

func (m *MultiObserver) ObserveFrameDelivered(latencyNs uint64) {
	for _, o := range m.observers {
		o.ObserveFrameDelivered(latencyNs)
	}
}

func (m *MultiObserver) ObserveFrameDropped() {
	for _, o := range m.observers {
		o.ObserveFrameDropped()
	}
}

func (m *MultiObserver) ObserveLag() {
	for _, o := range m.observers {
		o.ObserveLag()
	}
}

func (m *MultiObserver) ObserveDocument() {
	for _, o := range m.observers {
		o.ObserveDocument()
	}
}

func (m *MultiObserver) ObserveDocumentDropped() {
	for _, o := range m.observers {
		o.ObserveDocumentDropped()
	}
}

func (m *MultiObserver) ObserveStep(latencyNs uint64, retried, skipped, aborted bool) {
	for _, o := range m.observers {
		o.ObserveStep(latencyNs, retried, skipped, aborted)
	}
}

func (m *MultiObserver) ObservePoolAcquire(exhausted bool) {
	for _, o := range m.observers {
		o.ObservePoolAcquire(exhausted)
	}
}

var _ Observer = (*MultiObserver)(nil)
