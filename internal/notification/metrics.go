package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Metrics are the Prometheus collectors for notification delivery.
type Metrics struct {
	Pushed       prometheus.Counter
	PushFailures prometheus.Counter
	Queued       prometheus.Counter
	Dropped      prometheus.Counter
	Pulled       prometheus.Counter
	BreakerState prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, together
// with a queue depth gauge read from queue. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, queue *Queue) *Metrics {
	m := &Metrics{
		Pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lwm2m",
			Subsystem: "notification",
			Name:      "pushed_total",
			Help:      "Async responses delivered to the callback URL.",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lwm2m",
			Subsystem: "notification",
			Name:      "push_failures_total",
			Help:      "Callback pushes that failed and fell back to the queue.",
		}),
		Queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lwm2m",
			Subsystem: "notification",
			Name:      "queued_total",
			Help:      "Async responses added to the pull queue.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lwm2m",
			Subsystem: "notification",
			Name:      "dropped_total",
			Help:      "Queued async responses discarded because the queue was full.",
		}),
		Pulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lwm2m",
			Subsystem: "notification",
			Name:      "pulled_total",
			Help:      "Async responses returned by pull requests.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lwm2m",
			Subsystem: "notification",
			Name:      "breaker_state",
			Help:      "Callback circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Pushed, m.PushFailures, m.Queued, m.Dropped, m.Pulled, m.BreakerState)
		if queue != nil {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "lwm2m",
				Subsystem: "notification",
				Name:      "queue_depth",
				Help:      "Async responses waiting to be pulled.",
			}, func() float64 { return float64(queue.Len()) }))
		}
	}
	return m
}

func (m *Metrics) setBreakerState(s gobreaker.State) {
	m.BreakerState.Set(float64(s))
}
