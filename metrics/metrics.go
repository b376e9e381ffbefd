// Package metrics is the runtime's metrics sink contract, backed by
// github.com/prometheus/client_golang. It exposes the handful of
// kernel-level series worth watching (mailbox depth, dispatcher
// schedule latency, restart counters) without requiring the
// actor/dispatcher packages to import prometheus directly: system
// wires a Sink in as an optional kernelScheduler wrapper and registry
// sampler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the metrics contract the rest of the kernel depends on,
// narrow enough that a no-op implementation costs nothing.
type Sink interface {
	MailboxDepth(actorID string, depth int)
	ScheduleLatency(dispatcherID string, d time.Duration)
	RestartTotal(actorID string)
	DeadLetterTotal(reason string)
	RegistrySize(n int)
}

type nopSink struct{}

func (nopSink) MailboxDepth(string, int)              {}
func (nopSink) ScheduleLatency(string, time.Duration) {}
func (nopSink) RestartTotal(string)                   {}
func (nopSink) DeadLetterTotal(string)                {}
func (nopSink) RegistrySize(int)                      {}

// Nop is the zero-cost default Sink.
var Nop Sink = nopSink{}

// Prometheus is the production Sink, registering its series against
// the supplied registerer (pass prometheus.DefaultRegisterer for the
// global registry, or a fresh prometheus.NewRegistry() in tests).
type Prometheus struct {
	mailboxDepth    *prometheus.GaugeVec
	scheduleLatency *prometheus.HistogramVec
	restartTotal    *prometheus.CounterVec
	deadLetterTotal *prometheus.CounterVec
	registrySize    prometheus.Gauge
}

// NewPrometheus builds and registers the kernel's metric series.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		mailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kestrel",
			Name:      "mailbox_depth",
			Help:      "Current user-queue depth per actor.",
		}, []string{"actor_id"}),
		scheduleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "dispatcher_schedule_latency_seconds",
			Help:      "Time spent handing a Schedulable to its worker pool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dispatcher_id"}),
		restartTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "actor_restart_total",
			Help:      "Total restarts applied to an actor by its supervisor.",
		}, []string{"actor_id"}),
		deadLetterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "dead_letter_total",
			Help:      "Total envelopes whose delivery was abandoned, by reason.",
		}, []string{"reason"}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kestrel",
			Name:      "registry_size",
			Help:      "Number of live entries in the local process registry.",
		}),
	}

	reg.MustRegister(p.mailboxDepth, p.scheduleLatency, p.restartTotal, p.deadLetterTotal, p.registrySize)
	return p
}

func (p *Prometheus) MailboxDepth(actorID string, depth int) {
	p.mailboxDepth.WithLabelValues(actorID).Set(float64(depth))
}

func (p *Prometheus) ScheduleLatency(dispatcherID string, d time.Duration) {
	p.scheduleLatency.WithLabelValues(dispatcherID).Observe(d.Seconds())
}

func (p *Prometheus) RestartTotal(actorID string) {
	p.restartTotal.WithLabelValues(actorID).Inc()
}

func (p *Prometheus) DeadLetterTotal(reason string) {
	p.deadLetterTotal.WithLabelValues(reason).Inc()
}

func (p *Prometheus) RegistrySize(n int) {
	p.registrySize.Set(float64(n))
}
