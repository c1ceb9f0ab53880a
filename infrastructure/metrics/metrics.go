package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus instruments for the billing engine. It
// satisfies the recorder interfaces in domain/service.
type Collector struct {
	attempts     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	enforcement  *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
}

// NewCollector creates and registers the billing metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "provisioning_attempts_total",
			Help:      "Provisioning attempts by terminal state.",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "provisioning_step_duration_seconds",
			Help:      "Duration of each provisioning workflow step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		enforcement: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "enforcement_decisions_total",
			Help:      "Expiry enforcement banner decisions by severity.",
		}, []string{"severity"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "snapshot_refreshes_total",
			Help:      "Subscription snapshot refreshes by trigger.",
		}, []string{"trigger"}),
	}

	if reg != nil {
		reg.MustRegister(c.attempts, c.stepDuration, c.enforcement, c.refreshes)
	}
	return c
}

// RecordOutcome counts one terminal workflow state.
func (c *Collector) RecordOutcome(outcome string) {
	c.attempts.WithLabelValues(outcome).Inc()
}

// ObserveStep records one workflow step duration.
func (c *Collector) ObserveStep(step string, d time.Duration) {
	c.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordEnforcement counts one banner decision.
func (c *Collector) RecordEnforcement(severity string) {
	c.enforcement.WithLabelValues(severity).Inc()
}

// RecordRefresh counts one snapshot refresh.
func (c *Collector) RecordRefresh(trigger string) {
	c.refreshes.WithLabelValues(trigger).Inc()
}
