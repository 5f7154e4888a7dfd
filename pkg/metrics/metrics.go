// Package metrics exposes runtime counters through Prometheus. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	jobsClaimed   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    *prometheus.CounterVec
	jobsReleased  prometheus.Counter

	nodeAttempts *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	executionsFinished *prometheus.CounterVec
	activeExecutions   prometheus.Gauge
}

func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Collector{
		jobsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nebula_jobs_claimed_total",
			Help: "Total number of advance jobs claimed by workers",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nebula_jobs_completed_total",
			Help: "Total number of advance jobs completed",
		}),
		jobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nebula_jobs_failed_total",
			Help: "Total number of advance job failures by outcome (retried or dead)",
		}, []string{"outcome"}),
		jobsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "nebula_jobs_released_total",
			Help: "Total number of advance jobs handed back on shutdown",
		}),
		nodeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nebula_node_attempts_total",
			Help: "Total number of node attempts by action type and result",
		}, []string{"action_type", "result"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nebula_node_duration_seconds",
			Help:    "Duration of node attempts in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"action_type"}),
		executionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nebula_executions_finished_total",
			Help: "Total number of executions reaching a terminal status",
		}, []string{"status"}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nebula_active_executions",
			Help: "Executions currently driven by this process",
		}),
	}
}

func (c *Collector) JobClaimed() {
	if c == nil {
		return
	}

	c.jobsClaimed.Inc()
}

func (c *Collector) JobCompleted() {
	if c == nil {
		return
	}

	c.jobsCompleted.Inc()
}

// JobFailed records a job failure; retried is false when the job is dead.
func (c *Collector) JobFailed(retried bool) {
	if c == nil {
		return
	}

	outcome := "dead"
	if retried {
		outcome = "retried"
	}

	c.jobsFailed.WithLabelValues(outcome).Inc()
}

func (c *Collector) JobReleased() {
	if c == nil {
		return
	}

	c.jobsReleased.Inc()
}

func (c *Collector) NodeAttempt(actionType, result string, duration time.Duration) {
	if c == nil {
		return
	}

	c.nodeAttempts.WithLabelValues(actionType, result).Inc()
	c.nodeDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

func (c *Collector) ExecutionFinished(status string) {
	if c == nil {
		return
	}

	c.executionsFinished.WithLabelValues(status).Inc()
}

func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}

	c.activeExecutions.Inc()
}

func (c *Collector) ExecutionReleased() {
	if c == nil {
		return
	}

	c.activeExecutions.Dec()
}
