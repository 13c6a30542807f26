// Package metrics exposes workflow and session store metrics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/internal/workflow"
)

const namespace = "baton"

// Metrics holds the workflow metrics. It implements workflow.Observer.
type Metrics struct {
	AgentCallsTotal    *prometheus.CounterVec
	AgentSkipsTotal    *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	LoopsDetectedTotal prometheus.Counter
	LoopsBrokenTotal   prometheus.Counter
	RunsTotal          *prometheus.CounterVec
	AgentCallDuration  *prometheus.HistogramVec
	RunDuration        prometheus.Histogram
}

// New creates the workflow metrics and registers them with reg.
//
// Metrics:
//   - baton_agent_calls_total{agent}
//   - baton_agent_skips_total{agent}
//   - baton_decisions_total{action}
//   - baton_loops_detected_total
//   - baton_loops_broken_total
//   - baton_runs_total{state}
//   - baton_agent_call_duration_seconds{agent}
//   - baton_run_duration_seconds
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AgentCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Total number of agent calls made",
		}, []string{"agent"}),
		AgentSkipsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_skips_total",
			Help:      "Total number of agent calls suppressed by the router",
		}, []string{"agent"}),
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of parsed agent decisions",
		}, []string{"action"}),
		LoopsDetectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loops_detected_total",
			Help:      "Total number of routing loops detected",
		}),
		LoopsBrokenTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loops_broken_total",
			Help:      "Total number of routing loops broken by substitution",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished workflow runs",
		}, []string{"state"}),
		AgentCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Duration of agent calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"agent"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// OnEvent implements workflow.Observer.
func (m *Metrics) OnEvent(e workflow.Event) {
	switch e.Type {
	case workflow.EventAgentStarted:
		m.AgentCallsTotal.WithLabelValues(string(e.Agent)).Inc()
	case workflow.EventAgentSkipped:
		m.AgentSkipsTotal.WithLabelValues(string(e.Agent)).Inc()
	case workflow.EventDecision:
		if e.Decision != nil {
			m.DecisionsTotal.WithLabelValues(string(e.Decision.Action)).Inc()
		}
		m.AgentCallDuration.WithLabelValues(string(e.Agent)).Observe(e.Duration.Seconds())
	case workflow.EventLoopDetected:
		m.LoopsDetectedTotal.Inc()
	case workflow.EventLoopBroken:
		m.LoopsBrokenTotal.Inc()
	case workflow.EventRunFinished:
		m.RunsTotal.WithLabelValues(string(e.State)).Inc()
		m.RunDuration.Observe(e.Duration.Seconds())
	}
}

// StoreCollector reports session store statistics as gauges, reading them
// at scrape time.
type StoreCollector struct {
	stats func() state.Statistics

	sessionsCreated    *prometheus.Desc
	sessionsResumed    *prometheus.Desc
	packetsCached      *prometheus.Desc
	checkpointsCreated *prometheus.Desc
	workflowsCompleted *prometheus.Desc
	workflowsFailed    *prometheus.Desc
	cacheHitRate       *prometheus.Desc
	activeSessions     *prometheus.Desc
}

// NewStoreCollector creates a collector over stats, usually
// (*state.Store).Statistics.
func NewStoreCollector(stats func() state.Statistics) *StoreCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", name), help, nil, nil)
	}
	return &StoreCollector{
		stats:              stats,
		sessionsCreated:    desc("sessions_created", "Sessions created since the store was first opened"),
		sessionsResumed:    desc("sessions_resumed", "Sessions resumed from a checkpoint"),
		packetsCached:      desc("packets_cached", "Handoff packets recorded"),
		checkpointsCreated: desc("checkpoints_created", "Checkpoints recorded"),
		workflowsCompleted: desc("workflows_completed", "Sessions that reached COMPLETED"),
		workflowsFailed:    desc("workflows_failed", "Sessions that reached FAILED"),
		cacheHitRate:       desc("cache_hit_rate", "Fraction of session lookups served from memory"),
		activeSessions:     desc("active_sessions", "Sessions currently ACTIVE or RESUMED"),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsCreated
	ch <- c.sessionsResumed
	ch <- c.packetsCached
	ch <- c.checkpointsCreated
	ch <- c.workflowsCompleted
	ch <- c.workflowsFailed
	ch <- c.cacheHitRate
	ch <- c.activeSessions
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.sessionsCreated, float64(s.SessionsCreated))
	gauge(c.sessionsResumed, float64(s.SessionsResumed))
	gauge(c.packetsCached, float64(s.PacketsCached))
	gauge(c.checkpointsCreated, float64(s.CheckpointsCreated))
	gauge(c.workflowsCompleted, float64(s.WorkflowsCompleted))
	gauge(c.workflowsFailed, float64(s.WorkflowsFailed))
	gauge(c.cacheHitRate, s.CacheHitRate)
	gauge(c.activeSessions, float64(s.ActiveSessions))
}
