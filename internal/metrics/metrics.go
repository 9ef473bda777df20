package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of live call sessions.
type ActiveCallsProvider interface {
	ActiveCalls() int
}

// QueueStatsProvider exposes wait-queue occupancy.
type QueueStatsProvider interface {
	Len() int
}

// HeldTargetsProvider exposes the number of agents currently on a call.
type HeldTargetsProvider interface {
	HeldCount() int
}

// DecisionCounter returns audit decision counts grouped by decision kind.
type DecisionCounter interface {
	CountByDecision(ctx context.Context) (map[string]int64, error)
}

// FinalStateCounter returns call record counts grouped by final state.
type FinalStateCounter interface {
	CountByFinalState(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers VoiceCore metrics at scrape time.
type Collector struct {
	activeCalls ActiveCallsProvider
	queue       QueueStatsProvider
	held        HeldTargetsProvider
	decisions   DecisionCounter
	finalStates FinalStateCounter
	startTime   time.Time

	// Metric descriptors.
	activeCallsDesc *prometheus.Desc
	queueDepthDesc  *prometheus.Desc
	heldAgentsDesc  *prometheus.Desc
	decisionsDesc   *prometheus.Desc
	callsTotalDesc  *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	activeCalls ActiveCallsProvider,
	queue QueueStatsProvider,
	held HeldTargetsProvider,
	decisions DecisionCounter,
	finalStates FinalStateCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		activeCalls: activeCalls,
		queue:       queue,
		held:        held,
		decisions:   decisions,
		finalStates: finalStates,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voicecore_active_calls",
			"Number of currently live call sessions",
			nil, nil,
		),
		queueDepthDesc: prometheus.NewDesc(
			"voicecore_queue_depth",
			"Number of calls waiting in the queue across all tenants",
			nil, nil,
		),
		heldAgentsDesc: prometheus.NewDesc(
			"voicecore_agents_on_call",
			"Number of agents currently held by a call",
			nil, nil,
		),
		decisionsDesc: prometheus.NewDesc(
			"voicecore_transfer_decisions_total",
			"Total transfer decisions recorded on the audit trail",
			[]string{"decision"}, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"voicecore_calls_total",
			"Total completed calls by final state",
			[]string{"final_state"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voicecore_uptime_seconds",
			"Seconds since the VoiceCore process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.queueDepthDesc
	ch <- c.heldAgentsDesc
	ch <- c.decisionsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.activeCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.activeCalls.ActiveCalls()),
		)
	}

	if c.queue != nil {
		ch <- prometheus.MustNewConstMetric(
			c.queueDepthDesc, prometheus.GaugeValue,
			float64(c.queue.Len()),
		)
	}

	if c.held != nil {
		ch <- prometheus.MustNewConstMetric(
			c.heldAgentsDesc, prometheus.GaugeValue,
			float64(c.held.HeldCount()),
		)
	}

	// Decision counters by kind.
	if c.decisions != nil {
		counts, err := c.decisions.CountByDecision(ctx)
		if err != nil {
			slog.Error("metrics: failed to count decisions", "error", err)
		} else {
			for decision, count := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.decisionsDesc, prometheus.CounterValue,
					float64(count), decision,
				)
			}
		}
	}

	// Completed call counters by final state.
	if c.finalStates != nil {
		counts, err := c.finalStates.CountByFinalState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by final state", "error", err)
		} else {
			for state, count := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(count), state,
				)
			}
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
