package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Metrics bundles the engine's Prometheus collectors. Wire them into
// an invocation with Hooks, and into turn accounting with ObserveTurn.
type Metrics struct {
	NodeVisits   *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	Halts        *prometheus.CounterVec
	Turns        *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	entered sync.Map // conversation id -> node enter time
}

// NewMetrics creates and registers the collectors. A nil registerer
// falls back to the Prometheus default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_node_visits_total",
				Help: "Total number of node visits",
			},
			[]string{"node"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "sentinel_node_duration_seconds",
				Help: "Duration of node executions",
			},
			[]string{"node"},
		),
		Halts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_halts_total",
				Help: "Total number of halted invocations by reason",
			},
			[]string{"reason"},
		),
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_turns_total",
				Help: "Total number of turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "sentinel_turn_duration_seconds",
				Help: "Wall time of full turns",
			},
		),
	}

	reg.MustRegister(m.NodeVisits, m.NodeDuration, m.Halts, m.Turns, m.TurnDuration)
	return m
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.Node).Inc()
			m.entered.Store(e.ConversationID, e.Timestamp)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			if start, ok := m.entered.LoadAndDelete(e.ConversationID); ok {
				m.NodeDuration.WithLabelValues(e.Node).Observe(e.Timestamp.Sub(start.(time.Time)).Seconds())
			}
		},
		OnHalt: func(ctx context.Context, e *domain.HaltEvent) {
			m.Halts.WithLabelValues(string(e.Reason)).Inc()
		},
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, elapsed time.Duration) {
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

// JoinHooks fans one event out to several hook sets, in order.
func JoinHooks(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			for _, h := range hooks {
				if h.OnNodeEnter != nil {
					h.OnNodeEnter(ctx, e)
				}
			}
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			for _, h := range hooks {
				if h.OnNodeLeave != nil {
					h.OnNodeLeave(ctx, e)
				}
			}
		},
		OnHalt: func(ctx context.Context, e *domain.HaltEvent) {
			for _, h := range hooks {
				if h.OnHalt != nil {
					h.OnHalt(ctx, e)
				}
			}
		},
	}
}
