// Package telemetry exports session events as Prometheus metrics and, when
// configured, as MQTT messages.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robots-arena/robots/internal/events"
)

const namespace = "robots"

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	sessionsStarted prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	sessionDuration prometheus.Histogram
	playersAccepted prometheus.Counter
	gamesStarted    prometheus.Counter
	gamesFinished   prometheus.Counter
	turns           prometheus.Counter
	turnEvents      *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	lastTurn        prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Connections accepted and greeted with Hello",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions ended, by error kind (none for a finished game)",
		}, []string{"error_kind"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently being served",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from Hello until the session returned",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		playersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_accepted_total",
			Help:      "Join requests accepted",
		}),
		gamesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Games that reached GameStarted",
		}),
		gamesFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Games that reached GameEnded",
		}),
		turns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turn messages sent",
		}),
		turnEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_events_total",
			Help:      "Events carried by Turn messages, by kind",
		}, []string{"kind"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Client messages that failed to decode, by error kind",
		}, []string{"kind"}),
		lastTurn: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_turn",
			Help:      "Number of the last turn sent",
		}),
	}
}

// Subscribe feeds the collectors from bus.
func (m *Metrics) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSessionStarted, "metrics.sessionStarted", m.onSessionStarted)
	bus.Subscribe(events.EventSessionClosed, "metrics.sessionClosed", m.onSessionClosed)
	bus.Subscribe(events.EventPlayerAccepted, "metrics.playerAccepted", m.onPlayerAccepted)
	bus.Subscribe(events.EventGameStarted, "metrics.gameStarted", m.onGameStarted)
	bus.Subscribe(events.EventTurnCompleted, "metrics.turnCompleted", m.onTurnCompleted)
	bus.Subscribe(events.EventGameEnded, "metrics.gameEnded", m.onGameEnded)
	bus.Subscribe(events.EventMessageRejected, "metrics.messageRejected", m.onMessageRejected)
}

func (m *Metrics) onSessionStarted(ctx context.Context, event events.Event) error {
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
	m.lastTurn.Set(0)
	return nil
}

func (m *Metrics) onSessionClosed(ctx context.Context, event events.Event) error {
	kind := "none"
	var d time.Duration
	if p, ok := event.Payload.(events.SessionClosedPayload); ok {
		kind = p.ErrorKind
		d = p.Duration
	}
	m.sessionsClosed.WithLabelValues(kind).Inc()
	m.activeSessions.Dec()
	m.sessionDuration.Observe(d.Seconds())
	return nil
}

func (m *Metrics) onPlayerAccepted(ctx context.Context, event events.Event) error {
	m.playersAccepted.Inc()
	return nil
}

func (m *Metrics) onGameStarted(ctx context.Context, event events.Event) error {
	m.gamesStarted.Inc()
	return nil
}

func (m *Metrics) onTurnCompleted(ctx context.Context, event events.Event) error {
	m.turns.Inc()
	p, ok := event.Payload.(events.TurnCompletedPayload)
	if !ok {
		return nil
	}
	m.lastTurn.Set(float64(p.Turn))
	for _, ev := range p.Events {
		m.turnEvents.WithLabelValues(ev.Kind.String()).Inc()
	}
	return nil
}

func (m *Metrics) onGameEnded(ctx context.Context, event events.Event) error {
	m.gamesFinished.Inc()
	return nil
}

func (m *Metrics) onMessageRejected(ctx context.Context, event events.Event) error {
	kind := "other"
	if p, ok := event.Payload.(events.MessageRejectedPayload); ok {
		kind = p.Kind
	}
	m.rejected.WithLabelValues(kind).Inc()
	return nil
}
