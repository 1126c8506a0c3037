package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/robots-arena/robots/internal/config"
	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/protocol"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func emit(t *testing.T, bus *events.EventBus, et events.EventType, payload interface{}) {
	t.Helper()
	if err := bus.EmitSync(context.Background(), events.Event{Type: et, Source: "test", Payload: payload}); err != nil {
		t.Fatalf("EmitSync(%s) error = %v", et, err)
	}
}

func TestMetricsFollowSessionEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	bus := events.NewEventBus()
	defer bus.Stop()
	m.Subscribe(bus)

	emit(t, bus, events.EventSessionStarted, events.SessionStartedPayload{SessionID: 1})
	if got := gaugeValue(t, m.activeSessions); got != 1 {
		t.Errorf("active_sessions = %v, want 1", got)
	}
	emit(t, bus, events.EventPlayerAccepted, events.PlayerAcceptedPayload{SessionID: 1})
	emit(t, bus, events.EventGameStarted, events.GameStartedPayload{SessionID: 1})
	emit(t, bus, events.EventTurnCompleted, events.TurnCompletedPayload{SessionID: 1, Turn: 0, Events: []protocol.Event{
		protocol.PlayerMovedEvent(0, protocol.Position{}),
		protocol.BlockPlacedEvent(protocol.Position{X: 1}),
		protocol.BlockPlacedEvent(protocol.Position{X: 2}),
	}})
	emit(t, bus, events.EventTurnCompleted, events.TurnCompletedPayload{SessionID: 1, Turn: 1})
	emit(t, bus, events.EventGameEnded, events.GameEndedPayload{SessionID: 1})
	emit(t, bus, events.EventSessionClosed, events.SessionClosedPayload{SessionID: 1, ErrorKind: "none", Duration: time.Second})

	if got := counterValue(t, m.turns); got != 2 {
		t.Errorf("turns_total = %v, want 2", got)
	}
	if got := counterValue(t, m.turnEvents.WithLabelValues("BlockPlaced")); got != 2 {
		t.Errorf("turn_events_total{BlockPlaced} = %v, want 2", got)
	}
	if got := gaugeValue(t, m.lastTurn); got != 1 {
		t.Errorf("current_turn = %v, want 1", got)
	}
	if got := counterValue(t, m.gamesFinished); got != 1 {
		t.Errorf("games_finished_total = %v, want 1", got)
	}
	if got := counterValue(t, m.sessionsClosed.WithLabelValues("none")); got != 1 {
		t.Errorf("sessions_closed_total{none} = %v, want 1", got)
	}
	if got := gaugeValue(t, m.activeSessions); got != 0 {
		t.Errorf("active_sessions = %v, want 0", got)
	}

	emit(t, bus, events.EventMessageRejected, events.MessageRejectedPayload{Kind: "validation"})
	if got := counterValue(t, m.rejected.WithLabelValues("validation")); got != 1 {
		t.Errorf("messages_rejected_total{validation} = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("registry gathered no metric families")
	}
}

func TestMQTTDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, "x"); err == nil {
		t.Fatal("NewMQTTHandler() with MQTT disabled should fail")
	}
}

type published struct {
	topic string
	body  map[string]interface{}
}

func TestMQTTPublishesGameResult(t *testing.T) {
	h, err := NewMQTTHandler(config.MQTTConfig{
		Enabled:     true,
		BrokerURL:   "localhost",
		Port:        1883,
		TopicPrefix: "robots",
	}, "arena")
	if err != nil {
		t.Fatalf("NewMQTTHandler() error = %v", err)
	}

	var mu sync.Mutex
	var got []published
	h.send = func(topic string, data []byte) {
		var body map[string]interface{}
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("invalid JSON on %s: %v", topic, err)
		}
		mu.Lock()
		got = append(got, published{topic: topic, body: body})
		mu.Unlock()
	}

	bus := events.NewEventBus()
	defer bus.Stop()
	h.Subscribe(bus)

	emit(t, bus, events.EventSessionStarted, events.SessionStartedPayload{SessionID: 3})
	emit(t, bus, events.EventGameEnded, events.GameEndedPayload{
		SessionID: 3,
		Scores:    map[protocol.PlayerID]protocol.Score{0: 2},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	if got[0].topic != "robots/game/session" || got[0].body["server_name"] != "arena" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].topic != "robots/game/result" {
		t.Errorf("second topic = %q, want robots/game/result", got[1].topic)
	}
	payload, _ := got[1].body["payload"].(map[string]interface{})
	scores, _ := payload["scores"].(map[string]interface{})
	if scores["0"] != float64(2) {
		t.Errorf("published scores = %v", payload["scores"])
	}
}
