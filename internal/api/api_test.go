package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robots-arena/robots/internal/config"
	"github.com/robots-arena/robots/internal/db"
	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/game"
	"github.com/robots-arena/robots/internal/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStatus struct {
	status game.Status
	active bool
}

func (f *fakeStatus) Current() (game.Status, bool) { return f.status, f.active }
func (f *fakeStatus) GamesFinished() uint64        { return 4 }
func (f *fakeStatus) Settings() game.Settings {
	return game.Settings{
		Game:         protocol.GameConfig{ServerName: "arena", PlayerCount: 2, SizeX: 10, SizeY: 10},
		TurnDuration: 500 * time.Millisecond,
		Generator:    game.GeneratorRules,
	}
}

type fakeHistory struct {
	limit int
	err   error
}

func (f *fakeHistory) RecentGames(ctx context.Context, limit int) ([]db.GameRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []db.GameRecord{{ID: 1, ServerName: "arena", Results: []db.PlayerResult{{Name: "alice", Score: 2}}}}, nil
}

func (f *fakeHistory) CountGames(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

func apiConfig() config.APIConfig {
	return config.APIConfig{
		ListenAddress:  "127.0.0.1:0",
		AllowedOrigins: []string{"*"},
		EnableMetrics:  true,
		SpectatorFeed:  true,
	}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s: invalid JSON %q: %v", path, w.Body.String(), err)
		}
	}
	return w, body
}

func TestPingAndNotFound(t *testing.T) {
	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{})

	w, body := get(t, s.Handler(), "/api/public/ping")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("ping = %d %v", w.Code, body)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	if w, _ := get(t, s.Handler(), "/api/public/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", w.Code)
	}
}

func TestServerInfo(t *testing.T) {
	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{DataDir: t.TempDir()})
	w, body := get(t, s.Handler(), "/api/public/server_info")
	if w.Code != http.StatusOK {
		t.Fatalf("server_info = %d", w.Code)
	}
	g, _ := body["game"].(map[string]interface{})
	if g["server_name"] != "arena" || body["turn_duration"] != float64(500) || body["games_finished"] != float64(4) {
		t.Errorf("server_info = %v", body)
	}
	if body["session_active"] != false || body["metrics_enabled"] != false {
		t.Errorf("session_active/metrics_enabled = %v/%v", body["session_active"], body["metrics_enabled"])
	}
	if _, ok := body["system"].(map[string]interface{}); !ok {
		t.Errorf("system info missing: %v", body)
	}
}

func TestSession(t *testing.T) {
	st := &fakeStatus{}
	s := NewServer(apiConfig(), false, st, Options{})

	if w, _ := get(t, s.Handler(), "/api/public/session"); w.Code != http.StatusNotFound {
		t.Errorf("session without game = %d, want 404", w.Code)
	}

	st.active = true
	st.status = game.Status{
		SessionID: 2,
		Phase:     game.PhaseRunning,
		Turn:      5,
		Players:   map[protocol.PlayerID]protocol.Player{0: {Name: "alice"}},
		Scores:    map[protocol.PlayerID]protocol.Score{0: 1},
	}
	w, body := get(t, s.Handler(), "/api/public/session")
	if w.Code != http.StatusOK || body["phase"] != "running" || body["turn"] != float64(5) {
		t.Errorf("session = %d %v", w.Code, body)
	}
}

func TestGames(t *testing.T) {
	h := &fakeHistory{}
	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{History: h})

	w, body := get(t, s.Handler(), "/api/public/games")
	if w.Code != http.StatusOK || body["count"] != float64(1) || body["total"] != float64(42) || h.limit != defaultGamesLimit {
		t.Errorf("games = %d %v (limit %d)", w.Code, body, h.limit)
	}

	get(t, s.Handler(), "/api/public/games?limit=100000")
	if h.limit != maxGamesLimit {
		t.Errorf("limit = %d, want clamp to %d", h.limit, maxGamesLimit)
	}

	for _, q := range []string{"0", "-3", "ten"} {
		if w, _ := get(t, s.Handler(), "/api/public/games?limit="+q); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s = %d, want 400", q, w.Code)
		}
	}

	h.err = errors.New("ledger closed")
	if w, _ := get(t, s.Handler(), "/api/public/games"); w.Code != http.StatusInternalServerError {
		t.Errorf("failing ledger = %d, want 500", w.Code)
	}

	noLedger := NewServer(apiConfig(), false, &fakeStatus{}, Options{})
	if w, _ := get(t, noLedger.Handler(), "/api/public/games"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("games without ledger = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "robots_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{Gatherer: reg})
	w, _ := get(t, s.Handler(), "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "robots_test_total 1") {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}

	cfg := apiConfig()
	cfg.EnableMetrics = false
	off := NewServer(cfg, false, &fakeStatus{}, Options{Gatherer: reg})
	if w, _ := get(t, off.Handler(), "/metrics"); strings.Contains(w.Body.String(), "robots_test_total") {
		t.Error("metrics served while disabled")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other clients have their own bucket")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("bucket should refill after a second")
	}
	now = now.Add(bucketIdleTTL)
	rl.Allow("c")
	if n := rl.Size(); n != 1 {
		t.Errorf("Size() after idle sweep = %d, want 1", n)
	}

	cfg := apiConfig()
	cfg.RateLimitRPS = 1
	s := NewServer(cfg, false, &fakeStatus{}, Options{})
	codes := make([]int, 0, 3)
	var retryAfter string
	for i := 0; i < 3; i++ {
		w, _ := get(t, s.Handler(), "/api/public/ping")
		codes = append(codes, w.Code)
		retryAfter = w.Header().Get("Retry-After")
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want third request limited", codes)
	}
	if retryAfter != "1" {
		t.Errorf("Retry-After = %q, want 1", retryAfter)
	}
}

func TestSpectatorFeed(t *testing.T) {
	hub := NewSpectatorHub([]string{"*"})
	bus := events.NewEventBus()
	defer bus.Stop()
	hub.Subscribe(bus)

	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{Hub: hub})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/public/spectate"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err = bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventTurnCompleted,
		Payload: events.TurnCompletedPayload{SessionID: 1, Turn: 3},
	})
	if err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string                      `json:"type"`
		Payload events.TurnCompletedPayload `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != string(events.EventTurnCompleted) || msg.Payload.Turn != 3 {
		t.Errorf("feed message = %+v", msg)
	}

	hub.Close()
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after Close")
	}
}

func TestSpectatorOriginCheck(t *testing.T) {
	hub := NewSpectatorHub([]string{"http://allowed.example"})
	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{Hub: hub})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/public/spectate"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Dial() from a foreign origin succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(apiConfig(), false, &fakeStatus{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/public/ping", s.Addr()))
	if err != nil {
		t.Fatalf("GET ping error = %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ping status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
