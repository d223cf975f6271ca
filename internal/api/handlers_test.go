package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"choch-scanner/config"
	"choch-scanner/internal/database"
)

type fakeRepo struct {
	alerts     []*database.Alert
	archived   []*database.ArchivedAlert
	lastFilter database.AlertFilter
	lastLimit  int
	lastOffset int
	failWith   error
}

func (f *fakeRepo) RecentAlerts(ctx context.Context, limit, offset int) ([]*database.Alert, error) {
	f.lastLimit, f.lastOffset = limit, offset
	return f.alerts, f.failWith
}

func (f *fakeRepo) FilterAlerts(ctx context.Context, filter database.AlertFilter) ([]*database.Alert, error) {
	f.lastFilter = filter
	return f.alerts, f.failWith
}

func (f *fakeRepo) Stats(ctx context.Context) (*database.AlertStats, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &database.AlertStats{TotalAlerts: int64(len(f.alerts))}, nil
}

func (f *fakeRepo) UniqueValues(ctx context.Context) (*database.FilterValues, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &database.FilterValues{Symbols: []string{"BTCUSDT"}}, nil
}

func (f *fakeRepo) RecentArchived(ctx context.Context, limit, offset int) ([]*database.ArchivedAlert, error) {
	f.lastLimit, f.lastOffset = limit, offset
	return f.archived, f.failWith
}

func (f *fakeRepo) HealthCheck(ctx context.Context) error {
	return f.failWith
}

func newTestServer(repo AlertRepository) *Server {
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: "*"}, repo, NewWSHub())
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func sampleAlert(symbol, timeframe string) *database.Alert {
	return &database.Alert{
		ID:              1,
		Symbol:          symbol,
		Timeframe:       timeframe,
		SignalType:      "CHoCH Up",
		Direction:       "Long",
		PatternGroup:    "G1",
		Price:           65000,
		SignalTimestamp: time.Now().UTC(),
		CreatedAt:       time.Now().UTC(),
		IsFutures:       true,
		Region:          "in",
	}
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy with database", func(t *testing.T) {
		s := newTestServer(&fakeRepo{})
		w := doRequest(t, s, "/health")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body["status"] != "ok" {
			t.Errorf("Expected status ok, got %v", body["status"])
		}
		if body["database"] != "ok" {
			t.Errorf("Expected database ok, got %v", body["database"])
		}
	})

	t.Run("degraded when database check fails", func(t *testing.T) {
		s := newTestServer(&fakeRepo{failWith: errors.New("connection refused")})
		w := doRequest(t, s, "/health")

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})

	t.Run("ok without persistence", func(t *testing.T) {
		s := newTestServer(nil)
		w := doRequest(t, s, "/health")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body["database"] != "disabled" {
			t.Errorf("Expected database disabled, got %v", body["database"])
		}
	})
}

func TestHandleRecentAlerts(t *testing.T) {
	t.Run("returns alerts with default limit", func(t *testing.T) {
		repo := &fakeRepo{alerts: []*database.Alert{sampleAlert("BTCUSDT", "1h")}}
		s := newTestServer(repo)
		w := doRequest(t, s, "/api/alerts")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if repo.lastLimit != defaultAlertLimit {
			t.Errorf("Expected default limit %d, got %d", defaultAlertLimit, repo.lastLimit)
		}

		var body struct {
			Alerts []*database.Alert `json:"alerts"`
			Count  int               `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body.Count != 1 {
			t.Errorf("Expected count 1, got %d", body.Count)
		}
		if body.Alerts[0].Symbol != "BTCUSDT" {
			t.Errorf("Expected symbol BTCUSDT, got %s", body.Alerts[0].Symbol)
		}
	})

	t.Run("caps limit at maximum", func(t *testing.T) {
		repo := &fakeRepo{}
		s := newTestServer(repo)
		doRequest(t, s, "/api/alerts?limit=9999")

		if repo.lastLimit != maxAlertLimit {
			t.Errorf("Expected limit capped at %d, got %d", maxAlertLimit, repo.lastLimit)
		}
	})

	t.Run("passes offset through", func(t *testing.T) {
		repo := &fakeRepo{}
		s := newTestServer(repo)
		doRequest(t, s, "/api/alerts?limit=10&offset=20")

		if repo.lastLimit != 10 || repo.lastOffset != 20 {
			t.Errorf("Expected limit 10 offset 20, got %d %d", repo.lastLimit, repo.lastOffset)
		}
	})

	t.Run("503 when persistence disabled", func(t *testing.T) {
		s := newTestServer(nil)
		w := doRequest(t, s, "/api/alerts")

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})

	t.Run("500 on repository error", func(t *testing.T) {
		s := newTestServer(&fakeRepo{failWith: errors.New("boom")})
		w := doRequest(t, s, "/api/alerts")

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Code)
		}
	})
}

func TestHandleFilterAlerts(t *testing.T) {
	t.Run("builds filter from query params", func(t *testing.T) {
		repo := &fakeRepo{}
		s := newTestServer(repo)
		w := doRequest(t, s, "/api/alerts/filter?symbols=BTCUSDT,ETHUSDT&timeframes=1h&directions=Long&signal_types=CHoCH+Up&start_date=2026-08-01&end_date=2026-08-26&limit=25")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		f := repo.lastFilter
		if len(f.Symbols) != 2 || f.Symbols[0] != "BTCUSDT" || f.Symbols[1] != "ETHUSDT" {
			t.Errorf("Unexpected symbols filter: %v", f.Symbols)
		}
		if len(f.Timeframes) != 1 || f.Timeframes[0] != "1h" {
			t.Errorf("Unexpected timeframes filter: %v", f.Timeframes)
		}
		if len(f.Directions) != 1 || f.Directions[0] != "Long" {
			t.Errorf("Unexpected directions filter: %v", f.Directions)
		}
		if len(f.SignalTypes) != 1 || f.SignalTypes[0] != "CHoCH Up" {
			t.Errorf("Unexpected signal types filter: %v", f.SignalTypes)
		}
		if f.StartDate == nil || f.StartDate.Format("2006-01-02") != "2026-08-01" {
			t.Errorf("Unexpected start date: %v", f.StartDate)
		}
		if f.EndDate == nil || f.EndDate.Format("2006-01-02") != "2026-08-26" {
			t.Errorf("Unexpected end date: %v", f.EndDate)
		}
		if f.Limit != 25 {
			t.Errorf("Expected limit 25, got %d", f.Limit)
		}
	})

	t.Run("rejects malformed dates", func(t *testing.T) {
		s := newTestServer(&fakeRepo{})
		w := doRequest(t, s, "/api/alerts/filter?start_date=yesterday")

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})
}

func TestHandleStats(t *testing.T) {
	repo := &fakeRepo{alerts: []*database.Alert{sampleAlert("BTCUSDT", "1h"), sampleAlert("ETHUSDT", "4h")}}
	s := newTestServer(repo)
	w := doRequest(t, s, "/api/alerts/stats")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats database.AlertStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.TotalAlerts != 2 {
		t.Errorf("Expected 2 total alerts, got %d", stats.TotalAlerts)
	}
}

func TestHandleFilterValues(t *testing.T) {
	s := newTestServer(&fakeRepo{})
	w := doRequest(t, s, "/api/alerts/filters")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var values database.FilterValues
	if err := json.Unmarshal(w.Body.Bytes(), &values); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(values.Symbols) != 1 || values.Symbols[0] != "BTCUSDT" {
		t.Errorf("Unexpected filter values: %v", values.Symbols)
	}
}

func TestHandleArchive(t *testing.T) {
	repo := &fakeRepo{archived: []*database.ArchivedAlert{{
		Alert:         *sampleAlert("BTCUSDT", "1h"),
		AlertID:       1,
		ArchivedAt:    time.Now().UTC(),
		ArchiveReason: "age",
	}}}
	s := newTestServer(repo)
	w := doRequest(t, s, "/api/alerts/archive?limit=10")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if repo.lastLimit != 10 {
		t.Errorf("Expected limit 10, got %d", repo.lastLimit)
	}
}

func TestHubHistory(t *testing.T) {
	t.Run("ring keeps newest records", func(t *testing.T) {
		hub := NewWSHub()
		go hub.Run()

		for i := 0; i < historyCapacity+20; i++ {
			a := sampleAlert("BTCUSDT", "1h")
			a.ID = int64(i)
			hub.BroadcastAlert(a)
		}

		all := hub.History(0)
		if len(all) != historyCapacity {
			t.Fatalf("Expected ring bounded at %d, got %d", historyCapacity, len(all))
		}
		if all[0].ID != 20 {
			t.Errorf("Expected oldest retained record 20, got %d", all[0].ID)
		}
		if all[len(all)-1].ID != int64(historyCapacity+19) {
			t.Errorf("Expected newest record %d, got %d", historyCapacity+19, all[len(all)-1].ID)
		}
	})

	t.Run("replay limited", func(t *testing.T) {
		hub := NewWSHub()
		for i := 0; i < 80; i++ {
			hub.BroadcastAlert(sampleAlert("ETHUSDT", "4h"))
		}

		replay := hub.History(historyReplay)
		if len(replay) != historyReplay {
			t.Errorf("Expected %d records, got %d", historyReplay, len(replay))
		}
	})
}

func TestHistoryRequestAfterDrop(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	hub.BroadcastAlert(sampleAlert("BTCUSDT", "1h"))

	client := &WSClient{send: make(chan []byte, 1), hub: hub}
	hub.register <- client
	hub.unregister <- client // closes the send channel

	// A read loop that raced the drop can still ask for a replay; the hub
	// must discard the request instead of writing to the closed channel.
	hub.requestHistory <- client

	other := &WSClient{send: make(chan []byte, 4), hub: hub}
	hub.register <- other
	select {
	case msg := <-other.send:
		if !strings.Contains(string(msg), "alerts_history") {
			t.Errorf("Expected a history replay event, got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected the hub to keep serving after a stale history request")
	}
}

func TestClientCountTracksRegistrations(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	waitCount := func(want int) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if hub.ClientCount() == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("Expected client count %d, got %d", want, hub.ClientCount())
	}

	a := &WSClient{send: make(chan []byte, 4), hub: hub}
	b := &WSClient{send: make(chan []byte, 4), hub: hub}
	hub.register <- a
	hub.register <- b
	waitCount(2)

	hub.unregister <- a
	waitCount(1)
}
