package httpapi

import (
	"context"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"luna.social/internal/explain"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/behavior"
	"luna.social/internal/sim/booking"
	"luna.social/internal/sim/executor"
	"luna.social/internal/sim/orchestrator"
	"luna.social/internal/sim/pool"
	"luna.social/internal/sim/tuning"
	"luna.social/internal/stream"
)

func testAPI(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	cfg := tuning.Defaults()
	cfg.TickIntervalMs = 3600 * 1000
	cfg.Seeding.Agents = 8
	cfg.Seeding.Venues = 4
	cfg.Seeding.FriendsPerAgent = 2
	cfg.Seeding.InterestsPerAgent = 1

	store := repo.NewMemory()
	p := pool.New(store)
	if err := pool.Seed(ctx, p, cfg.Seeding, rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := booking.NewMachine(store, p)
	ex := executor.New(p, store, m, explain.New("", time.Second), cfg.Invites)
	b := stream.NewBroker(cfg.Broker.HistoryCapacity, cfg.Broker.SubscriberCapacity)
	logger := log.New(io.Discard, "", 0)
	engine := orchestrator.New(cfg, logger, p, store, m, ex, b, behavior.NewRegistry())

	mux := http.NewServeMux()
	NewServer(engine, b, store, logger).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		if engine.Status().Status != orchestrator.StatusStopped {
			_ = engine.Stop()
		}
		srv.Close()
	})
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv := testAPI(t)

	resp, body := post(t, srv, "/v1/simulation/start", `{"speed": 2, "scenario": "lunch_rush"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "running" || body["scenario"] != "lunch_rush" || body["speed"] != 2.0 {
		t.Fatalf("start response %v", body)
	}

	resp, body = post(t, srv, "/v1/simulation/start", `{}`)
	if resp.StatusCode != http.StatusConflict || body["code"] != protocol.ErrInvalidState {
		t.Fatalf("double start: %d %v", resp.StatusCode, body)
	}

	resp, body = post(t, srv, "/v1/simulation/pause", `{}`)
	if resp.StatusCode != http.StatusOK || body["status"] != "paused" {
		t.Fatalf("pause: %d %v", resp.StatusCode, body)
	}
	resp, body = post(t, srv, "/v1/simulation/resume", `{}`)
	if resp.StatusCode != http.StatusOK || body["status"] != "running" {
		t.Fatalf("resume: %d %v", resp.StatusCode, body)
	}
	resp, body = post(t, srv, "/v1/simulation/stop", `{}`)
	if resp.StatusCode != http.StatusOK || body["status"] != "stopped" {
		t.Fatalf("stop: %d %v", resp.StatusCode, body)
	}
	resp, _ = post(t, srv, "/v1/simulation/reset", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d", resp.StatusCode)
	}
}

func TestStartValidationOverHTTP(t *testing.T) {
	srv := testAPI(t)

	resp, body := post(t, srv, "/v1/simulation/start", `{"speed": 500}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != protocol.ErrValidation {
		t.Fatalf("excess speed: %d %v", resp.StatusCode, body)
	}
	resp, body = post(t, srv, "/v1/simulation/start", `{"scenario": "nope"}`)
	if resp.StatusCode != http.StatusNotFound || body["code"] != protocol.ErrNotFound {
		t.Fatalf("unknown scenario: %d %v", resp.StatusCode, body)
	}
	resp, _ = post(t, srv, "/v1/simulation/start", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status %d", resp.StatusCode)
	}
}

func TestSpeedAndScenarioEndpoints(t *testing.T) {
	srv := testAPI(t)
	post(t, srv, "/v1/simulation/start", `{}`)

	resp, body := post(t, srv, "/v1/simulation/speed", `{"speed": 10}`)
	if resp.StatusCode != http.StatusOK || body["speed"] != 10.0 {
		t.Fatalf("speed: %d %v", resp.StatusCode, body)
	}
	resp, _ = post(t, srv, "/v1/simulation/speed", `{"speed": -1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative speed status %d", resp.StatusCode)
	}

	resp, body = post(t, srv, "/v1/simulation/scenario", `{"scenario": "friday_night"}`)
	if resp.StatusCode != http.StatusOK || body["scenario"] != "friday_night" {
		t.Fatalf("scenario: %d %v", resp.StatusCode, body)
	}
}

func TestScenarioRegistryEndpoints(t *testing.T) {
	srv := testAPI(t)

	resp, body := get(t, srv, "/v1/simulation/scenarios")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	names, ok := body["scenarios"].([]any)
	if !ok || len(names) != 6 {
		t.Fatalf("scenario list %v", body)
	}

	resp, body = post(t, srv, "/v1/simulation/scenarios",
		`{"name": "date_night", "description": "romance surge", "modifiers": {"send_invite": 1.8}}`)
	if resp.StatusCode != http.StatusCreated || body["name"] != "date_night" {
		t.Fatalf("register: %d %v", resp.StatusCode, body)
	}

	resp, body = post(t, srv, "/v1/simulation/scenarios", `{"name": "Bad Name", "modifiers": {}}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != protocol.ErrValidation {
		t.Fatalf("bad register: %d %v", resp.StatusCode, body)
	}

	// The registered scenario is usable immediately.
	resp, _ = post(t, srv, "/v1/simulation/start", `{"scenario": "date_night"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start with custom scenario status %d", resp.StatusCode)
	}
}

func TestSpawnAndBehaviorEndpoints(t *testing.T) {
	srv := testAPI(t)
	post(t, srv, "/v1/simulation/start", `{}`)

	resp, body := post(t, srv, "/v1/simulation/spawn", `{"count": 3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("spawn: %d %v", resp.StatusCode, body)
	}
	ids, ok := body["user_ids"].([]any)
	if !ok || len(ids) != 3 {
		t.Fatalf("spawn ids %v", body)
	}

	resp, _ = post(t, srv, "/v1/simulation/spawn", `{"count": 0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero spawn status %d", resp.StatusCode)
	}

	resp, _ = post(t, srv, "/v1/simulation/behavior", `{"factors": {"browse": 2}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("behavior status %d", resp.StatusCode)
	}
	resp, body = post(t, srv, "/v1/simulation/behavior", `{"factors": {"teleport": 2}}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != protocol.ErrValidation {
		t.Fatalf("bad behavior: %d %v", resp.StatusCode, body)
	}
}

func TestUserEndpoint(t *testing.T) {
	srv := testAPI(t)

	resp, body := get(t, srv, "/v1/users/u001")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user status %d body %v", resp.StatusCode, body)
	}
	if body["id"] != "u001" || body["persona"] == "" {
		t.Fatalf("user body %v", body)
	}

	resp, body = get(t, srv, "/v1/users/u999")
	if resp.StatusCode != http.StatusNotFound || body["code"] != protocol.ErrNotFound {
		t.Fatalf("missing user: %d %v", resp.StatusCode, body)
	}
}

func TestStatusAndHistoryEndpoints(t *testing.T) {
	srv := testAPI(t)

	resp, body := get(t, srv, "/v1/simulation/status")
	if resp.StatusCode != http.StatusOK || body["status"] != "stopped" {
		t.Fatalf("status: %d %v", resp.StatusCode, body)
	}

	post(t, srv, "/v1/simulation/start", `{}`)

	resp, body = get(t, srv, "/v1/history?channel=simulation_control")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status %d", resp.StatusCode)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 {
		t.Fatalf("history events %v", body["events"])
	}
	first, _ := events[0].(map[string]any)
	if first["event_type"] != protocol.EventSimulationStarted {
		t.Fatalf("first control event %v", first)
	}

	resp, body = get(t, srv, "/v1/history")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing channel status %d", resp.StatusCode)
	}
	resp, body = get(t, srv, "/v1/history?channel=bogus")
	if resp.StatusCode != http.StatusBadRequest || body["code"] != protocol.ErrValidation {
		t.Fatalf("bogus channel: %d %v", resp.StatusCode, body)
	}
	resp, _ = get(t, srv, "/v1/history?channel=bookings&limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", resp.StatusCode)
	}
}
