// Package httpapi exposes the simulation control surface: start, pause,
// resume, stop, reset, speed, scenario and behavior changes, spawning,
// status, and event history.
package httpapi

import (
	"log"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/orchestrator"
	"luna.social/internal/stream"
)

var json = jsoniter.ConfigFastest

type Server struct {
	engine *orchestrator.Engine
	broker *stream.Broker
	store  repo.Repository
	log    *log.Logger
}

func NewServer(e *orchestrator.Engine, b *stream.Broker, store repo.Repository, logger *log.Logger) *Server {
	return &Server{engine: e, broker: b, store: store, log: logger}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/simulation/start", s.handleStart)
	mux.HandleFunc("POST /v1/simulation/pause", s.handlePause)
	mux.HandleFunc("POST /v1/simulation/resume", s.handleResume)
	mux.HandleFunc("POST /v1/simulation/stop", s.handleStop)
	mux.HandleFunc("POST /v1/simulation/reset", s.handleReset)
	mux.HandleFunc("POST /v1/simulation/speed", s.handleSpeed)
	mux.HandleFunc("POST /v1/simulation/scenario", s.handleScenario)
	mux.HandleFunc("GET /v1/simulation/scenarios", s.handleScenarioList)
	mux.HandleFunc("POST /v1/simulation/scenarios", s.handleScenarioRegister)
	mux.HandleFunc("POST /v1/simulation/spawn", s.handleSpawn)
	mux.HandleFunc("POST /v1/simulation/behavior", s.handleBehavior)
	mux.HandleFunc("POST /v1/simulation/autobook", s.handleAutoBook)
	mux.HandleFunc("GET /v1/simulation/status", s.handleStatus)
	mux.HandleFunc("GET /v1/users/{id}", s.handleUser)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
}

func (s *Server) handleStart(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed    float64 `json:"speed"`
		Scenario string  `json:"scenario"`
	}
	if !s.decode(rw, r, &req) {
		return
	}
	if req.Speed == 0 {
		req.Speed = 1
	}
	if err := s.engine.Start(r.Context(), req.Speed, req.Scenario); err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePause(rw http.ResponseWriter, r *http.Request) {
	s.control(rw, s.engine.Pause())
}

func (s *Server) handleResume(rw http.ResponseWriter, r *http.Request) {
	s.control(rw, s.engine.Resume())
}

func (s *Server) handleStop(rw http.ResponseWriter, r *http.Request) {
	s.control(rw, s.engine.Stop())
}

func (s *Server) handleReset(rw http.ResponseWriter, r *http.Request) {
	s.control(rw, s.engine.Reset())
}

func (s *Server) control(rw http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSpeed(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if !s.decode(rw, r, &req) {
		return
	}
	s.control(rw, s.engine.SetSpeed(req.Speed))
}

func (s *Server) handleScenario(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	if !s.decode(rw, r, &req) {
		return
	}
	s.control(rw, s.engine.TriggerScenario(req.Scenario))
}

func (s *Server) handleScenarioList(rw http.ResponseWriter, r *http.Request) {
	s.writeJSON(rw, http.StatusOK, map[string]any{
		"scenarios": s.engine.Scenarios().Names(),
	})
}

func (s *Server) handleScenarioRegister(rw http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if !s.decode(rw, r, &raw) {
		return
	}
	sc, err := s.engine.Scenarios().Register(raw)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusCreated, sc)
}

func (s *Server) handleSpawn(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if !s.decode(rw, r, &req) {
		return
	}
	ids, err := s.engine.SpawnAgents(r.Context(), req.Count)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, map[string]any{"user_ids": ids})
}

func (s *Server) handleBehavior(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Factors map[string]float64 `json:"factors"`
	}
	if !s.decode(rw, r, &req) {
		return
	}
	s.control(rw, s.engine.AdjustBehavior(req.Factors))
}

func (s *Server) handleAutoBook(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		VenueID string `json:"venue_id"`
	}
	if !s.decode(rw, r, &req) {
		return
	}
	events, err := s.engine.AutoBook(r.Context(), req.VenueID)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, map[string]any{"events": len(events)})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	s.writeJSON(rw, http.StatusOK, s.engine.Status())
}

func (s *Server) handleUser(rw http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, agent)
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		s.writeError(rw, protocol.Errorf(protocol.ErrValidation, "channel query parameter required"))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(rw, protocol.Errorf(protocol.ErrValidation, "bad limit %q", raw))
			return
		}
		limit = n
	}
	events, err := s.broker.History(channel, limit)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, map[string]any{
		"channel": channel,
		"events":  events,
	})
}

func (s *Server) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		s.writeError(rw, protocol.Errorf(protocol.ErrValidation, "empty body"))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(rw, protocol.Errorf(protocol.ErrValidation, "bad request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		s.log.Printf("write response: %v", err)
	}
}

func (s *Server) writeError(rw http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case protocol.ErrValidation:
		status = http.StatusBadRequest
	case protocol.ErrInvalidState, protocol.ErrCapacity:
		status = http.StatusConflict
	case protocol.ErrNotFound:
		status = http.StatusNotFound
	case protocol.ErrDependency:
		status = http.StatusBadGateway
	}
	s.writeJSON(rw, status, map[string]any{
		"error": err.Error(),
		"code":  code,
	})
}
