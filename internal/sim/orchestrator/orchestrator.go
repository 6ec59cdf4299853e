// Package orchestrator drives the simulation: it owns the run state
// machine, the simulated clock, the per-tick agent fan-out, and the
// metrics counters, and publishes everything through the broker.
package orchestrator

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"luna.social/internal/model"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/behavior"
	"luna.social/internal/sim/booking"
	"luna.social/internal/sim/environment"
	"luna.social/internal/sim/executor"
	"luna.social/internal/sim/pool"
	"luna.social/internal/sim/scoring"
	"luna.social/internal/sim/temporal"
	"luna.social/internal/sim/tuning"
	"luna.social/internal/stream"
)

type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Metrics are cumulative counters for the current run. Reset zeroes them.
type Metrics struct {
	Tick              uint64 `json:"tick"`
	EventsGenerated   uint64 `json:"events_generated"`
	BookingsCreated   uint64 `json:"bookings_created"`
	BookingsConfirmed uint64 `json:"bookings_confirmed"`
	BookingsFailed    uint64 `json:"bookings_failed"`
	InvitesSent       uint64 `json:"invites_sent"`
	InvitesAnswered   uint64 `json:"invites_answered"`
	ActionErrors      uint64 `json:"action_errors"`
	ActiveAgents      int    `json:"active_agents"`
}

// Snapshot is the externally visible run state.
type Snapshot struct {
	Status         Status    `json:"status"`
	Scenario       string    `json:"scenario"`
	Speed          float64   `json:"speed"`
	SimulationTime time.Time `json:"simulation_time"`
	Metrics        Metrics   `json:"metrics"`
}

const maxSpeed = 100

type Engine struct {
	cfg       tuning.Tuning
	logger    *log.Logger
	pool      *pool.Pool
	repo      repo.Repository
	machine   *booking.Machine
	exec      *executor.Executor
	broker    *stream.Broker
	scenarios *behavior.Registry

	mu        sync.Mutex
	status    Status
	speed     float64
	scenario  behavior.Scenario
	simTime   time.Time
	rng       *rand.Rand
	activeIDs []string
	metrics   Metrics
	envMods   map[string]float64
	overrides map[string]float64 // behavior adjustments, multiply base weights

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg tuning.Tuning, logger *log.Logger, p *pool.Pool, r repo.Repository, m *booking.Machine, ex *executor.Executor, b *stream.Broker, reg *behavior.Registry) *Engine {
	sc, _ := reg.Get("normal")
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		pool:      p,
		repo:      r,
		machine:   m,
		exec:      ex,
		broker:    b,
		scenarios: reg,
		status:    StatusStopped,
		speed:     1,
		scenario:  sc,
		overrides: map[string]float64{},
	}
}

// Start moves stopped -> running, picks this run's active agent subset,
// and launches the tick loop.
func (e *Engine) Start(ctx context.Context, speed float64, scenarioName string) error {
	if speed <= 0 || speed > maxSpeed {
		return protocol.Errorf(protocol.ErrValidation, "speed %v out of range (0, %d]", speed, maxSpeed)
	}
	if scenarioName == "" {
		scenarioName = "normal"
	}
	sc, ok := e.scenarios.Get(scenarioName)
	if !ok {
		return protocol.Errorf(protocol.ErrNotFound, "scenario %q", scenarioName)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusStopped {
		return protocol.Errorf(protocol.ErrInvalidState, "cannot start while %s", e.status)
	}

	if e.pool.Size() == 0 {
		if err := e.pool.Load(ctx); err != nil {
			return err
		}
	}

	e.rng = rand.New(rand.NewSource(e.cfg.Seed))
	e.speed = speed
	e.scenario = sc
	e.simTime = time.Now().UTC()
	e.metrics = Metrics{}
	e.envMods = nil
	e.activeIDs = e.pickActive()
	e.metrics.ActiveAgents = len(e.activeIDs)
	e.status = StatusRunning

	ev := protocol.NewEvent(protocol.EventSimulationStarted, protocol.ChannelSimulationControl, e.simTime)
	ev.Payload["speed"] = speed
	ev.Payload["scenario"] = sc.Name
	ev.Payload["active_agents"] = len(e.activeIDs)
	e.publishLocked(ev)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	go e.run(loopCtx, done)

	e.logger.Printf("started speed=%v scenario=%s agents=%d", speed, sc.Name, len(e.activeIDs))
	return nil
}

// pickActive samples the configured fraction of active agents for this
// run. Caller holds e.mu.
func (e *Engine) pickActive() []string {
	ids := e.pool.AgentIDs(true)
	n := int(float64(len(ids)) * e.cfg.ActiveAgentFraction)
	if n < 1 && len(ids) > 0 {
		n = 1
	}
	e.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	sel := ids[:n]
	// Stable execution order within the tick.
	sort.Strings(sel)
	return sel
}

// run owns no Engine state besides the mutex-guarded step; done is
// passed in because Stop nils the field before the loop exits.
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.status == StatusRunning {
				e.step(ctx)
			}
			e.mu.Unlock()
		}
	}
}

// StepOnce advances the simulation by a single tick with the same
// semantics as the background loop. Intended for deterministic tests.
func (e *Engine) StepOnce(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return protocol.Errorf(protocol.ErrInvalidState, "cannot step while %s", e.status)
	}
	e.step(ctx)
	return nil
}

// step runs one tick. Caller holds e.mu and has checked the status.
func (e *Engine) step(ctx context.Context) {
	eventsBefore := e.metrics.EventsGenerated
	e.metrics.Tick++
	e.simTime = e.simTime.Add(time.Duration(e.cfg.BaseTickSec * e.speed * float64(time.Second)))

	tctx := temporal.At(e.simTime)
	tmods := temporal.Modifiers(tctx)

	if e.envMods == nil || (e.cfg.EnvironmentEveryTicks > 0 && e.metrics.Tick%uint64(e.cfg.EnvironmentEveryTicks) == 0) {
		e.refreshEnvironment()
	}

	// Sample every action with the master rng before fanning out so the
	// draw sequence is independent of goroutine scheduling.
	type job struct {
		agentID string
		action  behavior.Action
		seed    int64
	}
	jobs := make([]job, 0, len(e.activeIDs))
	for i, id := range e.activeIDs {
		agent, ok := e.pool.Agent(id)
		if !ok || !agent.Active {
			continue
		}
		weights := behavior.Weights(e.baseWeights(), agent.Persona, e.scenario.Modifiers, tmods, e.envMods)
		mask := func(a behavior.Action) bool {
			if a == behavior.ActionRespondInvite {
				return e.pool.HasPending(id)
			}
			return true
		}
		action := behavior.Sample(e.rng, weights, mask)
		jobs = append(jobs, job{
			agentID: id,
			action:  action,
			seed:    e.cfg.Seed ^ int64(e.metrics.Tick)<<20 ^ int64(i),
		})
	}

	// One agent's failure never aborts the tick for the others; errors
	// are collected per job and reported after the fan-in.
	results := make([][]protocol.Event, len(jobs))
	errs := make([]error, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			evs, err := e.exec.Execute(gctx, j.agentID, j.action, rand.New(rand.NewSource(j.seed)), e.simTime)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		e.metrics.ActionErrors++
		e.logger.Printf("tick %d agent %s: %v", e.metrics.Tick, jobs[i].agentID, err)
		ev := protocol.NewEvent(protocol.EventSimulationError, protocol.ChannelSimulationControl, e.simTime)
		ev.UserID = jobs[i].agentID
		ev.Payload["error"] = err.Error()
		ev.Payload["code"] = protocol.CodeOf(err)
		e.publishLocked(ev)
	}

	for _, evs := range results {
		for _, ev := range evs {
			e.publishLocked(ev)
		}
	}

	if n := uint64(e.cfg.MetricsEveryEvents); n > 0 && e.metrics.EventsGenerated/n != eventsBefore/n {
		e.publishMetricsLocked()
	}
}

// refreshEnvironment recomputes the environmental context at the city
// center and publishes it. Caller holds e.mu.
func (e *Engine) refreshEnvironment() {
	center := model.LatLon{Lat: e.cfg.Seeding.CityCenterLat, Lon: e.cfg.Seeding.CityCenterLon}
	env := environment.At(center, e.simTime)
	e.envMods = environment.Modifiers(env)

	ev := protocol.NewEvent(protocol.EventEnvironmentUpdate, protocol.ChannelEnvironmental, e.simTime)
	ev.Payload["weather"] = env.Weather
	ev.Payload["traffic"] = env.Traffic
	ev.Payload["special_events"] = env.Events
	e.publishLocked(ev)
}

// baseWeights applies runtime behavior adjustments over the configured
// base table. Caller holds e.mu.
func (e *Engine) baseWeights() map[string]float64 {
	if len(e.overrides) == 0 {
		return e.cfg.Weights
	}
	out := make(map[string]float64, len(e.cfg.Weights))
	for k, v := range e.cfg.Weights {
		out[k] = v
		if f, ok := e.overrides[k]; ok {
			out[k] = v * f
		}
	}
	return out
}

// publishLocked pushes an event and bumps counters. Caller holds e.mu.
func (e *Engine) publishLocked(ev protocol.Event) {
	if _, err := e.broker.Publish(ev); err != nil {
		e.logger.Printf("publish %s: %v", ev.EventType, err)
		return
	}
	e.metrics.EventsGenerated++
	switch ev.EventType {
	case protocol.EventBookingCreated:
		e.metrics.BookingsCreated++
	case protocol.EventBookingConfirmed:
		e.metrics.BookingsConfirmed++
	case protocol.EventBookingFailed:
		e.metrics.BookingsFailed++
	case protocol.EventInviteSent:
		e.metrics.InvitesSent++
	case protocol.EventInviteResponse:
		e.metrics.InvitesAnswered++
	}
}

func (e *Engine) publishMetricsLocked() {
	ev := protocol.NewEvent(protocol.EventMetricsUpdate, protocol.ChannelSystemMetrics, e.simTime)
	ev.Payload["tick"] = e.metrics.Tick
	ev.Payload["events_generated"] = e.metrics.EventsGenerated
	ev.Payload["bookings_created"] = e.metrics.BookingsCreated
	ev.Payload["bookings_confirmed"] = e.metrics.BookingsConfirmed
	ev.Payload["bookings_failed"] = e.metrics.BookingsFailed
	ev.Payload["invites_sent"] = e.metrics.InvitesSent
	ev.Payload["invites_answered"] = e.metrics.InvitesAnswered
	ev.Payload["action_errors"] = e.metrics.ActionErrors
	ev.Payload["active_agents"] = e.metrics.ActiveAgents
	e.publishLocked(ev)
}

// Pause freezes the simulated clock. Only a running simulation pauses.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return protocol.Errorf(protocol.ErrInvalidState, "cannot pause while %s", e.status)
	}
	e.status = StatusPaused
	ev := protocol.NewEvent(protocol.EventSimulationPaused, protocol.ChannelSimulationControl, e.simTime)
	e.publishLocked(ev)
	e.logger.Printf("paused at tick %d", e.metrics.Tick)
	return nil
}

// Resume continues from exactly the paused simulated time.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaused {
		return protocol.Errorf(protocol.ErrInvalidState, "cannot resume while %s", e.status)
	}
	e.status = StatusRunning
	ev := protocol.NewEvent(protocol.EventSimulationResumed, protocol.ChannelSimulationControl, e.simTime)
	e.publishLocked(ev)
	return nil
}

// Stop halts the tick loop. Valid from running or paused.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.status == StatusStopped {
		e.mu.Unlock()
		return protocol.Errorf(protocol.ErrInvalidState, "already stopped")
	}
	e.status = StatusStopped
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	ev := protocol.NewEvent(protocol.EventSimulationStopped, protocol.ChannelSimulationControl, e.simTime)
	ev.Payload["final_tick"] = e.metrics.Tick
	e.publishLocked(ev)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.logger.Printf("stopped")
	return nil
}

// Reset wipes the run: metrics, broker history, pool state, in-flight
// bookings. Only valid while stopped; resetting twice is a no-op.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusStopped {
		return protocol.Errorf(protocol.ErrInvalidState, "cannot reset while %s", e.status)
	}
	e.metrics = Metrics{}
	e.activeIDs = nil
	e.envMods = nil
	e.overrides = map[string]float64{}
	e.speed = 1
	e.scenario, _ = e.scenarios.Get("normal")
	e.pool.Clear()
	e.machine.Clear()
	e.broker.Clear()

	ev := protocol.NewEvent(protocol.EventSimulationReset, protocol.ChannelSimulationControl, time.Now().UTC())
	e.publishLocked(ev)
	e.metrics = Metrics{} // reset event itself does not count
	return nil
}

// SetSpeed changes the simulated seconds advanced per tick. Takes effect
// on the next tick.
func (e *Engine) SetSpeed(speed float64) error {
	if speed <= 0 || speed > maxSpeed {
		return protocol.Errorf(protocol.ErrValidation, "speed %v out of range (0, %d]", speed, maxSpeed)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
	return nil
}

// TriggerScenario switches the active scenario mid-run.
func (e *Engine) TriggerScenario(name string) error {
	sc, ok := e.scenarios.Get(name)
	if !ok {
		return protocol.Errorf(protocol.ErrNotFound, "scenario %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenario = sc
	ev := protocol.NewEvent(protocol.EventScenarioTriggered, protocol.ChannelSimulationControl, e.simTime)
	ev.Payload["scenario"] = sc.Name
	ev.Payload["modifiers"] = sc.Modifiers
	e.publishLocked(ev)
	e.logger.Printf("scenario -> %s", sc.Name)
	return nil
}

// SpawnAgents adds count generated agents to the pool mid-run. New
// agents join the active set immediately.
func (e *Engine) SpawnAgents(ctx context.Context, count int) ([]string, error) {
	if count <= 0 || count > 1000 {
		return nil, protocol.Errorf(protocol.ErrValidation, "count %d out of range [1, 1000]", count)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rng := e.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(e.cfg.Seed))
	}
	ids, err := pool.SpawnGenerated(ctx, e.pool, e.cfg.Seeding, count, rng)
	if err != nil {
		return nil, err
	}
	e.activeIDs = append(e.activeIDs, ids...)
	sort.Strings(e.activeIDs)
	e.metrics.ActiveAgents = len(e.activeIDs)

	ev := protocol.NewEvent(protocol.EventUsersSpawned, protocol.ChannelSimulationControl, e.simTime)
	ev.Payload["count"] = len(ids)
	ev.Payload["user_ids"] = ids
	e.publishLocked(ev)
	return ids, nil
}

// AdjustBehavior scales base action weights at runtime. Factors multiply
// the configured weights; unknown action names are rejected.
func (e *Engine) AdjustBehavior(factors map[string]float64) error {
	for name, f := range factors {
		known := false
		for _, a := range behavior.Actions {
			if string(a) == name {
				known = true
				break
			}
		}
		if !known {
			return protocol.Errorf(protocol.ErrValidation, "unknown action %q", name)
		}
		if f < 0 {
			return protocol.Errorf(protocol.ErrValidation, "factor for %q must be >= 0", name)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range factors {
		e.overrides[k] = v
	}
	ev := protocol.NewEvent(protocol.EventBehaviorAdjusted, protocol.ChannelSimulationControl, e.simTime)
	ev.Payload["factors"] = factors
	e.publishLocked(ev)
	return nil
}

// AutoBook pairs mutually interested agents at a venue and books tables
// for them.
func (e *Engine) AutoBook(ctx context.Context, venueID string) ([]protocol.Event, error) {
	compat := func(a, b string) float64 {
		agentA, okA := e.pool.Agent(a)
		agentB, okB := e.pool.Agent(b)
		if !okA || !okB {
			return 0
		}
		in := scoring.CompatibilityInput{VenueGiven: true, MutualInterest: true}
		if edge, ok := e.pool.Edge(a, b); ok {
			in.EdgeCompatibility = edge.Compatibility
		}
		return scoring.ScoreCompatibility(agentA, agentB, in)
	}

	e.mu.Lock()
	simTime := e.simTime
	if simTime.IsZero() {
		simTime = time.Now().UTC()
	}
	e.mu.Unlock()

	events, err := e.machine.AutoBookInterestedUsers(ctx, venueID, compat, simTime)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	for _, ev := range events {
		e.publishLocked(ev)
	}
	e.mu.Unlock()
	return events, nil
}

func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Status:         e.status,
		Scenario:       e.scenario.Name,
		Speed:          e.speed,
		SimulationTime: e.simTime,
		Metrics:        e.metrics,
	}
}

func (e *Engine) Scenarios() *behavior.Registry { return e.scenarios }
