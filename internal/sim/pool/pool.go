// Package pool owns the active agent set, the social graph, venue
// interests, and the pending-invitation index shared by concurrently
// executing per-agent actions. Mutations are synchronized per entity so
// two actions touching the same agent or edge cannot lose updates.
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"luna.social/internal/model"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
)

// PendingInvite is an invitation awaiting a response from InviteeID.
// BookingID is empty for casual (non-booking) invites.
type PendingInvite struct {
	ID        string
	BookingID string
	InviterID string
	InviteeID string
	VenueID   string
	SentAt    time.Time
}

type agentSlot struct {
	mu sync.Mutex
	a  model.Agent
}

type edgeSlot struct {
	mu sync.Mutex
	e  model.SocialEdge
}

type Pool struct {
	repo repo.Repository

	mu      sync.RWMutex // guards the maps, not the slot contents
	agents  map[string]*agentSlot
	edges   map[[2]string]*edgeSlot
	friends map[string]map[string]struct{}

	imu       sync.Mutex
	interests map[[2]string]model.VenueInterest

	pmu     sync.Mutex
	pending map[string][]PendingInvite
}

func New(r repo.Repository) *Pool {
	p := &Pool{repo: r}
	p.reset()
	return p
}

func (p *Pool) reset() {
	p.agents = map[string]*agentSlot{}
	p.edges = map[[2]string]*edgeSlot{}
	p.friends = map[string]map[string]struct{}{}
	p.interests = map[[2]string]model.VenueInterest{}
	p.pending = map[string][]PendingInvite{}
}

// Load populates the pool from the repository.
func (p *Pool) Load(ctx context.Context) error {
	agents, err := p.repo.GetAgents(ctx, repo.AgentFilter{})
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range agents {
		p.agents[a.ID] = &agentSlot{a: a}
	}
	return nil
}

// Clear empties all in-memory state. Repository contents are untouched;
// the next Load restores them.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.imu.Lock()
	p.pmu.Lock()
	p.reset()
	p.pmu.Unlock()
	p.imu.Unlock()
	p.mu.Unlock()
}

// Spawn adds new agents to the pool and persists them.
func (p *Pool) Spawn(ctx context.Context, agents []model.Agent) error {
	for _, a := range agents {
		if err := p.repo.SaveAgent(ctx, a); err != nil {
			return err
		}
		p.mu.Lock()
		p.agents[a.ID] = &agentSlot{a: a}
		p.mu.Unlock()
	}
	return nil
}

// AgentIDs returns agent identities in sorted order; the orchestrator
// relies on this for a stable intra-tick iteration order.
func (p *Pool) AgentIDs(activeOnly bool) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.agents))
	for id, slot := range p.agents {
		if activeOnly {
			slot.mu.Lock()
			active := slot.a.Active
			slot.mu.Unlock()
			if !active {
				continue
			}
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) Agent(id string) (model.Agent, bool) {
	p.mu.RLock()
	slot := p.agents[id]
	p.mu.RUnlock()
	if slot == nil {
		return model.Agent{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.a, true
}

// Update mutates one agent under its own lock and persists the result.
func (p *Pool) Update(ctx context.Context, id string, fn func(*model.Agent)) (model.Agent, error) {
	p.mu.RLock()
	slot := p.agents[id]
	p.mu.RUnlock()
	if slot == nil {
		return model.Agent{}, protocol.Errorf(protocol.ErrNotFound, "agent %s", id)
	}
	slot.mu.Lock()
	fn(&slot.a)
	a := slot.a
	slot.mu.Unlock()
	return a, p.repo.SaveAgent(ctx, a)
}

func (p *Pool) Deactivate(ctx context.Context, id string) error {
	_, err := p.Update(ctx, id, func(a *model.Agent) { a.Active = false })
	return err
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// Friends returns the sorted neighbor set of an agent.
func (p *Pool) Friends(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.friends[id]
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) Edge(a, b string) (model.SocialEdge, bool) {
	ka, kb := model.EdgeKey(a, b)
	p.mu.RLock()
	slot := p.edges[[2]string{ka, kb}]
	p.mu.RUnlock()
	if slot == nil {
		return model.SocialEdge{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.e, true
}

// PutEdge inserts or replaces an edge (seed path).
func (p *Pool) PutEdge(ctx context.Context, e model.SocialEdge) error {
	e.A, e.B = model.EdgeKey(e.A, e.B)
	p.mu.Lock()
	p.edges[[2]string{e.A, e.B}] = &edgeSlot{e: e}
	p.link(e.A, e.B)
	p.mu.Unlock()
	return p.repo.UpsertSocialEdge(ctx, e)
}

// StrengthenEdge bumps compatibility by delta (clamped to [0,1]) and the
// interaction counter, creating the edge at 0.5 compatibility if absent.
func (p *Pool) StrengthenEdge(ctx context.Context, a, b string, delta float64) (model.SocialEdge, error) {
	ka, kb := model.EdgeKey(a, b)
	key := [2]string{ka, kb}

	p.mu.Lock()
	slot := p.edges[key]
	if slot == nil {
		slot = &edgeSlot{e: model.SocialEdge{A: ka, B: kb, Compatibility: 0.5}}
		p.edges[key] = slot
		p.link(ka, kb)
	}
	p.mu.Unlock()

	slot.mu.Lock()
	slot.e.Compatibility = model.Clamp01(slot.e.Compatibility + delta)
	slot.e.Interactions++
	e := slot.e
	slot.mu.Unlock()
	return e, p.repo.UpsertSocialEdge(ctx, e)
}

// link records adjacency; caller holds p.mu.
func (p *Pool) link(a, b string) {
	if p.friends[a] == nil {
		p.friends[a] = map[string]struct{}{}
	}
	if p.friends[b] == nil {
		p.friends[b] = map[string]struct{}{}
	}
	p.friends[a][b] = struct{}{}
	p.friends[b][a] = struct{}{}
}

func (p *Pool) UpsertInterest(ctx context.Context, vi model.VenueInterest) error {
	vi.Score = model.Clamp01(vi.Score)
	p.imu.Lock()
	p.interests[[2]string{vi.AgentID, vi.VenueID}] = vi
	p.imu.Unlock()
	return p.repo.UpsertVenueInterest(ctx, vi)
}

func (p *Pool) Interest(agentID, venueID string) (model.VenueInterest, bool) {
	p.imu.Lock()
	defer p.imu.Unlock()
	vi, ok := p.interests[[2]string{agentID, venueID}]
	return vi, ok
}

// InterestsOf returns an agent's interests, most interesting first.
func (p *Pool) InterestsOf(agentID string) []model.VenueInterest {
	p.imu.Lock()
	defer p.imu.Unlock()
	var out []model.VenueInterest
	for k, vi := range p.interests {
		if k[0] == agentID {
			out = append(out, vi)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].VenueID < out[j].VenueID
	})
	return out
}

// OpenInterests lists agents with explicit, open-to-invites interest in
// the venue, sorted by agent ID for determinism.
func (p *Pool) OpenInterests(venueID string) []model.VenueInterest {
	p.imu.Lock()
	defer p.imu.Unlock()
	var out []model.VenueInterest
	for k, vi := range p.interests {
		if k[1] == venueID && vi.Explicit && vi.OpenToInvites {
			out = append(out, vi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// FriendInterestFraction is the scorer's social signal: the fraction of
// the agent's friends holding any interest in the venue.
func (p *Pool) FriendInterestFraction(agentID, venueID string) float64 {
	friends := p.Friends(agentID)
	if len(friends) == 0 {
		return 0
	}
	n := 0
	p.imu.Lock()
	for _, f := range friends {
		if _, ok := p.interests[[2]string{f, venueID}]; ok {
			n++
		}
	}
	p.imu.Unlock()
	return float64(n) / float64(len(friends))
}

func (p *Pool) AddPending(inv PendingInvite) {
	p.pmu.Lock()
	p.pending[inv.InviteeID] = append(p.pending[inv.InviteeID], inv)
	p.pmu.Unlock()
}

func (p *Pool) HasPending(agentID string) bool {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return len(p.pending[agentID]) > 0
}

// PopPending removes and returns the oldest pending invite for an agent.
func (p *Pool) PopPending(agentID string) (PendingInvite, bool) {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	q := p.pending[agentID]
	if len(q) == 0 {
		return PendingInvite{}, false
	}
	inv := q[0]
	p.pending[agentID] = q[1:]
	return inv, true
}
