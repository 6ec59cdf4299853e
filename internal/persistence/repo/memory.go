package repo

import (
	"context"
	"sort"
	"sync"

	"luna.social/internal/model"
	"luna.social/internal/protocol"
)

// Memory is the in-process repository used by default. Safe for
// concurrent use.
type Memory struct {
	mu        sync.RWMutex
	agents    map[string]model.Agent
	venues    map[string]model.Venue
	bookings  map[string]model.Booking
	invites   map[string]model.BookingInvitation
	interests map[[2]string]model.VenueInterest
	edges     map[[2]string]model.SocialEdge
}

func NewMemory() *Memory {
	m := &Memory{}
	m.init()
	return m
}

func (m *Memory) init() {
	m.agents = map[string]model.Agent{}
	m.venues = map[string]model.Venue{}
	m.bookings = map[string]model.Booking{}
	m.invites = map[string]model.BookingInvitation{}
	m.interests = map[[2]string]model.VenueInterest{}
	m.edges = map[[2]string]model.SocialEdge{}
}

func (m *Memory) GetAgents(_ context.Context, f AgentFilter) ([]model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return model.Agent{}, protocol.Errorf(protocol.ErrNotFound, "agent %s", id)
	}
	return a, nil
}

func (m *Memory) SaveAgent(_ context.Context, a model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
	return nil
}

func (m *Memory) GetVenue(_ context.Context, id string) (model.Venue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.venues[id]
	if !ok {
		return model.Venue{}, protocol.Errorf(protocol.ErrNotFound, "venue %s", id)
	}
	return v, nil
}

func (m *Memory) ListVenues(_ context.Context) ([]model.Venue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Venue, 0, len(m.venues))
	for _, v := range m.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveVenue(_ context.Context, v model.Venue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.venues[v.ID] = v
	return nil
}

func (m *Memory) SaveBooking(_ context.Context, b model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) SaveInvitation(_ context.Context, inv model.BookingInvitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.ID] = inv
	return nil
}

func (m *Memory) UpsertVenueInterest(_ context.Context, vi model.VenueInterest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interests[[2]string{vi.AgentID, vi.VenueID}] = vi
	return nil
}

func (m *Memory) UpsertSocialEdge(_ context.Context, e model.SocialEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, b := model.EdgeKey(e.A, e.B)
	e.A, e.B = a, b
	m.edges[[2]string{a, b}] = e
	return nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return nil
}

func (m *Memory) Close() error { return nil }
