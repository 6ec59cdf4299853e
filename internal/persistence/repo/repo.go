// Package repo defines the storage contract the simulation consumes and
// its in-memory and SQLite-backed implementations. Every lookup of a
// missing record returns an E_NOT_FOUND protocol error, never a zero
// value with nil error.
package repo

import (
	"context"

	"luna.social/internal/model"
)

// AgentFilter narrows GetAgents. The zero value matches everything.
type AgentFilter struct {
	OnlyActive bool
	Persona    model.Persona
}

func (f AgentFilter) matches(a model.Agent) bool {
	if f.OnlyActive && !a.Active {
		return false
	}
	if f.Persona != "" && a.Persona != f.Persona {
		return false
	}
	return true
}

type Repository interface {
	GetAgents(ctx context.Context, f AgentFilter) ([]model.Agent, error)
	GetAgent(ctx context.Context, id string) (model.Agent, error)
	SaveAgent(ctx context.Context, a model.Agent) error

	GetVenue(ctx context.Context, id string) (model.Venue, error)
	ListVenues(ctx context.Context) ([]model.Venue, error)
	SaveVenue(ctx context.Context, v model.Venue) error

	SaveBooking(ctx context.Context, b model.Booking) error
	SaveInvitation(ctx context.Context, inv model.BookingInvitation) error
	UpsertVenueInterest(ctx context.Context, vi model.VenueInterest) error
	UpsertSocialEdge(ctx context.Context, e model.SocialEdge) error

	// Reset drops every stored record. The engine's reset keeps the
	// store so a restart reloads the same world; this is for wiping
	// the backing store outright.
	Reset(ctx context.Context) error

	Close() error
}
