// Package booking runs reservations through an explicit pipeline:
// validate the venue, schedule a slot, create the pending booking, fan
// out invitations, and confirm once every invitee has answered. Failures
// during validation or scheduling are terminal and carry a reason.
package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"luna.social/internal/model"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/pool"
	"luna.social/internal/sim/temporal"
)

// Failure reasons reported on booking_failed events.
const (
	ReasonVenueNotFound      = "venue_not_found"
	ReasonReservationsClosed = "reservations_closed"
	ReasonOverCapacity       = "over_capacity"
)

const maxGroupSize = 4

// Request asks for a reservation. A zero Time is resolved to the next
// sensible meal slot. InviteeIDs beyond the group limit are dropped.
type Request struct {
	AgentID    string
	VenueID    string
	PartySize  int
	Time       time.Time
	InviteeIDs []string
}

// flight tracks a created booking whose invitations are outstanding.
type flight struct {
	booking model.Booking
	waiting int
}

type Machine struct {
	repo repo.Repository
	pool *pool.Pool

	mu      sync.Mutex
	flights map[string]*flight

	codeMu sync.Mutex
	used   map[string]struct{}
}

func NewMachine(r repo.Repository, p *pool.Pool) *Machine {
	return &Machine{
		repo:    r,
		pool:    p,
		flights: map[string]*flight{},
		used:    map[string]struct{}{},
	}
}

// Book drives a request through the pipeline and returns the events it
// produced. A failed booking is persisted with its reason and yields a
// booking_failed event; it is not an error.
func (m *Machine) Book(ctx context.Context, req Request, simTime time.Time) ([]protocol.Event, model.Booking, error) {
	if req.PartySize <= 0 {
		req.PartySize = 1 + len(req.InviteeIDs)
	}
	if req.PartySize > maxGroupSize {
		req.PartySize = maxGroupSize
	}
	if len(req.InviteeIDs) > maxGroupSize-1 {
		req.InviteeIDs = req.InviteeIDs[:maxGroupSize-1]
	}

	b := model.Booking{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		VenueID:   req.VenueID,
		PartySize: req.PartySize,
		CreatedAt: simTime,
	}

	// Validation.
	venue, err := m.repo.GetVenue(ctx, req.VenueID)
	if err != nil {
		if protocol.IsCode(err, protocol.ErrNotFound) {
			return m.fail(ctx, b, ReasonVenueNotFound, simTime)
		}
		return nil, b, err
	}
	if !venue.AcceptsReservations {
		return m.fail(ctx, b, ReasonReservationsClosed, simTime)
	}
	if venue.CurrentOccupancy+req.PartySize > venue.Capacity {
		return m.fail(ctx, b, ReasonOverCapacity, simTime)
	}

	// Scheduling.
	b.Time = req.Time
	if b.Time.IsZero() {
		b.Time = temporal.DefaultSlot(simTime)
	}

	// Creation.
	b.Status = model.BookingPending
	b.ConfirmationCode = m.newCode()
	b.GroupMembers = []string{req.AgentID}
	if err := m.repo.SaveBooking(ctx, b); err != nil {
		return nil, b, err
	}

	ev := protocol.NewEvent(protocol.EventBookingCreated, protocol.ChannelBookings, simTime)
	ev.UserID = b.AgentID
	ev.VenueID = b.VenueID
	ev.BookingID = b.ID
	ev.Payload["party_size"] = b.PartySize
	ev.Payload["booking_time"] = b.Time.Format(time.RFC3339)
	ev.Payload["confirmation_code"] = b.ConfirmationCode
	events := []protocol.Event{ev}

	// Inviting. With no invitees the booking confirms immediately.
	if len(req.InviteeIDs) == 0 {
		confirm, err := m.confirm(ctx, b, simTime)
		if err != nil {
			return nil, b, err
		}
		b.Status = model.BookingConfirmed
		return append(events, confirm...), b, nil
	}

	m.mu.Lock()
	m.flights[b.ID] = &flight{booking: b, waiting: len(req.InviteeIDs)}
	m.mu.Unlock()

	for _, invitee := range req.InviteeIDs {
		inv := model.BookingInvitation{
			ID:        uuid.NewString(),
			BookingID: b.ID,
			InviterID: req.AgentID,
			InviteeID: invitee,
			Status:    model.InvitePending,
			CreatedAt: simTime,
		}
		if err := m.repo.SaveInvitation(ctx, inv); err != nil {
			return nil, b, err
		}
		m.pool.AddPending(pool.PendingInvite{
			ID:        inv.ID,
			BookingID: b.ID,
			InviterID: req.AgentID,
			InviteeID: invitee,
			VenueID:   req.VenueID,
			SentAt:    simTime,
		})

		iev := protocol.NewEvent(protocol.EventInviteSent, protocol.ChannelSocialInteractions, simTime)
		iev.UserID = req.AgentID
		iev.VenueID = req.VenueID
		iev.BookingID = b.ID
		iev.Payload["invitee_id"] = invitee
		events = append(events, iev)
	}
	return events, b, nil
}

// RecordResponse settles one invitation. When the last outstanding
// invitation for a booking is answered, the booking confirms with
// whoever accepted.
func (m *Machine) RecordResponse(ctx context.Context, inv pool.PendingInvite, accepted bool, simTime time.Time) ([]protocol.Event, error) {
	status := model.InviteDeclined
	if accepted {
		status = model.InviteAccepted
	}
	if err := m.repo.SaveInvitation(ctx, model.BookingInvitation{
		ID:        inv.ID,
		BookingID: inv.BookingID,
		InviterID: inv.InviterID,
		InviteeID: inv.InviteeID,
		Status:    status,
		CreatedAt: inv.SentAt,
	}); err != nil {
		return nil, err
	}

	if inv.BookingID == "" {
		return nil, nil // casual invite, no booking to settle
	}

	m.mu.Lock()
	fl := m.flights[inv.BookingID]
	if fl == nil {
		m.mu.Unlock()
		return nil, nil
	}
	if accepted {
		fl.booking.GroupMembers = append(fl.booking.GroupMembers, inv.InviteeID)
	}
	fl.waiting--
	done := fl.waiting == 0
	b := fl.booking
	if done {
		delete(m.flights, inv.BookingID)
	}
	m.mu.Unlock()

	if !done {
		return nil, nil
	}
	b.PartySize = len(b.GroupMembers)
	return m.confirm(ctx, b, simTime)
}

func (m *Machine) confirm(ctx context.Context, b model.Booking, simTime time.Time) ([]protocol.Event, error) {
	b.Status = model.BookingConfirmed
	if err := m.repo.SaveBooking(ctx, b); err != nil {
		return nil, err
	}

	venue, err := m.repo.GetVenue(ctx, b.VenueID)
	if err == nil {
		venue.CurrentOccupancy += b.PartySize
		if venue.CurrentOccupancy > venue.Capacity {
			venue.CurrentOccupancy = venue.Capacity
		}
		if err := m.repo.SaveVenue(ctx, venue); err != nil {
			return nil, err
		}
	}

	ev := protocol.NewEvent(protocol.EventBookingConfirmed, protocol.ChannelBookings, simTime)
	ev.UserID = b.AgentID
	ev.VenueID = b.VenueID
	ev.BookingID = b.ID
	ev.Payload["party_size"] = b.PartySize
	ev.Payload["group_members"] = b.GroupMembers
	ev.Payload["confirmation_code"] = b.ConfirmationCode
	return []protocol.Event{ev}, nil
}

func (m *Machine) fail(ctx context.Context, b model.Booking, reason string, simTime time.Time) ([]protocol.Event, model.Booking, error) {
	b.Status = model.BookingFailed
	b.FailReason = reason
	if err := m.repo.SaveBooking(ctx, b); err != nil {
		return nil, b, err
	}
	ev := protocol.NewEvent(protocol.EventBookingFailed, protocol.ChannelBookings, simTime)
	ev.UserID = b.AgentID
	ev.VenueID = b.VenueID
	ev.BookingID = b.ID
	ev.Payload["reason"] = reason
	return []protocol.Event{ev}, b, nil
}

// Cancel aborts an in-flight booking that has not confirmed yet.
func (m *Machine) Cancel(ctx context.Context, bookingID string, simTime time.Time) error {
	m.mu.Lock()
	fl := m.flights[bookingID]
	if fl == nil {
		m.mu.Unlock()
		return protocol.Errorf(protocol.ErrNotFound, "booking %s not in flight", bookingID)
	}
	delete(m.flights, bookingID)
	b := fl.booking
	m.mu.Unlock()

	b.Status = model.BookingCancelled
	return m.repo.SaveBooking(ctx, b)
}

// InFlight reports the number of bookings awaiting invite responses.
func (m *Machine) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flights)
}

// Clear drops in-flight bookings and the code ledger after a reset.
func (m *Machine) Clear() {
	m.mu.Lock()
	m.flights = map[string]*flight{}
	m.mu.Unlock()
	m.codeMu.Lock()
	m.used = map[string]struct{}{}
	m.codeMu.Unlock()
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newCode derives an 8-character confirmation code from fresh UUID
// bytes, retrying on the rare collision so codes are unique per run.
func (m *Machine) newCode() string {
	m.codeMu.Lock()
	defer m.codeMu.Unlock()
	for {
		id := uuid.New()
		buf := make([]byte, 8)
		for i := range buf {
			buf[i] = codeAlphabet[int(id[i])%len(codeAlphabet)]
		}
		code := string(buf)
		if _, dup := m.used[code]; !dup {
			m.used[code] = struct{}{}
			return code
		}
	}
}

// AutoBookInterestedUsers pairs agents holding explicit, open interest
// in a venue by descending compatibility and books a table per pair.
// Each agent joins at most one pairing; ties break on agent ID order.
func (m *Machine) AutoBookInterestedUsers(ctx context.Context, venueID string, compat func(a, b string) float64, simTime time.Time) ([]protocol.Event, error) {
	interests := m.pool.OpenInterests(venueID)
	if len(interests) < 2 {
		return nil, nil
	}

	type pair struct {
		a, b  string
		score float64
	}
	var pairs []pair
	for i := 0; i < len(interests); i++ {
		for j := i + 1; j < len(interests); j++ {
			a, b := interests[i].AgentID, interests[j].AgentID
			pairs = append(pairs, pair{a: a, b: b, score: compat(a, b)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})

	var events []protocol.Event
	taken := map[string]struct{}{}
	for _, p := range pairs {
		if _, ok := taken[p.a]; ok {
			continue
		}
		if _, ok := taken[p.b]; ok {
			continue
		}
		taken[p.a] = struct{}{}
		taken[p.b] = struct{}{}

		evs, _, err := m.Book(ctx, Request{
			AgentID:    p.a,
			VenueID:    venueID,
			PartySize:  2,
			InviteeIDs: []string{p.b},
		}, simTime)
		if err != nil {
			return events, err
		}
		events = append(events, evs...)
	}
	return events, nil
}
