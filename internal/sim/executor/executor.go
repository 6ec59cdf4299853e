// Package executor carries out one sampled action for one agent and
// returns the events it produced. Actions whose preconditions do not
// hold (no friends to invite, no pending invitation to answer) degrade
// to idle rather than failing the tick.
package executor

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"luna.social/internal/explain"
	"luna.social/internal/model"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/behavior"
	"luna.social/internal/sim/booking"
	"luna.social/internal/sim/pool"
	"luna.social/internal/sim/scoring"
	"luna.social/internal/sim/tuning"
)

// Preference drift per experience. A single step never exceeds maxDrift.
const (
	driftBrowse   = 0.02
	driftInterest = 0.05
	driftBooking  = 0.10
	maxDrift      = 0.15
)

const recommendationLimit = 5

// acceptBias shifts invite acceptance by persona. Personas not listed
// answer at the configured base probability.
var acceptBias = map[model.Persona]float64{
	model.PersonaSocialButterfly:  0.10,
	model.PersonaEventOrganizer:   0.05,
	model.PersonaSpontaneousDiner: 0.05,
	model.PersonaRoutineRegular:   -0.05,
	model.PersonaBusyProfessional: -0.10,
}

type Executor struct {
	pool    *pool.Pool
	repo    repo.Repository
	machine *booking.Machine
	explain *explain.Client
	invites tuning.Invites
}

func New(p *pool.Pool, r repo.Repository, m *booking.Machine, ex *explain.Client, inv tuning.Invites) *Executor {
	return &Executor{pool: p, repo: r, machine: m, explain: ex, invites: inv}
}

// Execute runs one action for one agent. rng must be used for every
// random draw so a fixed seed reproduces the run.
func (e *Executor) Execute(ctx context.Context, agentID string, action behavior.Action, rng *rand.Rand, simTime time.Time) ([]protocol.Event, error) {
	agent, ok := e.pool.Agent(agentID)
	if !ok {
		return nil, protocol.Errorf(protocol.ErrNotFound, "agent %s", agentID)
	}

	switch action {
	case behavior.ActionBrowse:
		return e.browse(ctx, agent, rng, simTime)
	case behavior.ActionCheckFriends:
		return e.checkFriends(agent, simTime)
	case behavior.ActionExpressInterest:
		return e.expressInterest(ctx, agent, rng, simTime)
	case behavior.ActionSendInvite:
		return e.sendInvite(ctx, agent, rng, simTime)
	case behavior.ActionRespondInvite:
		return e.respondInvite(ctx, agent, rng, simTime)
	case behavior.ActionMakeBooking:
		return e.makeBooking(ctx, agent, rng, simTime)
	default:
		return e.idle(agent, simTime), nil
	}
}

func (e *Executor) idle(agent model.Agent, simTime time.Time) []protocol.Event {
	ev := protocol.NewEvent(protocol.EventUserIdle, protocol.ChannelUserActions, simTime)
	ev.UserID = agent.ID
	return []protocol.Event{ev}
}

// scored returns the agent's ranked venue shortlist.
func (e *Executor) scored(ctx context.Context, agent model.Agent) ([]scoring.VenueScore, error) {
	venues, err := e.repo.ListVenues(ctx)
	if err != nil {
		return nil, err
	}
	social := func(venueID string) float64 {
		return e.pool.FriendInterestFraction(agent.ID, venueID)
	}
	return scoring.ScoreVenues(agent, venues, recommendationLimit, social), nil
}

func (e *Executor) browse(ctx context.Context, agent model.Agent, rng *rand.Rand, simTime time.Time) ([]protocol.Event, error) {
	ranked, err := e.scored(ctx, agent)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return e.idle(agent, simTime), nil
	}

	viewed := make([]string, 0, len(ranked))
	for _, vs := range ranked {
		viewed = append(viewed, vs.Venue.ID)
	}

	ev := protocol.NewEvent(protocol.EventUserBrowse, protocol.ChannelUserActions, simTime)
	ev.UserID = agent.ID
	ev.Payload["venue_ids"] = viewed
	events := []protocol.Event{ev}

	top := ranked[0]
	rec := protocol.NewEvent(protocol.EventRecommendationGenerated, protocol.ChannelRecommendations, simTime)
	rec.UserID = agent.ID
	rec.VenueID = top.Venue.ID
	rec.Payload["venue_name"] = top.Venue.Name
	rec.Payload["score"] = top.Score
	rec.Payload["distance_km"] = top.DistanceKm
	rec.Payload["explanation"] = e.explain.Recommendation(ctx, agent, top)
	events = append(events, rec)

	if err := e.evolve(ctx, agent.ID, top.Venue.CuisineType, driftBrowse, rng); err != nil {
		return events, err
	}
	return events, nil
}

func (e *Executor) checkFriends(agent model.Agent, simTime time.Time) ([]protocol.Event, error) {
	friends := e.pool.Friends(agent.ID)
	if len(friends) == 0 {
		return e.idle(agent, simTime), nil
	}

	// Surface what friends are into right now.
	activity := map[string][]string{}
	for _, f := range friends {
		for _, vi := range e.pool.InterestsOf(f) {
			if vi.Explicit {
				activity[f] = append(activity[f], vi.VenueID)
			}
		}
	}

	ev := protocol.NewEvent(protocol.EventFriendsChecked, protocol.ChannelSocialInteractions, simTime)
	ev.UserID = agent.ID
	ev.Payload["friend_count"] = len(friends)
	ev.Payload["friend_activity"] = activity
	return []protocol.Event{ev}, nil
}

func (e *Executor) expressInterest(ctx context.Context, agent model.Agent, rng *rand.Rand, simTime time.Time) ([]protocol.Event, error) {
	ranked, err := e.scored(ctx, agent)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return e.idle(agent, simTime), nil
	}
	// Weighted toward the top of the shortlist.
	pickIdx := 0
	if len(ranked) > 1 && rng.Float64() > 0.5 {
		pickIdx = 1 + rng.Intn(len(ranked)-1)
	}
	venue := ranked[pickIdx].Venue

	score := 0.5 // first touch
	if prev, ok := e.pool.Interest(agent.ID, venue.ID); ok {
		score = model.Clamp01(prev.Score + driftInterest)
	}
	vi := model.VenueInterest{
		AgentID:       agent.ID,
		VenueID:       venue.ID,
		Score:         score,
		Explicit:      true,
		OpenToInvites: agent.Prefs.OpenToPeople,
		UpdatedAt:     simTime,
	}
	if err := e.pool.UpsertInterest(ctx, vi); err != nil {
		return nil, err
	}

	ev := protocol.NewEvent(protocol.EventUserInterest, protocol.ChannelUserActions, simTime)
	ev.UserID = agent.ID
	ev.VenueID = venue.ID
	ev.Payload["venue_name"] = venue.Name
	ev.Payload["interest_score"] = vi.Score
	events := []protocol.Event{ev}

	if err := e.evolve(ctx, agent.ID, venue.CuisineType, driftInterest, rng); err != nil {
		return events, err
	}
	return events, nil
}

func (e *Executor) sendInvite(ctx context.Context, agent model.Agent, rng *rand.Rand, simTime time.Time) ([]protocol.Event, error) {
	friends := e.pool.Friends(agent.ID)
	if len(friends) == 0 {
		return e.idle(agent, simTime), nil
	}

	// Most compatible friend wins; ties fall to the lower ID.
	best := ""
	bestScore := -1.0
	for _, f := range friends {
		edge, _ := e.pool.Edge(agent.ID, f)
		if edge.Compatibility > bestScore {
			best, bestScore = f, edge.Compatibility
		}
	}

	// Venue: the agent's own strongest interest, if any.
	venueID := ""
	if interests := e.pool.InterestsOf(agent.ID); len(interests) > 0 {
		venueID = interests[0].VenueID
	}
	if venueID == "" {
		ranked, err := e.scored(ctx, agent)
		if err != nil {
			return nil, err
		}
		if len(ranked) == 0 {
			return e.idle(agent, simTime), nil
		}
		venueID = ranked[0].Venue.ID
	}

	inv := pool.PendingInvite{
		ID:        uuid.NewString(),
		InviterID: agent.ID,
		InviteeID: best,
		VenueID:   venueID,
		SentAt:    simTime,
	}
	e.pool.AddPending(inv)
	if err := e.repo.SaveInvitation(ctx, model.BookingInvitation{
		ID:        inv.ID,
		InviterID: inv.InviterID,
		InviteeID: inv.InviteeID,
		Status:    model.InvitePending,
		CreatedAt: simTime,
	}); err != nil {
		return nil, err
	}

	ev := protocol.NewEvent(protocol.EventInviteSent, protocol.ChannelSocialInteractions, simTime)
	ev.UserID = agent.ID
	ev.VenueID = venueID
	ev.Payload["invitee_id"] = best
	ev.Payload["compatibility"] = bestScore
	return []protocol.Event{ev}, nil
}

func (e *Executor) respondInvite(ctx context.Context, agent model.Agent, rng *rand.Rand, simTime time.Time) ([]protocol.Event, error) {
	inv, ok := e.pool.PopPending(agent.ID)
	if !ok {
		return e.idle(agent, simTime), nil
	}

	// Base acceptance odds, shifted by the responder's persona and by
	// how well the two get along.
	p := e.invites.AcceptProbability + acceptBias[agent.Persona]
	if edge, ok := e.pool.Edge(inv.InviterID, agent.ID); ok {
		p += (edge.Compatibility - 0.5) * 0.4
	}
	p = model.Clamp01(p)
	accepted := rng.Float64() < p

	latency := e.invites.MinResponseSec
	if span := e.invites.MaxResponseSec - e.invites.MinResponseSec; span > 0 {
		latency += rng.Intn(span + 1)
	}

	ev := protocol.NewEvent(protocol.EventInviteResponse, protocol.ChannelSocialInteractions, simTime)
	ev.UserID = agent.ID
	ev.VenueID = inv.VenueID
	ev.BookingID = inv.BookingID
	ev.Payload["inviter_id"] = inv.InviterID
	ev.Payload["accepted"] = accepted
	ev.Payload["response_time"] = latency
	events := []protocol.Event{ev}

	if accepted {
		if _, err := e.pool.StrengthenEdge(ctx, inv.InviterID, agent.ID, 0.05); err != nil {
			return events, err
		}
	}

	more, err := e.machine.RecordResponse(ctx, inv, accepted, simTime)
	if err != nil {
		return events, err
	}
	return append(events, more...), nil
}

func (e *Executor) makeBooking(ctx context.Context, agent model.Agent, rng *rand.Rand, simTime time.Time) ([]protocol.Event, error) {
	venueID := ""
	if interests := e.pool.InterestsOf(agent.ID); len(interests) > 0 {
		venueID = interests[0].VenueID
	}
	if venueID == "" {
		ranked, err := e.scored(ctx, agent)
		if err != nil {
			return nil, err
		}
		if len(ranked) == 0 {
			return e.idle(agent, simTime), nil
		}
		venueID = ranked[0].Venue.ID
	}

	// Social agents bring company.
	var invitees []string
	if agent.Prefs.OpenToPeople {
		friends := e.pool.Friends(agent.ID)
		n := 0
		if len(friends) > 0 && rng.Float64() < agent.SocialScore {
			n = 1 + rng.Intn(min(2, len(friends)))
		}
		for i := 0; i < n; i++ {
			invitees = append(invitees, friends[rng.Intn(len(friends))])
		}
		invitees = dedupe(invitees, agent.ID)
	}

	events, b, err := e.machine.Book(ctx, booking.Request{
		AgentID:    agent.ID,
		VenueID:    venueID,
		InviteeIDs: invitees,
	}, simTime)
	if err != nil {
		return events, err
	}

	if b.Status != model.BookingFailed {
		if venue, verr := e.repo.GetVenue(ctx, venueID); verr == nil {
			if err := e.evolve(ctx, agent.ID, venue.CuisineType, driftBooking, rng); err != nil {
				return events, err
			}
		}
	}
	return events, nil
}

// evolve drifts an agent's tastes toward what it just experienced. The
// cuisine is adopted with probability equal to the learning rate, and
// the activity score creeps up, both capped per step.
func (e *Executor) evolve(ctx context.Context, agentID, cuisine string, rate float64, rng *rand.Rand) error {
	if rate > maxDrift {
		rate = maxDrift
	}
	adopt := cuisine != "" && rng.Float64() < rate
	_, err := e.pool.Update(ctx, agentID, func(a *model.Agent) {
		if adopt && !contains(a.Prefs.Cuisines, cuisine) {
			a.Prefs.Cuisines = append(a.Prefs.Cuisines, cuisine)
		}
		a.ActivityScore = model.Clamp01(a.ActivityScore + rate*0.5)
	})
	return err
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func dedupe(ids []string, exclude string) []string {
	seen := map[string]struct{}{exclude: {}}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
