// Package model holds the domain types shared by the simulation packages:
// agents, venues, bookings, invitations, social edges, and venue interests.
package model

import "time"

// Persona is a fixed behavioral archetype assigned to a simulated agent.
type Persona string

const (
	PersonaSocialButterfly  Persona = "social_butterfly"
	PersonaFoodieExplorer   Persona = "foodie_explorer"
	PersonaRoutineRegular   Persona = "routine_regular"
	PersonaEventOrganizer   Persona = "event_organizer"
	PersonaSpontaneousDiner Persona = "spontaneous"
	PersonaBusyProfessional Persona = "busy_professional"
	PersonaBudgetConscious  Persona = "budget_conscious"
)

// Personas lists every valid persona.
var Personas = []Persona{
	PersonaSocialButterfly,
	PersonaFoodieExplorer,
	PersonaRoutineRegular,
	PersonaEventOrganizer,
	PersonaSpontaneousDiner,
	PersonaBusyProfessional,
	PersonaBudgetConscious,
}

func (p Persona) Valid() bool {
	for _, q := range Personas {
		if p == q {
			return true
		}
	}
	return false
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Preferences guides venue scoring and social matching. Zero values are
// treated as "not set" and contribute nothing to scores.
type Preferences struct {
	Cuisines      []string `json:"cuisines"`
	MinPriceLevel int      `json:"min_price_level"` // 1..4
	MaxPriceLevel int      `json:"max_price_level"` // 1..4
	Ambiance      []string `json:"ambiance"`
	MaxDistanceKm float64  `json:"max_distance_km"`
	GroupSize     int      `json:"group_size"`
	OpenToPeople  bool     `json:"open_to_people"`
}

// Agent is a synthetic user driven by the behavior engine. Agents are
// never deleted during a run, only added or deactivated.
type Agent struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Persona  Persona     `json:"persona"`
	Location LatLon      `json:"location"`
	Prefs    Preferences `json:"prefs"`

	ActivityScore float64 `json:"activity_score"` // 0..1
	SocialScore   float64 `json:"social_score"`   // 0..1
	Active        bool    `json:"active"`
}

// SocialEdge is an undirected relation between two agents. A and B are
// ordered so that A < B.
type SocialEdge struct {
	A             string  `json:"a"`
	B             string  `json:"b"`
	Compatibility float64 `json:"compatibility"` // 0..1
	Interactions  int     `json:"interactions"`
}

// EdgeKey returns the canonical (ordered) endpoints for an edge.
func EdgeKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// VenueInterest records that an agent cares about a venue.
type VenueInterest struct {
	AgentID       string    `json:"agent_id"`
	VenueID       string    `json:"venue_id"`
	Score         float64   `json:"score"` // 0..1
	Explicit      bool      `json:"explicit"`
	TimeSlot      string    `json:"time_slot,omitempty"` // breakfast, lunch, dinner, brunch
	OpenToInvites bool      `json:"open_to_invites"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Venue struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Location    LatLon   `json:"location"`
	Category    string   `json:"category"`
	CuisineType string   `json:"cuisine_type"`
	PriceLevel  int      `json:"price_level"` // 1..4
	Rating      float64  `json:"rating"`      // 0..5
	Ambiance    []string `json:"ambiance"`

	Capacity            int  `json:"capacity"`
	CurrentOccupancy    int  `json:"current_occupancy"`
	AcceptsReservations bool `json:"accepts_reservations"`

	Popularity float64 `json:"popularity"` // 0..1
	Trending   bool    `json:"trending"`
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingFailed    BookingStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingConfirmed || s == BookingCancelled || s == BookingFailed
}

type Booking struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	VenueID   string        `json:"venue_id"`
	PartySize int           `json:"party_size"`
	Time      time.Time     `json:"time"`
	Status    BookingStatus `json:"status"`

	// ConfirmationCode is assigned exactly once, when the booking is
	// created, and never changes afterwards.
	ConfirmationCode string `json:"confirmation_code,omitempty"`

	GroupMembers []string `json:"group_members,omitempty"`
	FailReason   string   `json:"fail_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type InvitationStatus string

const (
	InvitePending  InvitationStatus = "pending"
	InviteAccepted InvitationStatus = "accepted"
	InviteDeclined InvitationStatus = "declined"
)

type BookingInvitation struct {
	ID        string           `json:"id"`
	BookingID string           `json:"booking_id"`
	InviterID string           `json:"inviter_id"`
	InviteeID string           `json:"invitee_id"`
	Status    InvitationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
