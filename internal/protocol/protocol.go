package protocol

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

const Version = "1.0"

// Stream channels. Every event belongs to exactly one of these.
const (
	ChannelUserActions        = "user_actions"
	ChannelRecommendations    = "recommendations"
	ChannelBookings           = "bookings"
	ChannelSocialInteractions = "social_interactions"
	ChannelSystemMetrics      = "system_metrics"
	ChannelSimulationControl  = "simulation_control"
	ChannelEnvironmental      = "environmental"
)

// Channels lists every valid channel in fan-out order.
var Channels = []string{
	ChannelUserActions,
	ChannelRecommendations,
	ChannelBookings,
	ChannelSocialInteractions,
	ChannelSystemMetrics,
	ChannelSimulationControl,
	ChannelEnvironmental,
}

var channelSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Channels))
	for _, c := range Channels {
		m[c] = struct{}{}
	}
	return m
}()

func IsKnownChannel(ch string) bool {
	_, ok := channelSet[ch]
	return ok
}

// Event types.
const (
	// User actions.
	EventUserBrowse   = "user_browse"
	EventUserInterest = "user_interest"
	EventUserIdle     = "user_idle"

	// Social.
	EventFriendsChecked = "friends_checked"
	EventInviteSent     = "invite_sent"
	EventInviteResponse = "invite_response"

	// Bookings.
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingFailed    = "booking_failed"

	// Recommendations.
	EventRecommendationGenerated = "recommendation_generated"

	// System / control.
	EventMetricsUpdate     = "metrics_update"
	EventSimulationStarted = "simulation_started"
	EventSimulationPaused  = "simulation_paused"
	EventSimulationResumed = "simulation_resumed"
	EventSimulationStopped = "simulation_stopped"
	EventSimulationReset   = "simulation_reset"
	EventScenarioTriggered = "scenario_triggered"
	EventUsersSpawned      = "users_spawned"
	EventBehaviorAdjusted  = "behavior_adjusted"
	EventSimulationError   = "simulation_error"
	EventEnvironmentUpdate = "environment_update"
)

// Event is the immutable record published through the broker. Seq is
// assigned by the broker at publish time and is strictly increasing per
// channel.
type Event struct {
	ID             string         `json:"id"`
	EventType      string         `json:"event_type"`
	Channel        string         `json:"channel"`
	Payload        map[string]any `json:"payload"`
	SimulationTime time.Time      `json:"simulation_time"`
	CreatedAt      time.Time      `json:"created_at"`
	Seq            uint64         `json:"seq"`

	UserID    string `json:"user_id,omitempty"`
	VenueID   string `json:"venue_id,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
}

// NewEvent allocates an event with a fresh ID and an empty payload.
// CreatedAt and Seq are stamped by the broker at publish time.
func NewEvent(eventType, channel string, simTime time.Time) Event {
	return Event{
		ID:             uuid.NewString(),
		EventType:      eventType,
		Channel:        channel,
		Payload:        map[string]any{},
		SimulationTime: simTime,
	}
}

var json = jsoniter.ConfigFastest

func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}
