package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds every knob of the simulation engine. A tuning.yaml may
// override any subset; Defaults() covers the rest.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickIntervalMs int     `yaml:"tick_interval_ms"` // wall-clock tick cadence
	BaseTickSec    float64 `yaml:"base_tick_sec"`    // simulated seconds per tick at speed 1
	Seed           int64   `yaml:"seed"`

	ActiveAgentFraction   float64 `yaml:"active_agent_fraction"`
	MetricsEveryEvents    int     `yaml:"metrics_every_events"`
	EnvironmentEveryTicks int     `yaml:"environment_every_ticks"`

	Broker  Broker             `yaml:"broker"`
	Invites Invites            `yaml:"invites"`
	Explain Explain            `yaml:"explain"`
	Seeding Seeding            `yaml:"seeding"`
	Weights map[string]float64 `yaml:"base_action_weights"`
}

type Broker struct {
	HistoryCapacity    int `yaml:"history_capacity"`
	SubscriberCapacity int `yaml:"subscriber_capacity"`
}

type Invites struct {
	AcceptProbability float64 `yaml:"accept_probability"`
	MinResponseSec    int     `yaml:"min_response_sec"`
	MaxResponseSec    int     `yaml:"max_response_sec"`
}

type Explain struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Seeding struct {
	Agents            int     `yaml:"agents"`
	Venues            int     `yaml:"venues"`
	FriendsPerAgent   int     `yaml:"friends_per_agent"`
	InterestsPerAgent int     `yaml:"interests_per_agent"`
	CityCenterLat     float64 `yaml:"city_center_lat"`
	CityCenterLon     float64 `yaml:"city_center_lon"`
	SpreadDeg         float64 `yaml:"spread_deg"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickIntervalMs:  1000,
		BaseTickSec:     1,
		Seed:            1337,

		ActiveAgentFraction:   0.3,
		MetricsEveryEvents:    10,
		EnvironmentEveryTicks: 60,

		Broker: Broker{
			HistoryCapacity:    1000,
			SubscriberCapacity: 64,
		},
		Invites: Invites{
			AcceptProbability: 0.7,
			MinResponseSec:    5,
			MaxResponseSec:    60,
		},
		Explain: Explain{
			TimeoutMs: 500,
		},
		Seeding: Seeding{
			Agents:            50,
			Venues:            25,
			FriendsPerAgent:   5,
			InterestsPerAgent: 3,
			CityCenterLat:     40.7128,
			CityCenterLon:     -74.0060,
			SpreadDeg:         0.1,
		},
		Weights: map[string]float64{
			"browse":           0.40,
			"check_friends":    0.20,
			"express_interest": 0.15,
			"send_invite":      0.10,
			"respond_invite":   0.10,
			"make_booking":     0.05,
		},
	}
}

// Load reads a tuning.yaml, layering it over Defaults().
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, t.Validate()
}

func (t Tuning) Validate() error {
	if t.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	if t.BaseTickSec <= 0 {
		return fmt.Errorf("base_tick_sec must be > 0")
	}
	if t.Invites.AcceptProbability < 0 || t.Invites.AcceptProbability > 1 {
		return fmt.Errorf("invites.accept_probability must be in [0,1]")
	}
	if t.Invites.MinResponseSec <= 0 || t.Invites.MaxResponseSec < t.Invites.MinResponseSec {
		return fmt.Errorf("invites response window invalid")
	}
	if t.Broker.HistoryCapacity <= 0 || t.Broker.SubscriberCapacity <= 0 {
		return fmt.Errorf("broker capacities must be > 0")
	}
	for action, w := range t.Weights {
		if w < 0 {
			return fmt.Errorf("base_action_weights[%s] must be >= 0", action)
		}
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

func (t Tuning) ExplainTimeout() time.Duration {
	return time.Duration(t.Explain.TimeoutMs) * time.Millisecond
}
