package behavior

import (
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"luna.social/internal/protocol"
)

// Scenario names an operating mode whose modifiers multiply into the
// base action weights while it is active.
type Scenario struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Modifiers   map[string]float64 `json:"modifiers"`
}

var builtinScenarios = []Scenario{
	{Name: "normal", Description: "baseline behavior", Modifiers: map[string]float64{}},
	{Name: "lunch_rush", Description: "midday booking surge", Modifiers: map[string]float64{
		"browse": 1.5, "make_booking": 2.0,
	}},
	{Name: "friday_night", Description: "social evening", Modifiers: map[string]float64{
		"send_invite": 2.0, "check_friends": 1.5,
	}},
	{Name: "weekend_brunch", Description: "leisurely weekend browsing", Modifiers: map[string]float64{
		"express_interest": 1.5, "browse": 1.3,
	}},
	{Name: "concert_night", Description: "event-driven group dining", Modifiers: map[string]float64{
		"send_invite": 1.5, "make_booking": 1.5,
	}},
	{Name: "new_user_onboarding", Description: "exploration-heavy new cohort", Modifiers: map[string]float64{
		"browse": 2.0, "check_friends": 1.5,
	}},
}

const scenarioSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "modifiers"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z][a-z0-9_]{0,63}$"},
    "description": {"type": "string", "maxLength": 256},
    "modifiers": {
      "type": "object",
      "additionalProperties": false,
      "patternProperties": {
        "^(browse|check_friends|express_interest|send_invite|respond_invite|make_booking)$": {
          "type": "number", "minimum": 0, "maximum": 10
        }
      }
    }
  }
}`

var compiledScenarioSchema = jsonschema.MustCompileString("scenario.json", scenarioSchema)

// Registry holds the known scenarios. The built-ins are always present
// and cannot be overwritten.
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]Scenario
}

func NewRegistry() *Registry {
	r := &Registry{scenarios: make(map[string]Scenario, len(builtinScenarios))}
	for _, s := range builtinScenarios {
		r.scenarios[s.Name] = s
	}
	return r
}

func (r *Registry) Get(name string) (Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[name]
	return s, ok
}

// Names lists registered scenario names in registration-independent
// sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scenarios))
	for n := range r.scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register validates a caller-supplied scenario against the schema and
// adds it. Built-in names are reserved.
func (r *Registry) Register(raw map[string]any) (Scenario, error) {
	if err := compiledScenarioSchema.Validate(raw); err != nil {
		return Scenario{}, protocol.Errorf(protocol.ErrValidation, "scenario: %v", err)
	}
	s := Scenario{
		Name:      raw["name"].(string),
		Modifiers: map[string]float64{},
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if mods, ok := raw["modifiers"].(map[string]any); ok {
		for k, v := range mods {
			f, ok := v.(float64)
			if !ok {
				return Scenario{}, protocol.Errorf(protocol.ErrValidation, "scenario modifier %s: not a number", k)
			}
			s.Modifiers[k] = f
		}
	}
	for _, b := range builtinScenarios {
		if b.Name == s.Name {
			return Scenario{}, protocol.Errorf(protocol.ErrValidation, "scenario %q is built in", s.Name)
		}
	}
	r.mu.Lock()
	r.scenarios[s.Name] = s
	r.mu.Unlock()
	return s, nil
}
