// Package behavior turns an agent's persona, the active scenario, and the
// temporal and environmental context into a weighted action distribution,
// then samples one action per agent per tick.
package behavior

import (
	"math/rand"
	"sort"

	"luna.social/internal/model"
)

type Action string

const (
	ActionBrowse          Action = "browse"
	ActionCheckFriends    Action = "check_friends"
	ActionExpressInterest Action = "express_interest"
	ActionSendInvite      Action = "send_invite"
	ActionRespondInvite   Action = "respond_invite"
	ActionMakeBooking     Action = "make_booking"

	// ActionIdle is never weighted. It is the fallback when every
	// weighted action is masked out or preconditions fail downstream.
	ActionIdle Action = "idle"
)

// Actions is the fixed sampling order of the weighted actions.
var Actions = []Action{
	ActionBrowse,
	ActionCheckFriends,
	ActionExpressInterest,
	ActionSendInvite,
	ActionRespondInvite,
	ActionMakeBooking,
}

var personaModifiers = map[model.Persona]map[Action]float64{
	model.PersonaSocialButterfly:  {ActionCheckFriends: 1.5, ActionSendInvite: 1.5},
	model.PersonaFoodieExplorer:   {ActionBrowse: 1.3, ActionExpressInterest: 1.3},
	model.PersonaEventOrganizer:   {ActionSendInvite: 2.0, ActionMakeBooking: 1.5},
	model.PersonaSpontaneousDiner: {ActionMakeBooking: 1.5},
	model.PersonaRoutineRegular:   {ActionBrowse: 0.7},
	model.PersonaBusyProfessional: {ActionBrowse: 0.5, ActionMakeBooking: 1.2},
	model.PersonaBudgetConscious:  {ActionBrowse: 1.2, ActionExpressInterest: 0.8},
}

// Mask excludes actions before sampling. A nil Mask allows everything.
type Mask func(Action) bool

// Weights composes the base action weights with the persona's modifiers
// and any number of contextual modifier tables (scenario, temporal,
// environment), multiplying element-wise, then normalizes so the
// surviving weights sum to 1. Actions whose final weight is zero are
// dropped from the result.
func Weights(base map[string]float64, persona model.Persona, mods ...map[string]float64) map[Action]float64 {
	w := make(map[Action]float64, len(Actions))
	for _, a := range Actions {
		w[a] = base[string(a)]
	}
	for a, f := range personaModifiers[persona] {
		w[a] *= f
	}
	for _, table := range mods {
		for name, f := range table {
			a := Action(name)
			if _, ok := w[a]; ok {
				w[a] *= f
			}
		}
	}

	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return map[Action]float64{}
	}
	out := make(map[Action]float64, len(w))
	for a, v := range w {
		if v > 0 {
			out[a] = v / total
		}
	}
	return out
}

// Sample draws one action from the normalized distribution, honoring the
// mask. Iteration follows the fixed Actions order so a seeded rng yields
// the same choice on every run. Returns ActionIdle when nothing remains.
func Sample(rng *rand.Rand, weights map[Action]float64, mask Mask) Action {
	total := 0.0
	for _, a := range Actions {
		v, ok := weights[a]
		if !ok || (mask != nil && !mask(a)) {
			continue
		}
		total += v
	}
	if total <= 0 {
		return ActionIdle
	}
	r := rng.Float64() * total
	for _, a := range Actions {
		v, ok := weights[a]
		if !ok || (mask != nil && !mask(a)) {
			continue
		}
		r -= v
		if r < 0 {
			return a
		}
	}
	return ActionIdle
}

// Names returns the weighted action names sorted, for payload reporting.
func Names(weights map[Action]float64) []string {
	out := make([]string, 0, len(weights))
	for a := range weights {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}
