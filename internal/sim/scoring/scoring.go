// Package scoring ranks venues for an agent and measures social fit
// between agent pairs. All functions are pure: the caller supplies every
// record the score depends on.
package scoring

import (
	"sort"

	"luna.social/internal/model"
)

// Venue score factor weights. Factors whose inputs are missing are
// skipped and the remaining weights renormalized.
const (
	wDistance   = 0.30
	wTaste      = 0.25 // cuisine + ambiance match
	wPrice      = 0.15
	wPopularity = 0.15 // popularity + trending
	wSocial     = 0.15 // fraction of friends interested in the venue
)

// Compatibility factor weights.
const (
	cwOverlap = 0.35 // shared preference overlap
	cwEdge    = 0.30 // existing social-edge compatibility
	cwAlign   = 0.20 // group-size / openness alignment
	cwMutual  = 0.15 // mutual interest in the context venue
)

type VenueScore struct {
	Venue      model.Venue
	Score      float64
	DistanceKm float64
}

// SocialSignal reports, for a venue, the fraction of the agent's friends
// holding interest or bookings there. May be nil when no social data is
// available.
type SocialSignal func(venueID string) float64

// ScoreVenues filters candidates to the agent's max distance, scores the
// survivors, and returns them best-first, ties broken by venue ID,
// truncated to limit. limit <= 0 means no truncation.
func ScoreVenues(agent model.Agent, candidates []model.Venue, limit int, social SocialSignal) []VenueScore {
	maxDist := agent.Prefs.MaxDistanceKm
	if maxDist <= 0 {
		maxDist = 10
	}

	out := make([]VenueScore, 0, len(candidates))
	for _, v := range candidates {
		dist := model.HaversineKm(agent.Location, v.Location)
		if dist > maxDist {
			continue
		}

		var sum, wsum float64
		add := func(score, weight float64) {
			sum += score * weight
			wsum += weight
		}

		add(1-dist/maxDist, wDistance)

		if taste, ok := tasteMatch(agent.Prefs, v); ok {
			add(taste, wTaste)
		}
		if agent.Prefs.MinPriceLevel > 0 && agent.Prefs.MaxPriceLevel > 0 {
			price := 0.3
			if v.PriceLevel >= agent.Prefs.MinPriceLevel && v.PriceLevel <= agent.Prefs.MaxPriceLevel {
				price = 1.0
			}
			add(price, wPrice)
		}

		pop := v.Popularity
		if v.Trending {
			pop = (pop + 1) / 2
		}
		add(pop, wPopularity)

		if social != nil {
			add(model.Clamp01(social(v.ID)), wSocial)
		}

		if wsum == 0 {
			continue
		}
		out = append(out, VenueScore{Venue: v, Score: sum / wsum, DistanceKm: dist})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Venue.ID < out[j].Venue.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// tasteMatch blends cuisine and ambiance overlap. ok is false when the
// agent states no cuisine or ambiance preference at all.
func tasteMatch(p model.Preferences, v model.Venue) (float64, bool) {
	var parts []float64
	if len(p.Cuisines) > 0 {
		match := 0.5
		for _, c := range p.Cuisines {
			if c == v.CuisineType {
				match = 1.0
				break
			}
		}
		parts = append(parts, match)
	}
	if len(p.Ambiance) > 0 {
		parts = append(parts, jaccard(p.Ambiance, v.Ambiance))
	}
	if len(parts) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range parts {
		sum += s
	}
	return sum / float64(len(parts)), true
}

// CompatibilityInput carries the social-graph facts the caller looked up.
type CompatibilityInput struct {
	// EdgeCompatibility is the existing SocialEdge score, 0 if no edge.
	EdgeCompatibility float64
	// VenueGiven marks that a context venue was supplied; MutualInterest
	// is only meaningful when it is set.
	VenueGiven     bool
	MutualInterest bool
}

// ScoreCompatibility returns the social fit of two agents in [0,1].
// Missing preference fields contribute nothing: their factor is dropped
// and the remaining weights renormalized.
func ScoreCompatibility(a, b model.Agent, in CompatibilityInput) float64 {
	var sum, wsum float64
	add := func(score, weight float64) {
		sum += score * weight
		wsum += weight
	}

	if overlap, ok := preferenceOverlap(a.Prefs, b.Prefs); ok {
		add(overlap, cwOverlap)
	}
	add(model.Clamp01(in.EdgeCompatibility), cwEdge)
	if align, ok := alignment(a.Prefs, b.Prefs); ok {
		add(align, cwAlign)
	}
	if in.VenueGiven {
		mutual := 0.3
		if in.MutualInterest {
			mutual = 1.0
		}
		add(mutual, cwMutual)
	}

	if wsum == 0 {
		return 0
	}
	return model.Clamp01(sum / wsum)
}

func preferenceOverlap(a, b model.Preferences) (float64, bool) {
	var parts []float64
	if len(a.Cuisines) > 0 && len(b.Cuisines) > 0 {
		parts = append(parts, jaccard(a.Cuisines, b.Cuisines))
	}
	if len(a.Ambiance) > 0 && len(b.Ambiance) > 0 {
		parts = append(parts, jaccard(a.Ambiance, b.Ambiance))
	}
	if a.MinPriceLevel > 0 && b.MinPriceLevel > 0 {
		parts = append(parts, priceOverlap(a, b))
	}
	if len(parts) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range parts {
		sum += s
	}
	return sum / float64(len(parts)), true
}

// priceOverlap is intersection-over-union of the two price ranges.
func priceOverlap(a, b model.Preferences) float64 {
	lo := max(a.MinPriceLevel, b.MinPriceLevel)
	hi := min(a.MaxPriceLevel, b.MaxPriceLevel)
	union := max(a.MaxPriceLevel, b.MaxPriceLevel) - min(a.MinPriceLevel, b.MinPriceLevel)
	if union <= 0 {
		return 1
	}
	inter := hi - lo
	if inter < 0 {
		inter = 0
	}
	return float64(inter) / float64(union)
}

func alignment(a, b model.Preferences) (float64, bool) {
	var parts []float64
	if a.GroupSize > 0 && b.GroupSize > 0 {
		lg, sm := a.GroupSize, b.GroupSize
		if sm > lg {
			lg, sm = sm, lg
		}
		parts = append(parts, float64(sm)/float64(lg))
	}
	open := 0.0
	if a.OpenToPeople {
		open += 0.5
	}
	if b.OpenToPeople {
		open += 0.5
	}
	parts = append(parts, open)
	if len(parts) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range parts {
		sum += s
	}
	return sum / float64(len(parts)), true
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
