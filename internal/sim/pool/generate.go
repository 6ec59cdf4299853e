package pool

import (
	"context"
	"fmt"
	"math/rand"

	"luna.social/internal/model"
	"luna.social/internal/sim/tuning"
)

var firstNames = []string{
	"Alex", "Sam", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Quinn",
	"Avery", "Dakota", "Harper", "Rowan", "Skyler", "Emerson", "Finley", "Sage",
}

var lastNames = []string{
	"Chen", "Patel", "Garcia", "Kim", "Nguyen", "Okafor", "Silva", "Haddad",
	"Novak", "Ivanov", "Tanaka", "Moreau", "Berg", "Costa", "Diaz", "Walsh",
}

var cuisines = []string{
	"italian", "japanese", "mexican", "thai", "indian", "french",
	"mediterranean", "korean", "vietnamese", "american", "ethiopian", "peruvian",
}

var ambiances = []string{"casual", "upscale", "romantic", "lively", "quiet", "trendy"}

var venueNames = []string{
	"The Golden Fork", "Luna Bistro", "Sakura Garden", "El Fuego", "Basil & Vine",
	"The Copper Kettle", "Midnight Ramen", "Olive Grove", "The Spice Route",
	"Harbor House", "Casa Verde", "The Velvet Room", "Sunrise Diner",
	"The Iron Skillet", "Jade Palace", "Bluebird Cafe", "The Tipsy Oyster",
	"Saffron Table", "The Corner Booth", "Maple & Ash", "Sole Mio",
	"The Hungry Fox", "Lotus Kitchen", "Ember & Oak", "The Daily Grind",
	"Wildflower", "The Brass Lantern", "Pearl Street Tavern", "Fig & Honey",
	"The Painted Plate",
}

// Seed generates a starter population: venues, agents, friendships, and
// initial venue interests. All randomness flows through rng so a fixed
// seed reproduces the same world.
func Seed(ctx context.Context, p *Pool, cfg tuning.Seeding, rng *rand.Rand) error {
	venueIDs := make([]string, 0, cfg.Venues)
	for i := 0; i < cfg.Venues; i++ {
		v := model.Venue{
			ID:   fmt.Sprintf("v%03d", i+1),
			Name: venueNames[i%len(venueNames)],
			Location: model.LatLon{
				Lat: cfg.CityCenterLat + (rng.Float64()*2-1)*cfg.SpreadDeg,
				Lon: cfg.CityCenterLon + (rng.Float64()*2-1)*cfg.SpreadDeg,
			},
			Category:            "restaurant",
			CuisineType:         cuisines[rng.Intn(len(cuisines))],
			PriceLevel:          1 + rng.Intn(4),
			Rating:              3 + rng.Float64()*2,
			Ambiance:            pick(rng, ambiances, 1+rng.Intn(2)),
			Capacity:            20 + rng.Intn(81),
			AcceptsReservations: rng.Float64() < 0.9,
			Popularity:          model.Clamp01(0.2 + rng.Float64()*0.8),
			Trending:            rng.Float64() < 0.15,
		}
		if err := p.repo.SaveVenue(ctx, v); err != nil {
			return err
		}
		venueIDs = append(venueIDs, v.ID)
	}

	agentIDs := make([]string, 0, cfg.Agents)
	for i := 0; i < cfg.Agents; i++ {
		a := model.Agent{
			ID:      fmt.Sprintf("u%03d", i+1),
			Name:    firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))],
			Persona: model.Personas[rng.Intn(len(model.Personas))],
			Location: model.LatLon{
				Lat: cfg.CityCenterLat + (rng.Float64()*2-1)*cfg.SpreadDeg,
				Lon: cfg.CityCenterLon + (rng.Float64()*2-1)*cfg.SpreadDeg,
			},
			Prefs:         randomPrefs(rng),
			ActivityScore: model.Clamp01(0.3 + rng.Float64()*0.7),
			SocialScore:   model.Clamp01(0.2 + rng.Float64()*0.8),
			Active:        true,
		}
		if err := p.Spawn(ctx, []model.Agent{a}); err != nil {
			return err
		}
		agentIDs = append(agentIDs, a.ID)
	}

	for _, id := range agentIDs {
		for n := 0; n < cfg.FriendsPerAgent; n++ {
			other := agentIDs[rng.Intn(len(agentIDs))]
			if other == id {
				continue
			}
			if _, ok := p.Edge(id, other); ok {
				continue
			}
			e := model.SocialEdge{Compatibility: 0.3 + rng.Float64()*0.7}
			e.A, e.B = model.EdgeKey(id, other)
			if err := p.PutEdge(ctx, e); err != nil {
				return err
			}
		}
	}

	for _, id := range agentIDs {
		for n := 0; n < cfg.InterestsPerAgent; n++ {
			vi := model.VenueInterest{
				AgentID:       id,
				VenueID:       venueIDs[rng.Intn(len(venueIDs))],
				Score:         0.4 + rng.Float64()*0.6,
				Explicit:      rng.Float64() < 0.5,
				OpenToInvites: rng.Float64() < 0.7,
			}
			if err := p.UpsertInterest(ctx, vi); err != nil {
				return err
			}
		}
	}
	return nil
}

// SpawnGenerated creates count fresh agents mid-run, skipping IDs that
// already exist, and returns the new IDs in creation order.
func SpawnGenerated(ctx context.Context, p *Pool, cfg tuning.Seeding, count int, rng *rand.Rand) ([]string, error) {
	ids := make([]string, 0, count)
	next := p.Size() + 1
	for len(ids) < count {
		id := fmt.Sprintf("u%03d", next)
		next++
		if _, exists := p.Agent(id); exists {
			continue
		}
		a := model.Agent{
			ID:      id,
			Name:    firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))],
			Persona: model.Personas[rng.Intn(len(model.Personas))],
			Location: model.LatLon{
				Lat: cfg.CityCenterLat + (rng.Float64()*2-1)*cfg.SpreadDeg,
				Lon: cfg.CityCenterLon + (rng.Float64()*2-1)*cfg.SpreadDeg,
			},
			Prefs:         randomPrefs(rng),
			ActivityScore: model.Clamp01(0.3 + rng.Float64()*0.7),
			SocialScore:   model.Clamp01(0.2 + rng.Float64()*0.8),
			Active:        true,
		}
		if err := p.Spawn(ctx, []model.Agent{a}); err != nil {
			return ids, err
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func randomPrefs(rng *rand.Rand) model.Preferences {
	minPrice := 1 + rng.Intn(3)
	return model.Preferences{
		Cuisines:      pick(rng, cuisines, 2+rng.Intn(3)),
		MinPriceLevel: minPrice,
		MaxPriceLevel: minPrice + rng.Intn(5-minPrice),
		Ambiance:      pick(rng, ambiances, 1+rng.Intn(2)),
		MaxDistanceKm: 2 + rng.Float64()*13,
		GroupSize:     2 + rng.Intn(4),
		OpenToPeople:  rng.Float64() < 0.7,
	}
}

// pick samples n distinct elements from vals.
func pick(rng *rand.Rand, vals []string, n int) []string {
	idx := rng.Perm(len(vals))
	if n > len(vals) {
		n = len(vals)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = vals[idx[i]]
	}
	return out
}
