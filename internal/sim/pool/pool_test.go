package pool

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"luna.social/internal/model"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/tuning"
)

func newPool(t *testing.T) (*Pool, *repo.Memory) {
	t.Helper()
	m := repo.NewMemory()
	return New(m), m
}

func spawnOne(t *testing.T, p *Pool, id string) {
	t.Helper()
	a := model.Agent{ID: id, Name: "Agent " + id, Persona: model.PersonaFoodieExplorer, Active: true}
	if err := p.Spawn(context.Background(), []model.Agent{a}); err != nil {
		t.Fatalf("spawn %s: %v", id, err)
	}
}

func TestSpawnAndLoad(t *testing.T) {
	ctx := context.Background()
	p, m := newPool(t)
	spawnOne(t, p, "u001")
	spawnOne(t, p, "u002")

	if p.Size() != 2 {
		t.Fatalf("size %d want 2", p.Size())
	}

	// A fresh pool on the same repository recovers the agents.
	p2 := New(m)
	if err := p2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if p2.Size() != 2 {
		t.Fatalf("reloaded size %d want 2", p2.Size())
	}
	if _, ok := p2.Agent("u001"); !ok {
		t.Fatalf("u001 lost on reload")
	}
}

func TestAgentIDs_SortedAndActiveFilter(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t)
	spawnOne(t, p, "u003")
	spawnOne(t, p, "u001")
	spawnOne(t, p, "u002")
	if err := p.Deactivate(ctx, "u002"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	all := p.AgentIDs(false)
	if len(all) != 3 || all[0] != "u001" || all[2] != "u003" {
		t.Fatalf("ids not sorted: %v", all)
	}
	active := p.AgentIDs(true)
	if len(active) != 2 || active[0] != "u001" || active[1] != "u003" {
		t.Fatalf("active filter wrong: %v", active)
	}
}

func TestUpdate_PersistsAndErrorsOnMissing(t *testing.T) {
	ctx := context.Background()
	p, m := newPool(t)
	spawnOne(t, p, "u001")

	got, err := p.Update(ctx, "u001", func(a *model.Agent) { a.ActivityScore = 0.9 })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ActivityScore != 0.9 {
		t.Fatalf("score %v want 0.9", got.ActivityScore)
	}
	stored, err := m.GetAgent(ctx, "u001")
	if err != nil || stored.ActivityScore != 0.9 {
		t.Fatalf("update not persisted: %v %v", stored, err)
	}

	_, err = p.Update(ctx, "u999", func(*model.Agent) {})
	if protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("missing agent error %v want E_NOT_FOUND", err)
	}
}

func TestEdges_CanonicalAndStrengthen(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t)
	spawnOne(t, p, "u001")
	spawnOne(t, p, "u002")

	e := model.SocialEdge{A: "u002", B: "u001", Compatibility: 0.6}
	if err := p.PutEdge(ctx, e); err != nil {
		t.Fatalf("put edge: %v", err)
	}

	// Lookup works regardless of argument order.
	got, ok := p.Edge("u001", "u002")
	if !ok || got.A != "u001" || got.B != "u002" {
		t.Fatalf("edge lookup %+v ok=%v", got, ok)
	}
	if _, ok := p.Edge("u002", "u001"); !ok {
		t.Fatalf("reversed lookup failed")
	}

	got, err := p.StrengthenEdge(ctx, "u001", "u002", 0.05)
	if err != nil {
		t.Fatalf("strengthen: %v", err)
	}
	if math.Abs(got.Compatibility-0.65) > 1e-9 || got.Interactions != 1 {
		t.Fatalf("strengthened edge %+v", got)
	}

	// Strengthening an absent edge creates it at the 0.5 baseline.
	got, err = p.StrengthenEdge(ctx, "u001", "u003", 0.1)
	if err != nil {
		t.Fatalf("strengthen new: %v", err)
	}
	if math.Abs(got.Compatibility-0.6) > 1e-9 {
		t.Fatalf("new edge compatibility %v want 0.6", got.Compatibility)
	}

	// Clamped at 1.
	for i := 0; i < 20; i++ {
		got, _ = p.StrengthenEdge(ctx, "u001", "u002", 0.1)
	}
	if got.Compatibility != 1 {
		t.Fatalf("compatibility %v not clamped to 1", got.Compatibility)
	}

	fs := p.Friends("u001")
	if len(fs) != 2 || fs[0] != "u002" || fs[1] != "u003" {
		t.Fatalf("friends of u001: %v", fs)
	}
}

func TestInterests_OrderingAndOpenFilter(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t)

	put := func(agent, venue string, score float64, explicit, open bool) {
		err := p.UpsertInterest(ctx, model.VenueInterest{
			AgentID: agent, VenueID: venue, Score: score,
			Explicit: explicit, OpenToInvites: open,
		})
		if err != nil {
			t.Fatalf("upsert interest: %v", err)
		}
	}
	put("u001", "v001", 0.4, true, true)
	put("u001", "v002", 0.9, false, true)
	put("u002", "v001", 0.7, true, true)
	put("u003", "v001", 0.8, true, false)

	of := p.InterestsOf("u001")
	if len(of) != 2 || of[0].VenueID != "v002" || of[1].VenueID != "v001" {
		t.Fatalf("interests of u001: %+v", of)
	}

	open := p.OpenInterests("v001")
	if len(open) != 2 || open[0].AgentID != "u001" || open[1].AgentID != "u002" {
		t.Fatalf("open interests for v001: %+v", open)
	}
}

func TestFriendInterestFraction(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t)
	for _, id := range []string{"u001", "u002", "u003"} {
		spawnOne(t, p, id)
	}
	must := func(err error) {
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	must(p.PutEdge(ctx, model.SocialEdge{A: "u001", B: "u002", Compatibility: 0.5}))
	must(p.PutEdge(ctx, model.SocialEdge{A: "u001", B: "u003", Compatibility: 0.5}))
	must(p.UpsertInterest(ctx, model.VenueInterest{AgentID: "u002", VenueID: "v001", Score: 0.5}))

	if got := p.FriendInterestFraction("u001", "v001"); got != 0.5 {
		t.Fatalf("fraction %v want 0.5", got)
	}
	if got := p.FriendInterestFraction("u001", "v999"); got != 0 {
		t.Fatalf("fraction for unknown venue %v want 0", got)
	}
	if got := p.FriendInterestFraction("u999", "v001"); got != 0 {
		t.Fatalf("fraction for friendless agent %v want 0", got)
	}
}

func TestPending_FIFO(t *testing.T) {
	p, _ := newPool(t)
	if p.HasPending("u001") {
		t.Fatalf("fresh pool has pending invites")
	}
	now := time.Now()
	p.AddPending(PendingInvite{ID: "i1", InviteeID: "u001", SentAt: now})
	p.AddPending(PendingInvite{ID: "i2", InviteeID: "u001", SentAt: now.Add(time.Second)})

	if !p.HasPending("u001") {
		t.Fatalf("pending invite not visible")
	}
	first, ok := p.PopPending("u001")
	if !ok || first.ID != "i1" {
		t.Fatalf("pop order wrong: %+v ok=%v", first, ok)
	}
	second, _ := p.PopPending("u001")
	if second.ID != "i2" {
		t.Fatalf("second pop %+v", second)
	}
	if _, ok := p.PopPending("u001"); ok {
		t.Fatalf("pop from empty queue succeeded")
	}
}

func TestClear_LeavesRepositoryIntact(t *testing.T) {
	ctx := context.Background()
	p, m := newPool(t)
	spawnOne(t, p, "u001")
	p.AddPending(PendingInvite{ID: "i1", InviteeID: "u001"})

	p.Clear()
	if p.Size() != 0 || p.HasPending("u001") {
		t.Fatalf("clear left state behind")
	}
	if _, err := m.GetAgent(ctx, "u001"); err != nil {
		t.Fatalf("repository lost agent on pool clear: %v", err)
	}
	if err := p.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.Size() != 1 {
		t.Fatalf("reload size %d want 1", p.Size())
	}
}

func TestSeed_DeterministicPopulation(t *testing.T) {
	ctx := context.Background()
	cfg := tuning.Seeding{
		Agents: 10, Venues: 5, FriendsPerAgent: 2, InterestsPerAgent: 2,
		CityCenterLat: 40.7128, CityCenterLon: -74.0060, SpreadDeg: 0.05,
	}

	p1, _ := newPool(t)
	if err := Seed(ctx, p1, cfg, rand.New(rand.NewSource(7))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p2, _ := newPool(t)
	if err := Seed(ctx, p2, cfg, rand.New(rand.NewSource(7))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if p1.Size() != 10 || p2.Size() != 10 {
		t.Fatalf("sizes %d %d want 10", p1.Size(), p2.Size())
	}
	for _, id := range p1.AgentIDs(false) {
		a1, _ := p1.Agent(id)
		a2, ok := p2.Agent(id)
		if !ok || a1.Name != a2.Name || a1.Persona != a2.Persona {
			t.Fatalf("seed diverged for %s: %+v vs %+v", id, a1, a2)
		}
	}
}

func TestSpawnGenerated_SkipsExistingIDs(t *testing.T) {
	ctx := context.Background()
	p, _ := newPool(t)
	spawnOne(t, p, "u001")
	spawnOne(t, p, "u002")

	ids, err := SpawnGenerated(ctx, p, tuning.Defaults().Seeding, 3, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("spawn generated: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids want 3", len(ids))
	}
	seen := map[string]bool{"u001": true, "u002": true}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if p.Size() != 5 {
		t.Fatalf("pool size %d want 5", p.Size())
	}
}
