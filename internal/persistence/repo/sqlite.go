package repo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"luna.social/internal/model"
	"luna.social/internal/protocol"
)

var json = jsoniter.ConfigFastest

// SQLite persists the world in a single-file database. Entities are
// stored as JSON blobs with the columns needed for filtering broken out.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			persona TEXT NOT NULL,
			active INTEGER NOT NULL,
			json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_persona ON agents(persona);`,
		`CREATE TABLE IF NOT EXISTS venues (
			id TEXT PRIMARY KEY,
			json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			venue_id TEXT NOT NULL,
			status TEXT NOT NULL,
			json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_agent ON bookings(agent_id);`,
		`CREATE TABLE IF NOT EXISTS invitations (
			id TEXT PRIMARY KEY,
			booking_id TEXT,
			invitee_id TEXT NOT NULL,
			status TEXT NOT NULL,
			json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_invitee ON invitations(invitee_id);`,
		`CREATE TABLE IF NOT EXISTS interests (
			agent_id TEXT NOT NULL,
			venue_id TEXT NOT NULL,
			json TEXT NOT NULL,
			PRIMARY KEY (agent_id, venue_id)
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			a TEXT NOT NULL,
			b TEXT NOT NULL,
			json TEXT NOT NULL,
			PRIMARY KEY (a, b)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) GetAgents(ctx context.Context, f AgentFilter) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a model.Agent
		if err := json.UnmarshalFromString(raw, &a); err != nil {
			return nil, err
		}
		if f.matches(a) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

func (s *SQLite) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM agents WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.Agent{}, protocol.Errorf(protocol.ErrNotFound, "agent %s", id)
	}
	if err != nil {
		return model.Agent{}, err
	}
	var a model.Agent
	return a, json.UnmarshalFromString(raw, &a)
}

func (s *SQLite) SaveAgent(ctx context.Context, a model.Agent) error {
	raw, err := json.MarshalToString(a)
	if err != nil {
		return err
	}
	active := 0
	if a.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agents(id,persona,active,json) VALUES(?,?,?,?)`,
		a.ID, string(a.Persona), active, raw)
	return err
}

func (s *SQLite) GetVenue(ctx context.Context, id string) (model.Venue, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM venues WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.Venue{}, protocol.Errorf(protocol.ErrNotFound, "venue %s", id)
	}
	if err != nil {
		return model.Venue{}, err
	}
	var v model.Venue
	return v, json.UnmarshalFromString(raw, &v)
}

func (s *SQLite) ListVenues(ctx context.Context) ([]model.Venue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json FROM venues ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Venue
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v model.Venue
		if err := json.UnmarshalFromString(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveVenue(ctx context.Context, v model.Venue) error {
	raw, err := json.MarshalToString(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO venues(id,json) VALUES(?,?)`, v.ID, raw)
	return err
}

func (s *SQLite) SaveBooking(ctx context.Context, b model.Booking) error {
	raw, err := json.MarshalToString(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bookings(id,agent_id,venue_id,status,json) VALUES(?,?,?,?,?)`,
		b.ID, b.AgentID, b.VenueID, string(b.Status), raw)
	return err
}

func (s *SQLite) SaveInvitation(ctx context.Context, inv model.BookingInvitation) error {
	raw, err := json.MarshalToString(inv)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO invitations(id,booking_id,invitee_id,status,json) VALUES(?,?,?,?,?)`,
		inv.ID, inv.BookingID, inv.InviteeID, string(inv.Status), raw)
	return err
}

func (s *SQLite) UpsertVenueInterest(ctx context.Context, vi model.VenueInterest) error {
	raw, err := json.MarshalToString(vi)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO interests(agent_id,venue_id,json) VALUES(?,?,?)`,
		vi.AgentID, vi.VenueID, raw)
	return err
}

func (s *SQLite) UpsertSocialEdge(ctx context.Context, e model.SocialEdge) error {
	e.A, e.B = model.EdgeKey(e.A, e.B)
	raw, err := json.MarshalToString(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO edges(a,b,json) VALUES(?,?,?)`, e.A, e.B, raw)
	return err
}

func (s *SQLite) Reset(ctx context.Context) error {
	for _, table := range []string{"agents", "venues", "bookings", "invitations", "interests", "edges"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}
