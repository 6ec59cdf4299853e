// Package explain produces one-line natural language reasons for
// recommendations. When an external generator is configured it is asked
// first with a hard timeout; any failure falls back to a deterministic
// template so recommendations always carry an explanation.
package explain

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"luna.social/internal/model"
	"luna.social/internal/sim/scoring"
)

var json = jsoniter.ConfigFastest

type Client struct {
	base string
	http *http.Client
}

// New builds a client. An empty baseURL disables the remote generator
// and every call uses the local template.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type request struct {
	AgentName  string  `json:"agent_name"`
	Persona    string  `json:"persona"`
	VenueName  string  `json:"venue_name"`
	Cuisine    string  `json:"cuisine"`
	DistanceKm float64 `json:"distance_km"`
	Score      float64 `json:"score"`
}

type response struct {
	Explanation string `json:"explanation"`
}

// Recommendation returns a reason string for suggesting the venue to the
// agent. It never fails; remote errors degrade to the template.
func (c *Client) Recommendation(ctx context.Context, agent model.Agent, vs scoring.VenueScore) string {
	if c.base != "" {
		if s, err := c.remote(ctx, agent, vs); err == nil && s != "" {
			return s
		}
	}
	return Template(agent, vs)
}

func (c *Client) remote(ctx context.Context, agent model.Agent, vs scoring.VenueScore) (string, error) {
	body, err := json.Marshal(request{
		AgentName:  agent.Name,
		Persona:    string(agent.Persona),
		VenueName:  vs.Venue.Name,
		Cuisine:    vs.Venue.CuisineType,
		DistanceKm: vs.DistanceKm,
		Score:      vs.Score,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/explain", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("explain: status %d", resp.StatusCode)
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Explanation), nil
}

// Template is the deterministic local explanation.
func Template(agent model.Agent, vs scoring.VenueScore) string {
	parts := []string{fmt.Sprintf("%s is a %.1f km trip", vs.Venue.Name, vs.DistanceKm)}
	for _, c := range agent.Prefs.Cuisines {
		if c == vs.Venue.CuisineType {
			parts = append(parts, fmt.Sprintf("serves the %s food you like", c))
			break
		}
	}
	if vs.Venue.Trending {
		parts = append(parts, "is trending right now")
	} else if vs.Venue.Popularity >= 0.7 {
		parts = append(parts, "is popular with locals")
	}
	return strings.Join(parts, ", ")
}
