package tuning

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults_Valid(t *testing.T) {
	d := Defaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	var sum float64
	for _, w := range d.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("default action weights sum %v want 1", sum)
	}
	if d.TickInterval() != time.Second {
		t.Fatalf("tick interval %v want 1s", d.TickInterval())
	}
	if d.ExplainTimeout() != 500*time.Millisecond {
		t.Fatalf("explain timeout %v want 500ms", d.ExplainTimeout())
	}
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	doc := `
tick_interval_ms: 250
seed: 42
invites:
  accept_probability: 0.5
  min_response_sec: 10
  max_response_sec: 30
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickIntervalMs != 250 || got.Seed != 42 {
		t.Fatalf("overrides lost: %+v", got)
	}
	if got.Invites.AcceptProbability != 0.5 || got.Invites.MaxResponseSec != 30 {
		t.Fatalf("nested overrides lost: %+v", got.Invites)
	}
	// Untouched knobs keep their defaults.
	if got.BaseTickSec != 1 || got.Broker.HistoryCapacity != 1000 {
		t.Fatalf("defaults clobbered: %+v", got)
	}
	if got.Weights["browse"] != 0.40 {
		t.Fatalf("default weights clobbered: %v", got.Weights)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("missing file loaded without error")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("error %v want not-exist", err)
	}
	// The defaults are still returned so callers can fall back.
	if got.TickIntervalMs != 1000 {
		t.Fatalf("fallback tuning %+v", got)
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("tick_interval_ms: -5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("negative tick interval accepted")
	}
}

func TestValidate_Errors(t *testing.T) {
	mutations := []func(*Tuning){
		func(c *Tuning) { c.BaseTickSec = 0 },
		func(c *Tuning) { c.Invites.AcceptProbability = 1.5 },
		func(c *Tuning) { c.Invites.MaxResponseSec = c.Invites.MinResponseSec - 1 },
		func(c *Tuning) { c.Broker.HistoryCapacity = 0 },
		func(c *Tuning) { c.Weights["browse"] = -0.1 },
	}
	for i, mutate := range mutations {
		cfg := Defaults()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("mutation %d passed validation", i)
		}
	}
}
