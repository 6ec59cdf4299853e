package model

import (
	"math"
	"testing"
)

func TestPersonaValid(t *testing.T) {
	for _, p := range Personas {
		if !p.Valid() {
			t.Fatalf("persona %q should be valid", p)
		}
	}
	if Persona("night_owl").Valid() {
		t.Fatalf("unknown persona accepted")
	}
	if Persona("").Valid() {
		t.Fatalf("empty persona accepted")
	}
}

func TestEdgeKeyCanonical(t *testing.T) {
	a, b := EdgeKey("u002", "u001")
	if a != "u001" || b != "u002" {
		t.Fatalf("got %s,%s", a, b)
	}
	a, b = EdgeKey("u001", "u002")
	if a != "u001" || b != "u002" {
		t.Fatalf("already-ordered pair changed: %s,%s", a, b)
	}
}

func TestBookingStatusTerminal(t *testing.T) {
	if BookingPending.Terminal() {
		t.Fatalf("pending is not terminal")
	}
	for _, s := range []BookingStatus{BookingConfirmed, BookingCancelled, BookingFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0},
		{0, 0},
		{0.25, 0.25},
		{1, 1},
		{1.7, 1},
	}
	for _, c := range cases {
		if got := Clamp01(c.in); got != c.want {
			t.Fatalf("Clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestHaversineKm(t *testing.T) {
	p := LatLon{Lat: 40.7128, Lon: -74.0060}
	if d := HaversineKm(p, p); d != 0 {
		t.Fatalf("zero distance expected, got %v", d)
	}

	// New York to London is roughly 5570 km.
	ny := LatLon{Lat: 40.7128, Lon: -74.0060}
	lon := LatLon{Lat: 51.5074, Lon: -0.1278}
	d := HaversineKm(ny, lon)
	if d < 5500 || d > 5650 {
		t.Fatalf("NY-London distance out of range: %v", d)
	}
	if math.Abs(d-HaversineKm(lon, ny)) > 1e-9 {
		t.Fatalf("distance not symmetric")
	}

	// Two points ~1km apart along a meridian: 1 degree lat is ~111 km.
	a := LatLon{Lat: 40.0, Lon: -74.0}
	b := LatLon{Lat: 40.009, Lon: -74.0}
	d = HaversineKm(a, b)
	if d < 0.9 || d > 1.1 {
		t.Fatalf("short distance out of range: %v", d)
	}
}
