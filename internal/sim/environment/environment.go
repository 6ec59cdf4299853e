// Package environment produces synthetic weather, traffic, and
// special-event facts for a timestamp and location. Output is a pure
// function of its inputs: weather is seeded per hour and special events
// per day, so repeated calls within the same window agree.
package environment

import (
	"math"
	"math/rand"
	"time"

	"luna.social/internal/model"
)

type Weather struct {
	Condition     string  `json:"condition"` // sunny, cloudy, rainy, snow
	TemperatureF  float64 `json:"temperature_f"`
	Humidity      float64 `json:"humidity"`
	Precipitation float64 `json:"precipitation"`
	WindMph       float64 `json:"wind_mph"`
}

type Traffic struct {
	Level            string  `json:"level"` // low, medium, high
	DelayMinutes     float64 `json:"delay_minutes"`
	CongestionFactor float64 `json:"congestion_factor"`
}

type SpecialEvent struct {
	Kind       string       `json:"kind"` // concert, sports, festival
	Name       string       `json:"name"`
	Location   model.LatLon `json:"location"`
	RadiusKm   float64      `json:"radius_km"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Attendance int          `json:"attendance"`
}

// Context bundles all environmental facts for one instant and place.
type Context struct {
	Weather Weather        `json:"weather"`
	Traffic Traffic        `json:"traffic"`
	Events  []SpecialEvent `json:"special_events"`
}

type seasonalWeather struct {
	conditions []string
	tempMin    float64
	tempMax    float64
	humMin     float64
	humMax     float64
}

var seasonal = map[time.Month]seasonalWeather{}

func init() {
	winter := seasonalWeather{[]string{"sunny", "cloudy", "snow", "cloudy"}, 25, 45, 30, 60}
	spring := seasonalWeather{[]string{"sunny", "cloudy", "rainy", "sunny"}, 45, 70, 40, 70}
	summer := seasonalWeather{[]string{"sunny", "sunny", "cloudy", "rainy"}, 70, 95, 50, 80}
	fall := seasonalWeather{[]string{"sunny", "cloudy", "rainy", "cloudy"}, 45, 70, 40, 65}
	for _, m := range []time.Month{time.December, time.January, time.February} {
		seasonal[m] = winter
	}
	for _, m := range []time.Month{time.March, time.April, time.May} {
		seasonal[m] = spring
	}
	for _, m := range []time.Month{time.June, time.July, time.August} {
		seasonal[m] = summer
	}
	for _, m := range []time.Month{time.September, time.October, time.November} {
		seasonal[m] = fall
	}
}

// Hourly traffic congestion pattern; hours not listed are medium/1.0.
var trafficPattern = map[int]Traffic{
	7:  {Level: "high", CongestionFactor: 1.8},
	8:  {Level: "high", CongestionFactor: 2.0},
	9:  {Level: "medium", CongestionFactor: 1.5},
	12: {Level: "medium", CongestionFactor: 1.3},
	13: {Level: "medium", CongestionFactor: 1.2},
	17: {Level: "high", CongestionFactor: 2.0},
	18: {Level: "high", CongestionFactor: 1.8},
	19: {Level: "medium", CongestionFactor: 1.4},
	22: {Level: "low", CongestionFactor: 0.8},
	23: {Level: "low", CongestionFactor: 0.7},
	0:  {Level: "low", CongestionFactor: 0.6},
	1:  {Level: "low", CongestionFactor: 0.5},
}

var sampleEvents = []SpecialEvent{
	{Kind: "concert", Name: "Summer Music Festival", Location: model.LatLon{Lat: 40.7580, Lon: -73.9855}, RadiusKm: 2.0, Attendance: 5000},
	{Kind: "sports", Name: "Basketball Game", Location: model.LatLon{Lat: 40.7505, Lon: -73.9934}, RadiusKm: 1.5, Attendance: 20000},
	{Kind: "festival", Name: "Food & Wine Festival", Location: model.LatLon{Lat: 40.7128, Lon: -74.0060}, RadiusKm: 1.0, Attendance: 3000},
}

var eventDurations = map[string]time.Duration{
	"concert":  4 * time.Hour,
	"sports":   3 * time.Hour,
	"festival": 6 * time.Hour,
}

// At returns the full environmental context for a location and time.
func At(loc model.LatLon, t time.Time) Context {
	return Context{
		Weather: WeatherAt(loc, t),
		Traffic: TrafficAt(loc, t),
		Events:  SpecialEventsAt(loc, t, 5.0),
	}
}

// WeatherAt is stable for all calls within the same hour.
func WeatherAt(_ model.LatLon, t time.Time) Weather {
	rng := rand.New(rand.NewSource(t.Unix() / 3600))
	s := seasonal[t.Month()]

	condition := s.conditions[rng.Intn(len(s.conditions))]

	// Temperature peaks mid-afternoon.
	base := (s.tempMin + s.tempMax) / 2
	temp := base + math.Sin(float64(t.Hour()-6)*math.Pi/12)*10 + rng.Float64()*10 - 5
	temp = math.Max(s.tempMin, math.Min(s.tempMax, temp))

	hum := s.humMin + rng.Float64()*(s.humMax-s.humMin)

	var precip float64
	switch condition {
	case "rainy":
		precip = 0.3 + rng.Float64()*0.5
	case "snow":
		precip = 0.2 + rng.Float64()*0.4
	case "cloudy":
		precip = rng.Float64() * 0.2
	}

	wind := rng.Float64() * 15
	if condition == "rainy" || condition == "snow" {
		wind += 5 + rng.Float64()*10
	}

	return Weather{
		Condition:     condition,
		TemperatureF:  math.Round(temp*10) / 10,
		Humidity:      math.Round(hum*10) / 10,
		Precipitation: math.Round(precip*100) / 100,
		WindMph:       math.Round(wind*10) / 10,
	}
}

func TrafficAt(_ model.LatLon, t time.Time) Traffic {
	tr, ok := trafficPattern[t.Hour()]
	if !ok {
		tr = Traffic{Level: "medium", CongestionFactor: 1.0}
	}
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		if tr.Level == "high" {
			tr.Level = "medium"
		}
		tr.CongestionFactor *= 0.7
	}
	tr.DelayMinutes = math.Round(5*tr.CongestionFactor*10) / 10
	tr.CongestionFactor = math.Round(tr.CongestionFactor*100) / 100
	return tr
}

// SpecialEventsAt is stable for all calls within the same day. An event
// happens on roughly 30% of days, in the evening, and is reported only
// while ongoing or starting within two hours and within radiusKm.
func SpecialEventsAt(loc model.LatLon, t time.Time, radiusKm float64) []SpecialEvent {
	rng := rand.New(rand.NewSource(t.Unix() / 86400))
	if rng.Float64() >= 0.3 {
		return nil
	}
	ev := sampleEvents[rng.Intn(len(sampleEvents))]
	startHour := 17 + rng.Intn(4)
	ev.Start = time.Date(t.Year(), t.Month(), t.Day(), startHour, 0, 0, 0, t.Location())
	ev.End = ev.Start.Add(eventDurations[ev.Kind])

	ongoing := !t.Before(ev.Start) && !t.After(ev.End)
	upcoming := ev.Start.After(t) && ev.Start.Sub(t) < 2*time.Hour
	if !ongoing && !upcoming {
		return nil
	}
	if model.HaversineKm(loc, ev.Location) > radiusKm {
		return nil
	}
	return []SpecialEvent{ev}
}

// Modifiers returns action-weight multipliers implied by the weather.
func Modifiers(c Context) map[string]float64 {
	m := map[string]float64{}
	switch c.Weather.Condition {
	case "rainy":
		m["browse"] = 0.9
		m["send_invite"] = 0.8
		m["make_booking"] = 1.1
	case "snow":
		m["browse"] = 0.7
		m["send_invite"] = 0.6
		m["make_booking"] = 0.8
	case "sunny":
		if c.Weather.TemperatureF >= 65 && c.Weather.TemperatureF <= 85 {
			m["browse"] = 1.1
			m["send_invite"] = 1.1
			m["express_interest"] = 1.15
		}
	}
	if c.Weather.TemperatureF > 95 || c.Weather.TemperatureF < 20 {
		for _, a := range []string{"browse", "check_friends", "express_interest", "send_invite", "respond_invite", "make_booking"} {
			if cur, ok := m[a]; ok {
				m[a] = cur * 0.8
			} else {
				m[a] = 0.8
			}
		}
	}
	return m
}
