// Package temporal maps a simulated timestamp to calendar facts: meal
// period, weekend, holidays, season. All functions are pure.
package temporal

import "time"

type MealPeriod string

const (
	Breakfast    MealPeriod = "breakfast"
	Lunch        MealPeriod = "lunch"
	Afternoon    MealPeriod = "afternoon"
	Dinner       MealPeriod = "dinner"
	LateNight    MealPeriod = "late_night"
	EarlyMorning MealPeriod = "early_morning"
)

type Season string

const (
	Winter Season = "winter"
	Spring Season = "spring"
	Summer Season = "summer"
	Fall   Season = "fall"
)

// Context is the calendar view of one simulated instant.
type Context struct {
	Hour       int
	Weekday    time.Weekday
	MealPeriod MealPeriod
	IsWeekend  bool
	IsHoliday  bool
	Holiday    string
	Impact     string // holiday impact: low, medium, high
	Season     Season
}

type holiday struct {
	name   string
	impact string
}

// Fixed-date holiday table.
var holidays = map[[2]int]holiday{
	{1, 1}:   {"New Year's Day", "high"},
	{2, 14}:  {"Valentine's Day", "high"},
	{7, 4}:   {"Independence Day", "medium"},
	{10, 31}: {"Halloween", "medium"},
	{11, 25}: {"Thanksgiving", "high"},
	{12, 25}: {"Christmas", "high"},
	{12, 31}: {"New Year's Eve", "high"},
}

// At derives the temporal context for a simulated timestamp.
func At(t time.Time) Context {
	c := Context{
		Hour:    t.Hour(),
		Weekday: t.Weekday(),
		Season:  seasonOf(t.Month()),
	}
	c.MealPeriod = mealPeriodOf(c.Hour)
	c.IsWeekend = c.Weekday == time.Saturday || c.Weekday == time.Sunday
	if h, ok := holidays[[2]int{int(t.Month()), t.Day()}]; ok {
		c.IsHoliday = true
		c.Holiday = h.name
		c.Impact = h.impact
	}
	return c
}

func mealPeriodOf(hour int) MealPeriod {
	switch {
	case hour < 6:
		return EarlyMorning
	case hour < 11:
		return Breakfast
	case hour < 15:
		return Lunch
	case hour < 18:
		return Afternoon
	case hour < 22:
		return Dinner
	default:
		return LateNight
	}
}

func seasonOf(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	default:
		return Fall
	}
}

// Modifiers returns the action-weight multipliers implied by the context.
// Keys are behavior action names; absent actions are unmodified.
func Modifiers(c Context) map[string]float64 {
	m := map[string]float64{}
	apply := func(table map[string]float64) {
		for action, f := range table {
			if cur, ok := m[action]; ok {
				m[action] = cur * f
			} else {
				m[action] = f
			}
		}
	}

	apply(mealModifiers[c.MealPeriod])

	if c.IsWeekend {
		apply(map[string]float64{"send_invite": 1.3, "check_friends": 1.2, "make_booking": 1.15})
		if c.Weekday == time.Saturday && (c.MealPeriod == Breakfast || c.MealPeriod == Lunch) {
			apply(map[string]float64{"browse": 1.4, "express_interest": 1.3, "make_booking": 1.5})
		}
		if c.Weekday == time.Sunday {
			apply(map[string]float64{"browse": 1.2, "express_interest": 1.1})
		}
	}

	if c.IsHoliday {
		base := map[string]float64{"low": 1.1, "medium": 1.3, "high": 1.5}[c.Impact]
		if base == 0 {
			base = 1.2
		}
		apply(map[string]float64{
			"send_invite":      base,
			"check_friends":    base * 0.9,
			"express_interest": base * 0.8,
		})
		switch c.Holiday {
		case "Valentine's Day":
			apply(map[string]float64{"send_invite": 1.3, "make_booking": 1.5})
		case "Thanksgiving", "Christmas":
			apply(map[string]float64{"check_friends": 1.4, "browse": 0.8})
		case "New Year's Eve":
			apply(map[string]float64{"send_invite": 1.6, "make_booking": 1.4})
		}
	}

	apply(seasonModifiers[c.Season])
	return m
}

var mealModifiers = map[MealPeriod]map[string]float64{
	Breakfast: {"browse": 1.1, "check_friends": 0.8, "send_invite": 0.7, "make_booking": 0.9},
	Lunch:     {"browse": 1.5, "make_booking": 1.5, "send_invite": 0.9, "express_interest": 1.2},
	Afternoon: {"browse": 1.2, "check_friends": 1.1, "express_interest": 1.1},
	Dinner:    {"browse": 1.3, "send_invite": 1.3, "make_booking": 1.4, "express_interest": 1.2, "check_friends": 1.2},
	LateNight: {"browse": 0.8, "check_friends": 1.3, "send_invite": 1.2, "make_booking": 0.6},
	EarlyMorning: {
		"browse": 0.5, "check_friends": 0.4, "send_invite": 0.3,
		"make_booking": 0.3, "express_interest": 0.4, "respond_invite": 0.5,
	},
}

var seasonModifiers = map[Season]map[string]float64{
	Summer: {"browse": 1.15, "send_invite": 1.1, "express_interest": 1.1},
	Winter: {"browse": 1.05, "make_booking": 1.1},
	Spring: {"browse": 1.1, "express_interest": 1.05},
	Fall:   {"browse": 1.05, "make_booking": 1.05},
}

// DefaultSlot picks the booking slot consistent with the current meal
// period: before lunch book lunch today, before dinner book dinner today,
// otherwise next day's lunch.
func DefaultSlot(now time.Time) time.Time {
	switch {
	case now.Hour() < 11:
		return time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	case now.Hour() < 17:
		return time.Date(now.Year(), now.Month(), now.Day(), 19, 0, 0, 0, now.Location())
	default:
		next := now.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), 12, 0, 0, 0, now.Location())
	}
}
