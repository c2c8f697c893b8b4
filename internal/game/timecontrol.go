package game

import (
	"strconv"
	"strings"
)

// Category buckets time controls.
type Category string

const (
	Bullet  Category = "bullet"
	Blitz   Category = "blitz"
	Rapid   Category = "rapid"
	Daily   Category = "daily"
	Unknown Category = "unknown"
)

// Categories lists the categories in report order.
var Categories = []Category{Bullet, Blitz, Rapid, Daily, Unknown}

// ParseCategory reads a category name; "all" and "" return false.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case Bullet, Blitz, Rapid, Daily, Unknown:
		return c, true
	}
	return "", false
}

// TimeControl is a parsed PGN TimeControl tag.
type TimeControl struct {
	Raw       string   `json:"raw"`
	Base      int      `json:"base_s"`
	Increment int      `json:"increment_s"`
	Category  Category `json:"category"`
}

// ParseTimeControl classifies "base+inc", "base" and "moves/seconds" forms.
func ParseTimeControl(raw string) TimeControl {
	raw = strings.TrimSpace(raw)
	tc := TimeControl{Raw: raw, Category: Unknown}
	if raw == "" || raw == "-" || raw == "?" {
		return tc
	}
	if _, per, ok := strings.Cut(raw, "/"); ok {
		if secs, err := strconv.Atoi(per); err == nil && secs >= 86400 {
			tc.Base = secs
			tc.Category = Daily
			return tc
		}
	}
	baseStr, incStr, hasInc := strings.Cut(raw, "+")
	base, err := strconv.Atoi(baseStr)
	if err != nil || base < 0 {
		return tc
	}
	tc.Base = base
	if hasInc {
		if inc, err := strconv.Atoi(incStr); err == nil && inc >= 0 {
			tc.Increment = inc
		}
	}
	switch {
	case base < 180:
		tc.Category = Bullet
	case base < 600:
		tc.Category = Blitz
	case base < 1800:
		tc.Category = Rapid
	default:
		tc.Category = Daily
	}
	return tc
}

// Thresholds returns the insta-move and time-trouble limits in seconds.
// Daily games use the rapid limits; unknown ones use blitz.
func (c Category) Thresholds() (insta, trouble float64) {
	switch c {
	case Bullet:
		return 1, 5
	case Rapid, Daily:
		return 3, 30
	}
	return 2, 10
}
