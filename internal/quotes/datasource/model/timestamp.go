package model

import (
	"math"
	"time"
)

// msThreshold separates unix seconds from unix milliseconds. Second-resolution
// values stay below it until the year 33658.
const msThreshold = 1e12

// NormalizeTs turns an upstream timestamp into a UTC instant:
// - absent (or zero) → now
// - > 1e12           → unix milliseconds
// - otherwise        → unix seconds (fractions kept)
func NormalizeTs(raw float64, present bool, now time.Time) time.Time {
	if !present || raw == 0 {
		return now.UTC()
	}
	if raw > msThreshold {
		return time.UnixMilli(int64(raw)).UTC()
	}
	sec, frac := math.Modf(raw)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
