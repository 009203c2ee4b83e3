// Package ephemeris defines the narrow external contract for a
// moving-target position source: the core queries a target's position,
// motion rate, and position angle at a batch of times and treats the
// result as a best-effort, possibly partial, answer from an out-of-process
// service. Sample carries named celestial fields rather than a positional
// slice, since the core never talks to an ephemeris engine directly — it
// only needs this contract's shape.
package ephemeris

import (
	"context"
	"time"
)

// Sample is one target position at one instant: time, RA, Dec,
// per-exposure motion rate, and position angle.
type Sample struct {
	Time             time.Time
	RADeg            float64
	DecDeg           float64
	RateArcsecPerMin float64
	PositionAngleDeg float64 // measured from north, increasing east
}

// Source is the external ephemeris contract: query(target, [t1, ... tn])
// -> {ti: (RA, Dec, rate, PA)}. A real implementation (Find_Orb, Skybot,
// MPC) lives entirely outside the core; the core only ever calls this
// interface.
type Source interface {
	Query(ctx context.Context, target string, times []time.Time) (map[time.Time]Sample, error)
}
