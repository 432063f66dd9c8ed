package agent

import (
	"math"
	"time"
)

// Decay half-life for user-state contributions. A reading five minutes old
// counts half as much as a fresh one.
const deltaHalfLife = 5 * time.Minute

// ComputeRelationalDelta derives the alignment between an agent's cognitive
// state and an external user state. Pure function of its inputs; now anchors
// the temporal decay.
//
// The user's fixes component is compared against the agent's confidence:
// cognitive alignment is 1 - |fixes - confidence|, and the asynchronous delta
// is the decayed misalignment. The synchronous delta is the agent's own
// decayed resonance. Strategy selection favors listening whenever the user is
// in a fight or flight spike, mirroring under high misalignment, and
// harmonizing otherwise.
func ComputeRelationalDelta(state State, user UserState, now time.Time) RelationalDelta {
	age := now.Sub(user.Timestamp)
	if age < 0 {
		age = 0
	}
	decay := math.Pow(0.5, age.Minutes()/deltaHalfLife.Minutes())

	alignment := 1 - math.Abs(user.Fixes-state.Confidence)
	asyncDelta := (1 - alignment) * decay
	syncDelta := state.Resonance * decay

	var strategy Strategy
	switch {
	case user.Fight > 0.7 || user.Flight > 0.7:
		strategy = StrategyListen
	case asyncDelta > 0.6:
		strategy = StrategyMirror
	default:
		strategy = StrategyHarmonize
	}

	return RelationalDelta{
		AsyncDelta: asyncDelta,
		SyncDelta:  syncDelta,
		Magnitude:  math.Sqrt(asyncDelta*asyncDelta + syncDelta*syncDelta),
		Strategy:   strategy,
	}
}
