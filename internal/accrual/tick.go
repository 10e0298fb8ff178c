package accrual

import "time"

const msPerHour = 3_600_000

// TickInput is the persisted accrual state of one (account, instrument)
// plus the rate, the account's remaining cap headroom, and the clock.
type TickInput struct {
	Accumulated   int64
	ResidualMs    int64
	LastAccruedAt time.Time
	RatePerHour   int64
	CapRemaining  int64
	Now           time.Time
}

// TickResult is the new state after one tick.
type TickResult struct {
	SharesEarned  int64 // Before cap clamping
	Awarded       int64
	Accumulated   int64
	ResidualMs    int64
	LastAccruedAt time.Time
	CapReached    bool
}

// ComputeTick advances one accrual state to Now.
//
// sharesEarned = floor(totalElapsedMs × rate / msPerHour), where
// totalElapsedMs carries the residual from previous ticks. The award is
// clamped to the cap headroom; time earned beyond the cap is discarded, not
// banked. On an awarding tick the anchor moves to Now and the unconsumed
// remainder is preserved exactly in ResidualMs (rounded up to whole
// milliseconds consumed, so ResidualMs × rate < msPerHour always holds).
// A tick with no headroom still advances the anchor so capped-out time
// cannot be minted retroactively after a claim. A tick too short to earn a
// share leaves the state untouched apart from clamping a future-dated
// anchor back to Now.
func ComputeTick(in TickInput) TickResult {
	out := TickResult{
		Accumulated:   in.Accumulated,
		ResidualMs:    in.ResidualMs,
		LastAccruedAt: in.LastAccruedAt,
	}

	elapsed := in.Now.Sub(in.LastAccruedAt).Milliseconds()
	if elapsed < 0 {
		// Clock skew: not an error, just no accrued time.
		elapsed = 0
		out.LastAccruedAt = in.Now
	}
	if in.RatePerHour <= 0 {
		return out
	}

	total := in.ResidualMs + elapsed
	out.SharesEarned = total * in.RatePerHour / msPerHour

	capRemaining := max(in.CapRemaining, 0)
	awarded := min(out.SharesEarned, capRemaining)
	if awarded <= 0 {
		if out.SharesEarned > 0 && capRemaining == 0 {
			// Already at the cap: the elapsed time is discarded, not
			// banked for after the next claim.
			out.ResidualMs = 0
			out.LastAccruedAt = in.Now
			out.CapReached = true
		}
		return out
	}

	msConsumed := ceilDiv(awarded*msPerHour, in.RatePerHour)
	leftover := max(total-msConsumed, 0)

	out.Awarded = awarded
	out.Accumulated = in.Accumulated + awarded
	out.CapReached = awarded == capRemaining
	out.LastAccruedAt = in.Now
	if out.CapReached {
		out.ResidualMs = 0
	} else {
		out.ResidualMs = leftover
	}
	return out
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
