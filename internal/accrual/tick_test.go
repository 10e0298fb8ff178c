package accrual

import (
	"testing"
	"time"
)

var anchor = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeTick(t *testing.T) {
	tests := []struct {
		name string
		in   TickInput
		want TickResult
	}{
		{
			name: "one full hour at rate 10",
			in: TickInput{
				LastAccruedAt: anchor,
				RatePerHour:   10,
				CapRemaining:  240,
				Now:           anchor.Add(time.Hour),
			},
			want: TickResult{
				SharesEarned:  10,
				Awarded:       10,
				Accumulated:   10,
				ResidualMs:    0,
				LastAccruedAt: anchor.Add(time.Hour),
			},
		},
		{
			name: "partial share carries residual",
			in: TickInput{
				LastAccruedAt: anchor,
				RatePerHour:   10,
				CapRemaining:  240,
				Now:           anchor.Add(9 * time.Minute), // 1.5 shares worth
			},
			want: TickResult{
				SharesEarned:  1,
				Awarded:       1,
				Accumulated:   1,
				ResidualMs:    180_000, // 3 minutes toward the next share
				LastAccruedAt: anchor.Add(9 * time.Minute),
			},
		},
		{
			name: "residual completes a share on the next tick",
			in: TickInput{
				ResidualMs:    180_000,
				LastAccruedAt: anchor,
				RatePerHour:   10,
				CapRemaining:  240,
				Now:           anchor.Add(3 * time.Minute),
			},
			want: TickResult{
				SharesEarned:  1,
				Awarded:       1,
				Accumulated:   1,
				ResidualMs:    0,
				LastAccruedAt: anchor.Add(3 * time.Minute),
			},
		},
		{
			name: "sub-share elapsed leaves state untouched",
			in: TickInput{
				Accumulated:   3,
				ResidualMs:    1_000,
				LastAccruedAt: anchor,
				RatePerHour:   10,
				CapRemaining:  240,
				Now:           anchor.Add(time.Minute),
			},
			want: TickResult{
				SharesEarned:  0,
				Awarded:       0,
				Accumulated:   3,
				ResidualMs:    1_000,
				LastAccruedAt: anchor,
			},
		},
		{
			name: "award clamped at cap, excess time discarded",
			in: TickInput{
				Accumulated:   2395,
				LastAccruedAt: anchor,
				RatePerHour:   100,
				CapRemaining:  5,
				Now:           anchor.Add(time.Hour),
			},
			want: TickResult{
				SharesEarned:  100,
				Awarded:       5,
				Accumulated:   2400,
				ResidualMs:    0,
				LastAccruedAt: anchor.Add(time.Hour),
				CapReached:    true,
			},
		},
		{
			name: "no headroom discards the elapsed time",
			in: TickInput{
				Accumulated:   240,
				LastAccruedAt: anchor,
				RatePerHour:   10,
				CapRemaining:  0,
				Now:           anchor.Add(10 * time.Hour),
			},
			want: TickResult{
				SharesEarned:  100,
				Awarded:       0,
				Accumulated:   240,
				ResidualMs:    0,
				LastAccruedAt: anchor.Add(10 * time.Hour),
				CapReached:    true,
			},
		},
		{
			name: "future anchor clamps to now",
			in: TickInput{
				Accumulated:   7,
				LastAccruedAt: anchor.Add(time.Hour),
				RatePerHour:   10,
				CapRemaining:  233,
				Now:           anchor,
			},
			want: TickResult{
				SharesEarned:  0,
				Awarded:       0,
				Accumulated:   7,
				ResidualMs:    0,
				LastAccruedAt: anchor,
			},
		},
		{
			name: "zero rate is inert",
			in: TickInput{
				Accumulated:   5,
				ResidualMs:    42,
				LastAccruedAt: anchor,
				RatePerHour:   0,
				CapRemaining:  235,
				Now:           anchor.Add(time.Hour),
			},
			want: TickResult{
				Accumulated:   5,
				ResidualMs:    42,
				LastAccruedAt: anchor,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTick(tt.in)
			if got != tt.want {
				t.Errorf("ComputeTick() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Ticking in two steps must award exactly what one combined tick would.
func TestComputeTickResidualExactness(t *testing.T) {
	const rate = 7 // Does not divide the hour evenly

	one := ComputeTick(TickInput{
		LastAccruedAt: anchor,
		RatePerHour:   rate,
		CapRemaining:  1_000_000,
		Now:           anchor.Add(95 * time.Minute),
	})

	first := ComputeTick(TickInput{
		LastAccruedAt: anchor,
		RatePerHour:   rate,
		CapRemaining:  1_000_000,
		Now:           anchor.Add(40 * time.Minute),
	})
	second := ComputeTick(TickInput{
		Accumulated:   first.Accumulated,
		ResidualMs:    first.ResidualMs,
		LastAccruedAt: first.LastAccruedAt,
		RatePerHour:   rate,
		CapRemaining:  1_000_000 - first.Awarded,
		Now:           anchor.Add(95 * time.Minute),
	})

	if second.Accumulated != one.Accumulated {
		t.Errorf("split ticks accumulated %d, single tick %d", second.Accumulated, one.Accumulated)
	}
	if second.ResidualMs != one.ResidualMs {
		t.Errorf("split ticks residual %d, single tick %d", second.ResidualMs, one.ResidualMs)
	}
}

func TestComputeTickResidualBound(t *testing.T) {
	// The carried residual must always be worth less than one share.
	for _, rate := range []int64{1, 3, 7, 10, 100, 3599} {
		for _, elapsed := range []time.Duration{time.Second, time.Minute, 17 * time.Minute, time.Hour, 26 * time.Hour} {
			res := ComputeTick(TickInput{
				LastAccruedAt: anchor,
				RatePerHour:   rate,
				CapRemaining:  1 << 40,
				Now:           anchor.Add(elapsed),
			})
			if res.Awarded > 0 && res.ResidualMs*rate >= msPerHour {
				t.Errorf("rate=%d elapsed=%s: residual %dms is worth a full share", rate, elapsed, res.ResidualMs)
			}
		}
	}
}
