package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/strategy"
)

func TestBitDiameter(t *testing.T) {
	tests := []struct {
		name     string
		residual float64
		rate     float64
		want     int
	}{
		{"small sump, low rate", 50, 5, strategy.BitSmall},
		{"small sump, rate over 5", 50, 6, strategy.BitMedium},
		{"medium sump", 120, 4, strategy.BitMedium},
		{"medium sump, rate over 7", 120, 7.5, strategy.BitLarge},
		{"large sump", 150, 1, strategy.BitLarge},
		{"full sump", 1000, 100, strategy.BitLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategy.BitDiameter(tt.residual, tt.rate))
		})
	}
}

func TestNextInterval(t *testing.T) {
	assert.Equal(t, strategy.IntervalRelaxed, strategy.NextInterval(0))
	assert.Equal(t, strategy.IntervalRelaxed, strategy.NextInterval(5))
	assert.Equal(t, strategy.IntervalNormal, strategy.NextInterval(5.01))
	assert.Equal(t, strategy.IntervalNormal, strategy.NextInterval(9))
	assert.Equal(t, strategy.IntervalShort, strategy.NextInterval(11.9))
	assert.Equal(t, strategy.IntervalImmediate, strategy.NextInterval(12.5))
	assert.Equal(t, strategy.IntervalImmediate, strategy.NextInterval(100))
}

func TestGap(t *testing.T) {
	t.Run("should subtract follow elapsed from lead remaining time", func(t *testing.T) {
		tons, mins, gap := strategy.Gap(1250, 1000, 5, 40)

		assert.InDelta(t, 250.0, tons, 1e-9)
		assert.InDelta(t, 50.0, mins, 1e-9)
		assert.InDelta(t, 10.0, gap, 1e-9)
	})

	t.Run("should not go negative when follow has run longer", func(t *testing.T) {
		_, _, gap := strategy.Gap(1250, 1000, 5, 80)
		assert.Zero(t, gap)
	})

	t.Run("should return zero time for a stopped lead tap", func(t *testing.T) {
		tons, mins, gap := strategy.Gap(1250, 1000, 0, 0)

		assert.InDelta(t, 250.0, tons, 1e-9)
		assert.Zero(t, mins)
		assert.Zero(t, gap)
	})

	t.Run("should floor remaining output at zero", func(t *testing.T) {
		tons, _, _ := strategy.Gap(1250, 1300, 5, 0)
		assert.Zero(t, tons)
	})
}

func TestRecommend(t *testing.T) {
	th := balance.DefaultThresholds()

	t.Run("should widen the bit for a full sump", func(t *testing.T) {
		taps := balance.TapRecord{}
		rec := strategy.Recommend(balance.Compute(1000, taps, th), taps)

		assert.Equal(t, strategy.BitLarge, rec.TapBitDiameterMM)
		assert.Equal(t, strategy.IntervalImmediate, rec.NextTapInterval)
		assert.Zero(t, rec.ExpectedTapMin)
	})

	t.Run("should relax for a drained sump", func(t *testing.T) {
		taps := balance.TapRecord{ClosedTaps: 1, AvgTapOutput: 950}
		rec := strategy.Recommend(balance.Compute(1000, taps, th), taps)

		assert.Equal(t, strategy.BitSmall, rec.TapBitDiameterMM)
		assert.Equal(t, strategy.IntervalRelaxed, rec.NextTapInterval)
	})

	t.Run("should time the lead tap from its live output", func(t *testing.T) {
		taps := balance.TapRecord{AvgTapOutput: 1250, LeadElapsed: 200, LeadSpeed: 5, FollowElapsed: 40}
		rec := strategy.Recommend(balance.Compute(5000, taps, th), taps)

		assert.InDelta(t, 10.0, rec.GapMinutes, 1e-9)
		assert.InDelta(t, 50.0, rec.LeadRemainingMin, 1e-9)
		assert.InDelta(t, 250.0, rec.ExpectedTapMin, 1e-9)
	})
}
