package balance_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/blasttap/internal/balance"
)

func ptr(v float64) *float64 { return &v }

func TestClassify(t *testing.T) {
	th := balance.DefaultThresholds()

	tests := []struct {
		residual float64
		want     balance.Status
	}{
		{0, balance.StatusNormal},
		{99.999, balance.StatusNormal},
		{100, balance.StatusWatch},
		{149.999, balance.StatusWatch},
		{150, balance.StatusExcess},
		{199.999, balance.StatusExcess},
		{200, balance.StatusCritical},
		{1000, balance.StatusCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.residual), "residual %.3f", tt.residual)
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, balance.DefaultThresholds().Validate())
	assert.Error(t, balance.Thresholds{Watch: 150, Excess: 100, Critical: 200}.Validate())
	assert.Error(t, balance.Thresholds{Watch: -1, Excess: 100, Critical: 200}.Validate())
	assert.Error(t, balance.Thresholds{Watch: 100, Excess: 100, Critical: 200}.Validate())
}

func TestStatusText(t *testing.T) {
	b, err := json.Marshal(balance.StatusExcess)
	require.NoError(t, err)
	assert.Equal(t, `"EXCESS"`, string(b))

	var s balance.Status
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &s))
	assert.Equal(t, balance.StatusCritical, s)

	assert.ErrorIs(t, s.UnmarshalText([]byte("HOT")), balance.ErrUnknownStatus)
	assert.Equal(t, "정상운전", balance.StatusNormal.Label())
}

func TestTapped(t *testing.T) {
	t.Run("should sum closed and running taps", func(t *testing.T) {
		taps := balance.TapRecord{
			ClosedTaps:    5,
			AvgTapOutput:  1250,
			LeadElapsed:   90,
			LeadSpeed:     4.5,
			FollowElapsed: 30,
			FollowSpeed:   4.5,
		}
		got := taps.Tapped()

		assert.InDelta(t, 6250.0, got.ClosedTon, 1e-9)
		assert.InDelta(t, 405.0, got.LeadTon, 1e-9)
		assert.InDelta(t, 135.0, got.FollowTon, 1e-9)
		assert.InDelta(t, 6790.0, got.TotalTon, 1e-9)
	})

	t.Run("should prefer measured running outputs", func(t *testing.T) {
		taps := balance.TapRecord{
			LeadElapsed:    90,
			LeadSpeed:      4.5,
			LeadMeasured:   ptr(380),
			FollowElapsed:  30,
			FollowSpeed:    4.5,
			FollowMeasured: ptr(0),
		}
		got := taps.Tapped()

		assert.InDelta(t, 380.0, got.LeadTon, 1e-9)
		assert.Zero(t, got.FollowTon)
	})

	t.Run("should never count negative output", func(t *testing.T) {
		taps := balance.TapRecord{ClosedTaps: -2, AvgTapOutput: 1250, LeadElapsed: -5, LeadSpeed: 4}
		assert.Zero(t, taps.Tapped().TotalTon)
	})
}

func TestCompute(t *testing.T) {
	th := balance.DefaultThresholds()

	t.Run("should flag a full sump as critical", func(t *testing.T) {
		res := balance.Compute(1000, balance.TapRecord{}, th)

		assert.Zero(t, res.Tapped.TotalTon)
		assert.InDelta(t, 1000.0, res.ResidualTon, 1e-9)
		assert.InDelta(t, 100.0, res.ResidualRate, 1e-9)
		assert.Equal(t, balance.StatusCritical, res.Status)
	})

	t.Run("should report a drained sump as normal", func(t *testing.T) {
		res := balance.Compute(1000, balance.TapRecord{ClosedTaps: 1, AvgTapOutput: 950}, th)

		assert.InDelta(t, 50.0, res.ResidualTon, 1e-9)
		assert.InDelta(t, 5.0, res.ResidualRate, 1e-9)
		assert.Equal(t, balance.StatusNormal, res.Status)
	})

	t.Run("should clamp an over-tapped balance at zero", func(t *testing.T) {
		res := balance.Compute(1000, balance.TapRecord{ClosedTaps: 1, AvgTapOutput: 1250}, th)

		assert.Zero(t, res.ResidualTon)
		assert.Zero(t, res.ResidualRate)
		assert.Equal(t, balance.StatusNormal, res.Status)
	})

	t.Run("should report a zero rate without production", func(t *testing.T) {
		res := balance.Compute(0, balance.TapRecord{}, th)

		assert.Zero(t, res.ResidualRate)
		assert.False(t, res.ResidualRate != res.ResidualRate, "rate must not be NaN")
	})

	t.Run("should compute the gap to a measured residual", func(t *testing.T) {
		res := balance.Compute(1000, balance.TapRecord{ClosedTaps: 1, AvgTapOutput: 880, MeasuredResidual: ptr(45)}, th)

		require.NotNil(t, res.ResidualGap)
		assert.InDelta(t, 75.0, *res.ResidualGap, 1e-9)
	})

	t.Run("should omit the gap without a measurement", func(t *testing.T) {
		assert.Nil(t, balance.Compute(1000, balance.TapRecord{}, th).ResidualGap)
	})

	t.Run("should estimate slag and the per-tap average", func(t *testing.T) {
		res := balance.Compute(3000, balance.TapRecord{ClosedTaps: 2, AvgTapOutput: 1125, SlagRatio: 2.25}, th)

		assert.InDelta(t, 1000.0, res.SlagTon, 1e-9)
		assert.InDelta(t, 1125.0, res.AvgPerClosedTap, 1e-9)
	})

	t.Run("should keep residual consistent with production and tapped", func(t *testing.T) {
		for _, prod := range []float64{0, 50, 999, 1000, 5000} {
			for _, closed := range []int{0, 1, 3} {
				taps := balance.TapRecord{ClosedTaps: closed, AvgTapOutput: 400, LeadElapsed: 10, LeadSpeed: 5}
				res := balance.Compute(prod, taps, th)

				assert.GreaterOrEqual(t, res.ResidualTon, 0.0)
				if prod >= res.Tapped.TotalTon {
					assert.InDelta(t, prod-res.Tapped.TotalTon, res.ResidualTon, 1e-9)
				}
				if prod > 0 {
					assert.InDelta(t, 100*res.ResidualTon/prod, res.ResidualRate, 1e-9)
				}
			}
		}
	})
}
