package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rthiery/tempmarket/internal/models"
)

func f64(v float64) *float64 { return &v }

func obsAt(hour, temp float64) models.Observation {
	return models.Observation{
		Source: "test",
		TempC:  temp,
		Hour:   hour,
		At:     time.Date(2026, 1, 15, int(hour), 0, 0, 0, time.UTC),
	}
}

// passingGuardInput builds a late-afternoon setup in which every veto check
// passes: the day has clearly peaked, every source is falling, and the
// model sees nothing warmer coming.
func passingGuardInput() GuardInput {
	return GuardInput{
		SignalHour:   16.5,
		RunningHigh:  10.0,
		BracketLower: f64(13.0),
		Primary: []models.Observation{
			obsAt(13.5, 10.0), obsAt(14.5, 9.6), obsAt(15.5, 9.1), obsAt(16.4, 8.7),
		},
		Secondary: []models.Observation{
			obsAt(14.0, 9.8), obsAt(15.0, 9.3), obsAt(16.0, 8.9),
		},
		Series: models.ForecastSeries{
			{Hour: 13, TempC: 9.5}, {Hour: 14, TempC: 9.8}, {Hour: 15, TempC: 9.2},
			{Hour: 16, TempC: 8.8}, {Hour: 17, TempC: 8.1}, {Hour: 18, TempC: 7.4},
		},
		ForecastHigh:    f64(10.0),
		ModelCorrection: 1.0,
	}
}

func TestEvaluateGuards_AllPass(t *testing.T) {
	blocked, reasons := EvaluateGuards(passingGuardInput())
	assert.False(t, blocked)
	assert.Empty(t, reasons)
}

func TestEvaluateGuards_PeakStillAhead(t *testing.T) {
	in := passingGuardInput()
	// Forecast peak moves to 22:00, well past the 16:00 signal. Keep the
	// late points coolish so only the peak-hour check trips.
	in.Series = models.ForecastSeries{
		{Hour: 14, TempC: 9.0}, {Hour: 16, TempC: 8.8},
		{Hour: 20, TempC: 9.1}, {Hour: 22, TempC: 9.3},
	}
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	assert.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "peak")
}

func TestEvaluateGuards_RemainingModelMax(t *testing.T) {
	in := passingGuardInput()
	in.Series = models.ForecastSeries{
		{Hour: 13, TempC: 9.5}, {Hour: 14, TempC: 9.8}, {Hour: 16, TempC: 8.8},
		{Hour: 18, TempC: 10.6}, // above running high 10.0 + 0.5
	}
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	// Both the peak-hour and remaining-max checks see the warm evening.
	assert.Contains(t, reasons, "model remaining max 10.6°C > running high 10.0°C")
}

func TestEvaluateGuards_ModelMaxNearBracket(t *testing.T) {
	in := passingGuardInput()
	in.BracketLower = f64(10.5)
	// Corrected model max 9.8 + 1.0 = 10.8 >= 10.5 - 1.0.
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	assert.Contains(t, reasons[0], "near bracket")
}

func TestEvaluateGuards_RisingSource(t *testing.T) {
	in := passingGuardInput()
	in.Secondary = []models.Observation{
		obsAt(14.0, 9.0), obsAt(16.0, 9.25), // +0.25, below both thresholds
	}
	blocked, _ := EvaluateGuards(in)
	assert.False(t, blocked, "sub-threshold drift must not trip the trend check")

	in.Primary = []models.Observation{
		obsAt(14.0, 9.0), obsAt(16.0, 9.4), // +0.4 over the window
	}
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	assert.Contains(t, reasons[0], "rising trend: primary")
}

func TestEvaluateGuards_SecondaryVelocity(t *testing.T) {
	in := passingGuardInput()
	in.Secondary = []models.Observation{
		obsAt(14.0, 9.0), obsAt(16.0, 9.4),
	}
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	// The same readings trip both the trend check and the velocity check.
	assert.Len(t, reasons, 2)
}

func TestEvaluateGuards_PeakNotReached(t *testing.T) {
	in := passingGuardInput()
	in.ForecastHigh = f64(11.2) // running high 10.0 < 11.2 - 0.5
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	assert.Contains(t, reasons[0], "peak not reached")
}

func TestEvaluateGuards_SingleCheckBlocks(t *testing.T) {
	// One tripped check is enough even when the other five pass.
	in := passingGuardInput()
	in.ForecastHigh = f64(12.0)
	blocked, reasons := EvaluateGuards(in)
	assert.True(t, blocked)
	assert.Len(t, reasons, 1)
}

func TestObservationTrend(t *testing.T) {
	tests := []struct {
		name string
		pts  []models.Observation
		want models.Trend
	}{
		{"empty", nil, models.TrendUnknown},
		{"single point", []models.Observation{obsAt(15, 9)}, models.TrendUnknown},
		{"rising", []models.Observation{obsAt(14, 9), obsAt(16, 9.5)}, models.TrendRising},
		{"falling", []models.Observation{obsAt(14, 9.5), obsAt(16, 9.0)}, models.TrendFalling},
		{"flat", []models.Observation{obsAt(14, 9.0), obsAt(16, 9.2)}, models.TrendFlat},
		{"outside window ignored", []models.Observation{obsAt(8, 2.0), obsAt(15, 9.0), obsAt(16, 9.1)}, models.TrendFlat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, observationTrend(tt.pts, 16.5, trendWindowHours))
		})
	}
}

func TestSecondaryVelocity_WindowBounds(t *testing.T) {
	pts := []models.Observation{
		obsAt(10.0, 5.0), // outside the 3h window ending at 16
		obsAt(13.5, 8.0),
		obsAt(15.5, 9.1),
	}
	assert.InDelta(t, 1.1, secondaryVelocity(pts, 16.0, trendWindowHours), 1e-9)
	assert.Zero(t, secondaryVelocity(pts[:1], 16.0, trendWindowHours))
}
