package monitor

import (
	"github.com/rthiery/tempmarket/internal/models"
)

// forecastMatchTolerance is how far (in hours) a forecast point may sit
// from a reading and still pair with it for bias estimation.
const forecastMatchTolerance = 0.5

// ComputeBias estimates the forecast model's systematic offset for the day:
// the mean of (actual − predicted) over all readings at or before
// cutoffHour, each paired with the forecast point within ±30 minutes of its
// hour. Readings after the cutoff are never incorporated, even when they
// already exist in the history. Returns 0 when no pairs match.
//
// A positive bias means the model underforecasts (actuals run warmer).
func ComputeBias(history []models.Observation, series models.ForecastSeries, cutoffHour float64) float64 {
	var sum float64
	var n int
	for _, obs := range history {
		if obs.Hour > cutoffHour {
			continue
		}
		predicted, ok := series.At(obs.Hour, forecastMatchTolerance)
		if !ok {
			continue
		}
		sum += obs.TempC - predicted
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
