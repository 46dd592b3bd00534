// Package models defines the core domain entities: observations, forecast
// series, market brackets, and trading signals.
package models

import "time"

// Observation is a single temperature reading from one weather source.
// Hour is the local hour of day as a fraction (14:30 -> 14.5).
type Observation struct {
	Source string    `json:"source"`
	TempC  float64   `json:"temp_c"`
	Hour   float64   `json:"hour"`
	At     time.Time `json:"at"`
}

// Trend classifies a short-term temperature direction.
type Trend string

const (
	TrendRising  Trend = "RISING"
	TrendFalling Trend = "FALLING"
	TrendFlat    Trend = "FLAT"
	TrendUnknown Trend = "UNKNOWN"
)

// ForecastPoint is one hourly prediction from the forecast model.
type ForecastPoint struct {
	Hour  float64 `json:"hour"`
	TempC float64 `json:"temp_c"`
}

// ForecastSeries is the model's hourly temperature curve for one local day,
// ordered by hour. It is immutable after the first successful fetch.
type ForecastSeries []ForecastPoint

// Max returns the highest predicted temperature in the series.
func (s ForecastSeries) Max() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	max := s[0].TempC
	for _, p := range s[1:] {
		if p.TempC > max {
			max = p.TempC
		}
	}
	return max, true
}

// MaxUpTo returns the highest predicted temperature at or before hour.
func (s ForecastSeries) MaxUpTo(hour float64) (float64, bool) {
	var max float64
	found := false
	for _, p := range s {
		if p.Hour > hour {
			continue
		}
		if !found || p.TempC > max {
			max = p.TempC
			found = true
		}
	}
	return max, found
}

// MaxAfter returns the highest predicted temperature strictly after hour.
func (s ForecastSeries) MaxAfter(hour float64) (float64, bool) {
	var max float64
	found := false
	for _, p := range s {
		if p.Hour <= hour {
			continue
		}
		if !found || p.TempC > max {
			max = p.TempC
			found = true
		}
	}
	return max, found
}

// PeakHour returns the hour of the highest predicted temperature.
func (s ForecastSeries) PeakHour() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	peak := s[0]
	for _, p := range s[1:] {
		if p.TempC > peak.TempC {
			peak = p
		}
	}
	return peak.Hour, true
}

// At returns the predicted temperature within tolerance hours of hour.
func (s ForecastSeries) At(hour, tolerance float64) (float64, bool) {
	for _, p := range s {
		d := p.Hour - hour
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return p.TempC, true
		}
	}
	return 0, false
}
