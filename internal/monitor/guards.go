package monitor

import (
	"fmt"
	"strings"

	"github.com/rthiery/tempmarket/internal/models"
)

// Guard thresholds. The guards are deliberately one-sided: they only ever
// block, never promote, so a too-tight threshold costs an entry while a
// too-loose one risks a losing late-day trade.
const (
	trendWindowHours   = 3.0
	trendDelta         = 0.3
	remainingMaxMargin = 0.5
	nearBracketMargin  = 1.0
	velocityLimit      = 0.3
	peakReachedMargin  = 0.5
)

// GuardInput carries everything the guard evaluator inspects. The evaluator
// is pure: identical inputs always produce the same verdict.
type GuardInput struct {
	SignalHour      float64
	RunningHigh     float64
	BracketLower    *float64
	Primary         []models.Observation
	Secondary       []models.Observation
	Series          models.ForecastSeries
	ForecastHigh    *float64
	ModelCorrection float64
}

// EvaluateGuards runs the six independent veto checks for a late-day
// candidate. The candidate is blocked if any single check trips; each
// tripped check contributes a human-readable reason.
func EvaluateGuards(in GuardInput) (blocked bool, reasons []string) {
	// Guard 1: the model's peak hour is still ahead of the signal.
	if peak, ok := in.Series.PeakHour(); ok && peak > in.SignalHour {
		reasons = append(reasons, fmt.Sprintf("model peak at %d:00 > signal at %d:00",
			int(peak), int(in.SignalHour)))
	}

	// Guard 2: the model expects higher temperatures in the remaining hours.
	if remMax, ok := in.Series.MaxAfter(in.SignalHour); ok && remMax > in.RunningHigh+remainingMaxMargin {
		reasons = append(reasons, fmt.Sprintf("model remaining max %.1f°C > running high %.1f°C",
			remMax, in.RunningHigh))
	}

	// Guard 3: the model's own corrected maximum sits too close to the bracket.
	if in.BracketLower != nil {
		if rawMax, ok := in.Series.Max(); ok {
			corrected := rawMax + in.ModelCorrection
			if corrected >= *in.BracketLower-nearBracketMargin {
				reasons = append(reasons, fmt.Sprintf("model high %.1f°C near bracket %.1f°C",
					corrected, *in.BracketLower))
			}
		}
	}

	// Guard 4: any source rising as of the signal hour blocks.
	var rising []string
	if observationTrend(in.Primary, in.SignalHour, trendWindowHours) == models.TrendRising {
		rising = append(rising, "primary")
	}
	if observationTrend(in.Secondary, in.SignalHour, trendWindowHours) == models.TrendRising {
		rising = append(rising, "secondary")
	}
	if seriesTrend(in.Series, in.SignalHour, trendWindowHours) == models.TrendRising {
		rising = append(rising, "model")
	}
	if len(rising) > 0 {
		reasons = append(reasons, "rising trend: "+strings.Join(rising, ", "))
	}

	// Guard 5: fine-precision source velocity over the trailing window.
	if vel := secondaryVelocity(in.Secondary, in.SignalHour, trendWindowHours); vel > velocityLimit {
		reasons = append(reasons, fmt.Sprintf("secondary +%.1f°C/%.0fh", vel, trendWindowHours))
	}

	// Guard 6: the day may not have peaked if the running high is still
	// well short of the forecast high.
	if in.ForecastHigh != nil && in.RunningHigh < *in.ForecastHigh-peakReachedMargin {
		reasons = append(reasons, fmt.Sprintf("peak not reached: high %.1f°C < forecast %.1f°C - %.1f",
			in.RunningHigh, *in.ForecastHigh, peakReachedMargin))
	}

	return len(reasons) > 0, reasons
}

// observationTrend classifies the first-vs-last temperature movement among
// readings inside the trailing window ending at atHour.
func observationTrend(pts []models.Observation, atHour, window float64) models.Trend {
	var first, last *models.Observation
	for i := range pts {
		p := &pts[i]
		if p.Hour < atHour-window || p.Hour > atHour {
			continue
		}
		if first == nil {
			first = p
		}
		last = p
	}
	if first == nil || last == first {
		return models.TrendUnknown
	}
	return classifyDelta(last.TempC - first.TempC)
}

// seriesTrend applies the same window logic to the forecast curve.
func seriesTrend(s models.ForecastSeries, atHour, window float64) models.Trend {
	var first, last *models.ForecastPoint
	for i := range s {
		p := &s[i]
		if p.Hour < atHour-window || p.Hour > atHour {
			continue
		}
		if first == nil {
			first = p
		}
		last = p
	}
	if first == nil || last == first {
		return models.TrendUnknown
	}
	return classifyDelta(last.TempC - first.TempC)
}

func classifyDelta(delta float64) models.Trend {
	switch {
	case delta > trendDelta:
		return models.TrendRising
	case delta < -trendDelta:
		return models.TrendFalling
	}
	return models.TrendFlat
}

// secondaryVelocity is the temperature change across the trailing window,
// first reading to last. Zero when fewer than two readings fall inside.
func secondaryVelocity(pts []models.Observation, atHour, window float64) float64 {
	var first, last *models.Observation
	for i := range pts {
		p := &pts[i]
		if p.Hour < atHour-window || p.Hour > atHour {
			continue
		}
		if first == nil {
			first = p
		}
		last = p
	}
	if first == nil || last == first {
		return 0
	}
	return last.TempC - first.TempC
}
