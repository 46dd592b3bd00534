// Package monitor implements the per-cycle decision core: the daily state
// tracker, the forecast-bias estimator, the tiered signal engine, and the
// guard evaluator for the late-day rules.
package monitor

import (
	"math"
	"time"

	"github.com/rthiery/tempmarket/internal/logger"
	"github.com/rthiery/tempmarket/internal/models"
)

// DailyState owns everything that has happened today. It is constructed
// fresh at each local date rollover; nothing persists across days except
// through the sinks. All mutations are appends or extreme updates, so no
// rollback is ever needed.
type DailyState struct {
	Date string // local calendar date, YYYY-MM-DD

	RunningHigh *float64
	RunningLow  *float64

	Primary   []models.Observation
	Secondary []models.Observation

	ForecastHigh *float64
	Forecast     models.ForecastSeries

	Killed map[string]bool // bracket labels confirmed dead by the certainty tier
	Fired  map[string]bool // (kind, bracket) keys already emitted today

	Bias            *float64
	DynamicForecast *float64

	MiddayDone         bool
	MorningSummarySent bool

	SignalsFired   int
	SignalsBlocked int
}

// NewDailyState returns an empty state for the given local day.
func NewDailyState(now time.Time) *DailyState {
	return &DailyState{
		Date:   now.Format("2006-01-02"),
		Killed: make(map[string]bool),
		Fired:  make(map[string]bool),
	}
}

// Tracker is the single owner of the current DailyState. Only the cycle
// driver calls into it, so no locking is required.
type Tracker struct {
	city  string
	state *DailyState
}

// NewTracker creates a tracker with a fresh state for the given local time.
func NewTracker(city string, now time.Time) *Tracker {
	return &Tracker{city: city, state: NewDailyState(now)}
}

// State returns the current day's state.
func (t *Tracker) State() *DailyState {
	return t.state
}

// Rollover checks whether the local calendar date has changed. If it has,
// it summarizes the completed day, replaces the state with a fresh one, and
// returns the summary. The summary must reach the sinks before the new
// day's first observation record.
func (t *Tracker) Rollover(now time.Time) (*models.DailySummary, bool) {
	today := now.Format("2006-01-02")
	if today == t.state.Date {
		return nil, false
	}
	summary := t.Summarize()
	high := 0.0
	if t.state.RunningHigh != nil {
		high = *t.state.RunningHigh
	}
	logger.Info("New day (%s). Resetting daily state (high was %.1f°C)", today, high)
	t.state = NewDailyState(now)
	return summary, true
}

// ObservePrimary appends a primary-source reading and updates the running
// extremes. Equal readings do not count as new extremes; the strict
// comparison avoids duplicate kill triggers on repeated values.
func (t *Tracker) ObservePrimary(obs models.Observation) (newHigh bool) {
	s := t.state
	s.Primary = append(s.Primary, obs)
	if s.RunningHigh == nil || obs.TempC > *s.RunningHigh {
		if s.RunningHigh != nil {
			logger.Info("New daily high: %.1f°C (was %.1f°C)", obs.TempC, *s.RunningHigh)
		}
		v := obs.TempC
		s.RunningHigh = &v
		newHigh = true
	}
	if s.RunningLow == nil || obs.TempC < *s.RunningLow {
		v := obs.TempC
		s.RunningLow = &v
	}
	return newHigh
}

// ObserveSecondary appends a secondary-source reading unless one for the
// same whole hour is already recorded. The secondary feed repeats its
// latest report between updates.
func (t *Tracker) ObserveSecondary(obs models.Observation) bool {
	for _, existing := range t.state.Secondary {
		if math.Round(existing.Hour) == math.Round(obs.Hour) {
			return false
		}
	}
	t.state.Secondary = append(t.state.Secondary, obs)
	return true
}

// SetForecastHigh records the day's forecast maximum. It is fetched once
// per day; later calls are ignored.
func (t *Tracker) SetForecastHigh(high float64) {
	if t.state.ForecastHigh == nil {
		v := high
		t.state.ForecastHigh = &v
	}
}

// SetForecastSeries records the day's hourly forecast curve, once.
func (t *Tracker) SetForecastSeries(series models.ForecastSeries) {
	if len(t.state.Forecast) == 0 && len(series) > 0 {
		t.state.Forecast = series
	}
}

// ApplyBias records the computed bias and derives the dynamic forecast.
// Only a positive (underforecast) bias raises the forecast; an overforecast
// is not used to lower it, since the kill rules that consume the value only
// need protection against the warm side.
func (t *Tracker) ApplyBias(bias float64) {
	s := t.state
	b := bias
	s.Bias = &b
	if s.ForecastHigh != nil {
		v := round1(*s.ForecastHigh + math.Max(0, bias))
		s.DynamicForecast = &v
	}
}

// Summarize builds the end-of-day rollup for the current state.
func (t *Tracker) Summarize() *models.DailySummary {
	s := t.state
	sum := &models.DailySummary{
		Date:                s.Date,
		City:                t.city,
		PrimaryHigh:         s.RunningHigh,
		PrimaryLow:          s.RunningLow,
		ForecastHigh:        s.ForecastHigh,
		DynamicBias:         s.Bias,
		SignalsFired:        s.SignalsFired,
		SignalsBlocked:      s.SignalsBlocked,
		PrimaryReadingCount: len(s.Primary),
		SecondaryReadCount:  len(s.Secondary),
	}
	for _, obs := range s.Secondary {
		if sum.SecondaryHigh == nil || obs.TempC > *sum.SecondaryHigh {
			v := obs.TempC
			sum.SecondaryHigh = &v
		}
		if sum.SecondaryLow == nil || obs.TempC < *sum.SecondaryLow {
			v := obs.TempC
			sum.SecondaryLow = &v
		}
	}
	if s.ForecastHigh != nil && s.RunningHigh != nil {
		v := round1(*s.RunningHigh - *s.ForecastHigh)
		sum.ForecastError = &v
	}
	return sum
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
