package models

import "time"

// MarketSnapshot captures the bracket catalog together with the bias and
// forecast state at one cycle, for the structured log and persistence.
type MarketSnapshot struct {
	Slug            string    `json:"slug"`
	CurrentC        *float64  `json:"current_c,omitempty"`
	DailyHigh       *float64  `json:"daily_high_c,omitempty"`
	LocalHour       int       `json:"local_hour"`
	YesSum          float64   `json:"yes_sum"`
	DynamicBias     *float64  `json:"dynamic_bias,omitempty"`
	DynamicForecast *float64  `json:"dynamic_forecast,omitempty"`
	Brackets        []Bracket `json:"markets"`
	At              time.Time `json:"-"`
}

// BracketQuote pairs a bracket label with its yes quote for summaries.
type BracketQuote struct {
	Label    string
	YesPrice *float64
}

// MorningSummary lists every bracket killed so far by tier, sent once after
// the bias estimator's cutoff hour.
type MorningSummary struct {
	At              time.Time
	City            string
	RunningHigh     *float64
	ForecastHigh    *float64
	DynamicBias     *float64
	DynamicForecast *float64
	Tier1Dead       []BracketQuote
	Tier2Dead       []BracketQuote
	UpperDead       []BracketQuote
	Alive           []string
}
