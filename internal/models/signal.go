package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalKind identifies the rule family that produced a signal. Handling at
// the emission layer must switch exhaustively over these values so a new
// kind cannot pass through silently.
type SignalKind int

const (
	KindCertaintyKill SignalKind = iota // running high already passed the bracket
	KindForecastKill                    // forecast high far above a lower bracket
	KindForecastKillTight               // tighter-buffer variant, dormant by default
	KindUpperKill                       // adjusted forecast far below an upper bracket
	KindMiddayKill                      // noon reassessment with half a day of data
	KindCeilingNo                       // late-day ceiling, guard-vetted
	KindLockInYes                       // late-day lock-in on the current bracket, guard-vetted
)

var kindNames = map[SignalKind]string{
	KindCertaintyKill:     "FLOOR_NO_CERTAIN",
	KindForecastKill:      "FLOOR_NO_FORECAST",
	KindForecastKillTight: "FLOOR_NO_FORECAST_TIGHT",
	KindUpperKill:         "T2_UPPER",
	KindMiddayKill:        "MIDDAY_T2",
	KindCeilingNo:         "GUARANTEED_NO_CEIL",
	KindLockInYes:         "LOCKED_IN_YES",
}

func (k SignalKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SignalKind(%d)", int(k))
}

// Tier returns the confidence tier of the rule family, 1 (certain) through
// 5 (late-day, guarded).
func (k SignalKind) Tier() int {
	switch k {
	case KindCertaintyKill:
		return 1
	case KindForecastKill, KindForecastKillTight:
		return 2
	case KindUpperKill:
		return 3
	case KindMiddayKill:
		return 4
	case KindCeilingNo, KindLockInYes:
		return 5
	}
	return 0
}

// MarshalJSON encodes the kind as its wire name.
func (k SignalKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name back to a kind.
func (k *SignalKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown signal kind %q", s)
}

// Side is the market side a signal recommends entering.
type Side string

const (
	SideBuyNo  Side = "BUY_NO"
	SideBuyYes Side = "BUY_YES"
)

// Signal is a candidate produced by the signal engine. It becomes terminal
// once accepted by the emission layer, or is recorded as blocked/dormant.
type Signal struct {
	Kind        SignalKind `json:"type"`
	Tier        int        `json:"tier"`
	Side        Side       `json:"our_side"`
	Bracket     string     `json:"range"`
	YesPrice    float64    `json:"yes_price"`
	NoPrice     float64    `json:"no_price"`
	EntryPrice  float64    `json:"entry_price"`
	Edge        float64    `json:"edge"`
	Note        string     `json:"note"`
	DailyHigh   float64    `json:"daily_high"`
	TokenID     string     `json:"token_id,omitempty"`
	Blocked     bool       `json:"blocked,omitempty"`
	VetoReasons []string   `json:"veto_reasons,omitempty"`
	DetectedAt  time.Time  `json:"detected_at"`
}

// Key is the per-day dedup key: one emission per (kind, bracket) per day.
func (s Signal) Key() string {
	return s.Kind.String() + "::" + s.Bracket
}

// DailySummary is the end-of-day rollup written when the local date rolls
// over, before the new day's first observation.
type DailySummary struct {
	Date                string   `json:"date"`
	City                string   `json:"city"`
	PrimaryHigh         *float64 `json:"primary_high"`
	PrimaryLow          *float64 `json:"primary_low"`
	SecondaryHigh       *float64 `json:"secondary_high"`
	SecondaryLow        *float64 `json:"secondary_low"`
	ForecastHigh        *float64 `json:"forecast_high"`
	ForecastError       *float64 `json:"forecast_error"`
	DynamicBias         *float64 `json:"dynamic_bias"`
	SignalsFired        int      `json:"signals_fired"`
	SignalsBlocked      int      `json:"signals_blocked"`
	PrimaryReadingCount int      `json:"primary_reading_count"`
	SecondaryReadCount  int      `json:"secondary_reading_count"`
}
