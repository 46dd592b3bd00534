package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Bracket is one outcome of a daily temperature market. Exactly one of
// Lower/Upper is nil for open-ended brackets; Lower == Upper denotes an
// exact-degree bracket. YesPrice is nil when the market has no quote yet.
type Bracket struct {
	Question  string   `json:"question"`
	Label     string   `json:"label"`
	Lower     *float64 `json:"lower,omitempty"`
	Upper     *float64 `json:"upper,omitempty"`
	YesPrice  *float64 `json:"yes_price,omitempty"`
	NoPrice   *float64 `json:"no_price,omitempty"`
	Volume    float64  `json:"volume"`
	Slug      string   `json:"slug,omitempty"`
	TokenID   string   `json:"token_id,omitempty"`
	NoTokenID string   `json:"no_token_id,omitempty"`
	Closed    bool     `json:"closed"`
}

// Quoted reports whether the bracket is open and carries a yes quote.
func (b Bracket) Quoted() bool {
	return !b.Closed && b.YesPrice != nil
}

// Exact reports whether the bracket resolves on a single degree value.
func (b Bracket) Exact() bool {
	return b.Lower != nil && b.Upper != nil && *b.Lower == *b.Upper
}

// No returns the no-side price, deriving it from the yes quote when the
// market publishes only one side.
func (b Bracket) No() float64 {
	if b.NoPrice != nil {
		return *b.NoPrice
	}
	if b.YesPrice != nil {
		return 1.0 - *b.YesPrice
	}
	return 0
}

var (
	reFloor   = regexp.MustCompile(`be\s+(-?\d+)\s*C\s+or\s+below`)
	reCeiling = regexp.MustCompile(`be\s+(-?\d+)\s*C\s+or\s+higher`)
	reExact   = regexp.MustCompile(`be\s+(-?\d+)\s*C\s+on`)
)

// ParseBracketRange extracts the temperature range from a market question.
// Single-degree Celsius markets phrase outcomes three ways:
//
//	"be 14°C on ..."          -> (14, 14)  exact degree
//	"be 9°C or below on ..."  -> (nil, 9)  floor bracket
//	"be 17°C or higher on..." -> (17, nil) ceiling bracket
func ParseBracketRange(question string) (lower, upper *float64) {
	q := strings.ReplaceAll(question, "°", "")
	if m := reFloor.FindStringSubmatch(q); m != nil {
		v := parseDegrees(m[1])
		return nil, &v
	}
	if m := reCeiling.FindStringSubmatch(q); m != nil {
		v := parseDegrees(m[1])
		return &v, nil
	}
	if m := reExact.FindStringSubmatch(q); m != nil {
		v := parseDegrees(m[1])
		w := v
		return &v, &w
	}
	return nil, nil
}

func parseDegrees(s string) float64 {
	var v float64
	fmt.Sscanf(s, "%f", &v)
	return v
}

// RangeLabel renders a compact human-readable label for a bracket range.
func RangeLabel(lower, upper *float64) string {
	switch {
	case lower == nil && upper != nil:
		return fmt.Sprintf("<=%.0f°C", *upper)
	case upper == nil && lower != nil:
		return fmt.Sprintf(">=%.0f°C", *lower)
	case lower != nil && upper != nil && *lower == *upper:
		return fmt.Sprintf("%.0f°C", *lower)
	case lower != nil && upper != nil:
		return fmt.Sprintf("%.0f-%.0f°C", *lower, *upper)
	}
	return "?"
}
