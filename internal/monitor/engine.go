package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/rthiery/tempmarket/internal/logger"
	"github.com/rthiery/tempmarket/internal/models"
)

// Config holds the engine's rule constants and per-rule enable flags.
type Config struct {
	// RoundingBuffer is the tolerance added to a bracket boundary to
	// account for the market's resolution rounding. Single-degree brackets
	// resolve on the rounded high, so a bracket is dead once the running
	// high reaches boundary + 0.5.
	RoundingBuffer float64

	ForecastKillBuffer float64 // lower-bracket forecast gap (tier 2)
	TightKillBuffer    float64 // tighter tier-2 variant, dormant by default
	UpperKillBuffer    float64 // upper-bracket gap, stricter than tier 2
	MiddayKillBuffer   float64 // noon reassessment gap
	BiasDanger         float64 // morning bias above this means the model underforecasts
	CeilingGap         float64 // late-day gap for ceiling candidates
	ModelCorrection    float64 // static offset added to raw model output

	MinYesEdge float64 // skip trades whose quote leaves no usable edge

	CutoffHour  int // bias estimation and morning summary
	MiddayHour  int // reassessment window start (window is one hour wide)
	LateDayHour int // ceiling candidates
	LockInHour  int // lock-in candidates

	// SkipFallingMorning disables tier 2 while the model's short-term
	// trend is falling before noon. Kept as rule metadata: the heuristic
	// is asymmetric on purpose and conservative about firing before the
	// forecast stabilizes.
	SkipFallingMorning bool

	// Per-rule enable flags. Disabled rules still compute and journal
	// their would-fire status as dormant signals.
	TightLowerEnabled bool
	CeilingNoEnabled  bool
	LockInEnabled     bool
}

// DefaultConfig returns the validated production constants.
func DefaultConfig() Config {
	return Config{
		RoundingBuffer:     0.5,
		ForecastKillBuffer: 4.0,
		TightKillBuffer:    3.5,
		UpperKillBuffer:    5.0,
		MiddayKillBuffer:   2.5,
		BiasDanger:         1.0,
		CeilingGap:         2.0,
		ModelCorrection:    1.0,
		MinYesEdge:         0.01,
		CutoffHour:         9,
		MiddayHour:         12,
		LateDayHour:        16,
		LockInHour:         17,
		SkipFallingMorning: true,
		TightLowerEnabled:  false,
		CeilingNoEnabled:   false,
		LockInEnabled:      false,
	}
}

// Engine evaluates the five confidence-ordered rule tiers against the
// current state and bracket catalog. It reads state but mutates only the
// killed-bracket set and the blocked counter; emission dedup is the
// monitor's job.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given rule configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluation is the outcome of one engine pass.
type Evaluation struct {
	Candidates []models.Signal // proposals, subject to per-day dedup
	Dormant    []models.Signal // would fire, but the rule is disabled
	Blocked    []models.Signal // vetoed, with the tripped reasons
}

// Evaluate runs all tiers for every open, quoted bracket. hour is the local
// hour of day as a fraction; modelTrend is the model source's short-term
// trend this cycle. Rules whose dependencies are absent this cycle no-op
// instead of erroring.
func (e *Engine) Evaluate(state *DailyState, brackets []models.Bracket, hour float64, modelTrend models.Trend, now time.Time) Evaluation {
	var ev Evaluation
	cfg := e.cfg

	var dailyHigh float64
	hasHigh := state.RunningHigh != nil
	if hasHigh {
		dailyHigh = *state.RunningHigh
	}

	for _, b := range brackets {
		if !b.Quoted() {
			continue
		}
		lo, hi := b.Lower, b.Upper
		yes := *b.YesPrice
		no := b.No()

		base := models.Signal{
			Side:       models.SideBuyNo,
			Bracket:    b.Label,
			YesPrice:   yes,
			NoPrice:    no,
			EntryPrice: no,
			Edge:       round3(yes),
			DailyHigh:  dailyHigh,
			TokenID:    b.NoTokenID,
			DetectedAt: now,
		}

		// Tier 1: certainty kill. The running high cannot retroactively
		// decrease, so once it passes the boundary the bracket is dead.
		if hi != nil && hasHigh && dailyHigh >= *hi+cfg.RoundingBuffer {
			if !state.Killed[b.Label] {
				state.Killed[b.Label] = true
				logger.Info("Bracket killed: %s (running high %.1f°C >= %.1f°C)",
					b.Label, dailyHigh, *hi+cfg.RoundingBuffer)
			}
			if yes > cfg.MinYesEdge {
				sig := base
				sig.Kind = models.KindCertaintyKill
				sig.Tier = sig.Kind.Tier()
				sig.Note = fmt.Sprintf("[T1 - CERTAIN] daily_high=%.1f°C passed %s", dailyHigh, b.Label)
				ev.Candidates = append(ev.Candidates, sig)
			}
			continue
		}

		// Tier 2: forecast kill on lower brackets.
		fallingMorning := cfg.SkipFallingMorning && modelTrend == models.TrendFalling && hour < float64(cfg.MiddayHour)
		if hi != nil && state.ForecastHigh != nil && yes > cfg.MinYesEdge {
			gap := *state.ForecastHigh - *hi
			switch {
			case gap >= cfg.ForecastKillBuffer:
				if !fallingMorning {
					sig := base
					sig.Kind = models.KindForecastKill
					sig.Tier = sig.Kind.Tier()
					sig.Note = fmt.Sprintf("[T2 - FORECAST] forecast=%.1f°C, bracket_top=%.1f°C, gap=%.1f°C",
						*state.ForecastHigh, *hi, gap)
					ev.Candidates = append(ev.Candidates, sig)
				}
			case gap >= cfg.TightKillBuffer:
				// Tighter-buffer variant, only when the regular rule did
				// not already cover the bracket.
				if !fallingMorning {
					sig := base
					sig.Kind = models.KindForecastKillTight
					sig.Tier = sig.Kind.Tier()
					sig.Note = fmt.Sprintf("[T2 TIGHT] forecast=%.1f°C, bracket_top=%.1f°C, gap=%.1f°C",
						*state.ForecastHigh, *hi, gap)
					if cfg.TightLowerEnabled {
						ev.Candidates = append(ev.Candidates, sig)
					} else {
						ev.Dormant = append(ev.Dormant, sig)
					}
				}
			}
		}

		// Tier 3: forecast kill on upper brackets (open-ended ceilings and
		// exact degrees). Misses on this side are asymmetric and costlier,
		// hence the stricter buffer and the bias safety checks.
		isCeiling := lo != nil && hi == nil
		if (isCeiling || b.Exact()) && state.DynamicForecast != nil && yes > cfg.MinYesEdge {
			gap := *lo - *state.DynamicForecast
			if gap >= cfg.UpperKillBuffer {
				bias := 0.0
				if state.Bias != nil {
					bias = *state.Bias
				}
				underforecasting := bias > cfg.BiasDanger

				var adjustedMax *float64
				if rawMax, ok := state.Forecast.Max(); ok {
					v := rawMax + cfg.ModelCorrection + math.Max(0, bias)
					adjustedMax = &v
				}
				maxNearBracket := adjustedMax != nil && *adjustedMax >= *lo-1.0

				if !underforecasting && !maxNearBracket {
					sig := base
					sig.Kind = models.KindUpperKill
					sig.Tier = sig.Kind.Tier()
					sig.Note = fmt.Sprintf("[T2 UPPER] dyn_forecast=%.1f°C, bracket=%.1f°C, gap=%.1f°C, bias=%+.1f°C",
						*state.DynamicForecast, *lo, gap, bias)
					ev.Candidates = append(ev.Candidates, sig)
				} else {
					var reasons []string
					if underforecasting {
						reasons = append(reasons, fmt.Sprintf("model underforecasting (%+.1f°C)", bias))
					}
					if maxNearBracket {
						reasons = append(reasons, fmt.Sprintf("model adjusted max %.1f°C near bracket", *adjustedMax))
					}
					sig := base
					sig.Kind = models.KindUpperKill
					sig.Tier = sig.Kind.Tier()
					sig.Blocked = true
					sig.VetoReasons = reasons
					sig.Note = fmt.Sprintf("[T2 UPPER BLOCKED] bracket=%.1f°C, gap=%.1f°C", *lo, gap)
					ev.Blocked = append(ev.Blocked, sig)
				}
			}
		}

		// Tier 4: midday reassessment - re-check both kill directions with
		// a tighter buffer, using half a day of real data.
		inMiddayWindow := hour >= float64(cfg.MiddayHour) && hour <= float64(cfg.MiddayHour)+1
		if inMiddayWindow && !state.MiddayDone && hasHigh && len(state.Forecast) > 0 && yes > cfg.MinYesEdge {
			bias := 0.0
			if state.Bias != nil {
				bias = *state.Bias
			}
			remMax, _ := state.Forecast.MaxAfter(float64(cfg.MiddayHour))
			maxSoFar, _ := state.Forecast.MaxUpTo(float64(cfg.MiddayHour))
			estFinal := dailyHigh + math.Max(0, remMax-maxSoFar) + 0.5*math.Max(0, bias)

			if hi != nil && dailyHigh-*hi >= cfg.MiddayKillBuffer && estFinal > *hi+1 {
				sig := base
				sig.Kind = models.KindMiddayKill
				sig.Tier = sig.Kind.Tier()
				sig.Note = fmt.Sprintf("[MIDDAY] rh=%.1f°C, bracket_top=%.1f°C, est_final=%.1f°C",
					dailyHigh, *hi, estFinal)
				ev.Candidates = append(ev.Candidates, sig)
			}
			if lo != nil && *lo-estFinal >= cfg.MiddayKillBuffer {
				sig := base
				sig.Kind = models.KindMiddayKill
				sig.Tier = sig.Kind.Tier()
				sig.Note = fmt.Sprintf("[MIDDAY UPPER] bracket=%.1f°C, est_final=%.1f°C, gap=%.1f°C",
					*lo, estFinal, *lo-estFinal)
				ev.Candidates = append(ev.Candidates, sig)
			}
		}

		// Tier 5a: late-day ceiling. Routed through the guard evaluator;
		// a veto is recorded, never silently dropped.
		if lo != nil && hasHigh && int(hour) >= cfg.LateDayHour {
			gap := *lo - dailyHigh
			if gap >= cfg.CeilingGap && yes > cfg.MinYesEdge {
				sig := base
				sig.Kind = models.KindCeilingNo
				sig.Tier = sig.Kind.Tier()
				sig.Note = fmt.Sprintf("[CEIL NO] daily_high=%.1f°C, bracket=%.1f°C, gap=%.1f°C, hour=%d",
					dailyHigh, *lo, gap, int(hour))
				ev.append(e.guarded(sig, state, hour, dailyHigh, lo, cfg.CeilingNoEnabled))
			}
		}

		// Tier 5b: lock-in on the bracket currently containing the running
		// high. Buy-yes side, so the edge is on the yes leg.
		if b.Exact() && hasHigh && int(hour) >= cfg.LockInHour &&
			dailyHigh >= *lo-cfg.RoundingBuffer && dailyHigh <= *hi+cfg.RoundingBuffer &&
			yes < 1-cfg.MinYesEdge {
			sig := base
			sig.Kind = models.KindLockInYes
			sig.Tier = sig.Kind.Tier()
			sig.Side = models.SideBuyYes
			sig.EntryPrice = yes
			sig.Edge = round3(1 - yes)
			sig.TokenID = b.TokenID
			sig.Note = fmt.Sprintf("[LOCK-IN] daily_high=%.1f°C inside %s after %d:00",
				dailyHigh, b.Label, cfg.LockInHour)
			ev.append(e.guarded(sig, state, hour, dailyHigh, lo, cfg.LockInEnabled))
		}
	}

	return ev
}

// guarded routes a tier-5 candidate through the guard evaluator and
// classifies it as a candidate, a dormant would-fire, or a blocked veto.
func (e *Engine) guarded(sig models.Signal, state *DailyState, hour, dailyHigh float64, lower *float64, enabled bool) (models.Signal, disposition) {
	blocked, reasons := EvaluateGuards(GuardInput{
		SignalHour:      hour,
		RunningHigh:     dailyHigh,
		BracketLower:    lower,
		Primary:         state.Primary,
		Secondary:       state.Secondary,
		Series:          state.Forecast,
		ForecastHigh:    state.ForecastHigh,
		ModelCorrection: e.cfg.ModelCorrection,
	})
	if blocked {
		sig.Blocked = true
		sig.VetoReasons = reasons
		return sig, dispositionBlocked
	}
	if !enabled {
		return sig, dispositionDormant
	}
	return sig, dispositionCandidate
}

type disposition int

const (
	dispositionCandidate disposition = iota
	dispositionDormant
	dispositionBlocked
)

func (ev *Evaluation) append(sig models.Signal, d disposition) {
	switch d {
	case dispositionCandidate:
		ev.Candidates = append(ev.Candidates, sig)
	case dispositionDormant:
		ev.Dormant = append(ev.Dormant, sig)
	case dispositionBlocked:
		ev.Blocked = append(ev.Blocked, sig)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
