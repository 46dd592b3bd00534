package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/rthiery/tempmarket/internal/logger"
	"github.com/rthiery/tempmarket/internal/models"
)

// EventSink is the append-only structured log. Each record is tagged with
// an event kind and a UTC timestamp by the sink itself.
type EventSink interface {
	Log(event string, payload any) error
}

// Store persists terminal records for later inspection.
type Store interface {
	SaveSignal(sig *models.Signal) error
	SaveSummary(sum *models.DailySummary) error
	SaveSnapshot(snap *models.MarketSnapshot) error
}

// Notifier pushes short formatted messages for emitted signals and the
// morning summary.
type Notifier interface {
	SendSignal(sig models.Signal) error
	SendMorningSummary(sum models.MorningSummary) error
}

// Monitor drives one observation cycle at a time: state updates, bias
// estimation, signal evaluation, and deduplicated emission to the sinks.
// It is the only writer of DailyState.
type Monitor struct {
	tracker  *Tracker
	engine   *Engine
	cfg      Config
	city     string
	journal  EventSink
	store    Store
	notifier Notifier
}

// New creates a monitor. store and notifier may be nil; the journal is
// required.
func New(city string, cfg Config, journal EventSink, store Store, notifier Notifier, now time.Time) *Monitor {
	return &Monitor{
		tracker:  NewTracker(city, now),
		engine:   NewEngine(cfg),
		cfg:      cfg,
		city:     city,
		journal:  journal,
		store:    store,
		notifier: notifier,
	}
}

// Tracker exposes the state tracker, mainly for shutdown summaries.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// CycleInput is the joined result of one cycle's concurrent fetches. Any
// reading may be nil: a failed or empty fetch degrades to "no new data for
// that source" and only the rules depending on it no-op.
type CycleInput struct {
	Now time.Time // already in the market's local timezone

	Primary      *models.Observation
	PrimaryExtra map[string]any // extra journal fields (dew point, raw report)
	Secondary    *models.Observation
	ModelTemp    *float64
	ModelTrend   models.Trend

	ForecastHigh *float64              // corrected daily max, fetched once per day
	Series       models.ForecastSeries // hourly curve, fetched once per day

	Slug     string
	Brackets []models.Bracket
}

// CycleResult reports what one cycle emitted.
type CycleResult struct {
	Emitted []models.Signal
	Dormant int
	Blocked int
	NewDay  bool
}

// RunCycle processes one observation cycle. The local date is checked first
// so a cycle spanning midnight performs the previous day's summary and the
// reset before any rule evaluation.
func (m *Monitor) RunCycle(in CycleInput) CycleResult {
	var res CycleResult

	if summary, rolled := m.tracker.Rollover(in.Now); rolled {
		if err := m.journal.Log("daily_summary", summary); err != nil {
			logger.Error("Failed to journal daily summary: %v", err)
		}
		if m.store != nil {
			if err := m.store.SaveSummary(summary); err != nil {
				logger.Warn("Failed to persist daily summary: %v", err)
			}
		}
		res.NewDay = true
	}

	state := m.tracker.State()
	hour := float64(in.Now.Hour()) + float64(in.Now.Minute())/60

	if in.ForecastHigh != nil {
		m.tracker.SetForecastHigh(*in.ForecastHigh)
	}
	m.tracker.SetForecastSeries(in.Series)

	if in.Secondary != nil {
		m.tracker.ObserveSecondary(*in.Secondary)
	}
	if in.Primary != nil {
		m.tracker.ObservePrimary(*in.Primary)
		m.journalObservation(in, state)
	} else {
		logger.Warn("Primary source unavailable this cycle; running high unchanged")
	}
	logger.Debug("Sources: primary=%s secondary=%s model=%s | high=%s forecast=%s",
		obsTemp(in.Primary), obsTemp(in.Secondary), tempStr(in.ModelTemp),
		tempStr(state.RunningHigh), tempStr(state.DynamicForecast))

	// Bias is computed at most once per day, strictly at or after the
	// cutoff hour, and never from readings beyond it.
	if state.Bias == nil && hour >= float64(m.cfg.CutoffHour) &&
		len(state.Forecast) > 0 && len(state.Primary) > 0 {
		bias := round2(ComputeBias(state.Primary, state.Forecast, float64(m.cfg.CutoffHour)))
		m.tracker.ApplyBias(bias)
		if state.DynamicForecast != nil {
			logger.Info("Dynamic bias at %d:00: %+.2f°C -> dynamic forecast %.1f°C",
				m.cfg.CutoffHour, bias, *state.DynamicForecast)
		} else {
			logger.Info("Dynamic bias at %d:00: %+.2f°C (no forecast high yet)", m.cfg.CutoffHour, bias)
		}
	}

	if len(in.Brackets) == 0 {
		logger.Debug("No brackets this cycle (slug %s)", in.Slug)
		return res
	}
	m.journalSnapshot(in, state)

	ev := m.engine.Evaluate(state, in.Brackets, hour, in.ModelTrend, in.Now)

	// Close the reassessment window so tier 4 never re-fires.
	if hour >= float64(m.cfg.MiddayHour)+1 && !state.MiddayDone {
		state.MiddayDone = true
	}

	for _, sig := range ev.Candidates {
		if state.Fired[sig.Key()] {
			continue
		}
		if !m.emit(sig) {
			continue
		}
		state.Fired[sig.Key()] = true
		state.SignalsFired++
		res.Emitted = append(res.Emitted, sig)
	}
	for _, sig := range ev.Dormant {
		res.Dormant++
		logger.Info("Dormant (would fire): %s %s %s", sig.Kind, sig.Side, sig.Bracket)
		if err := m.journal.Log("dormant_signal", sig); err != nil {
			logger.Warn("Failed to journal dormant signal: %v", err)
		}
	}
	for _, sig := range ev.Blocked {
		res.Blocked++
		state.SignalsBlocked++
		logger.Info("Blocked %s on %s: %v", sig.Kind, sig.Bracket, sig.VetoReasons)
		if err := m.journal.Log("dormant_signal", sig); err != nil {
			logger.Warn("Failed to journal blocked signal: %v", err)
		}
	}

	if hour >= float64(m.cfg.CutoffHour) && !state.MorningSummarySent && m.notifier != nil {
		sum := m.buildMorningSummary(in.Now, in.Brackets, state)
		if err := m.notifier.SendMorningSummary(sum); err != nil {
			logger.Warn("Failed to send morning summary: %v", err)
		} else {
			state.MorningSummarySent = true
		}
	}

	return res
}

// emit forwards an accepted signal to every sink. The switch is exhaustive
// over the signal kinds: an unknown kind is a programming error and is
// rejected rather than passed through half-handled.
func (m *Monitor) emit(sig models.Signal) bool {
	switch sig.Kind {
	case models.KindCertaintyKill, models.KindForecastKill, models.KindForecastKillTight,
		models.KindUpperKill, models.KindMiddayKill, models.KindCeilingNo, models.KindLockInYes:
	default:
		logger.Error("Unhandled signal kind %d for %s; dropping", int(sig.Kind), sig.Bracket)
		return false
	}

	logger.Info("SIGNAL [TIER %d] [%s] %s %s @ %.3f edge=%.3f | %s",
		sig.Tier, sig.Kind, sig.Side, sig.Bracket, sig.EntryPrice, sig.Edge, sig.Note)

	if err := m.journal.Log("signal", sig); err != nil {
		logger.Error("Failed to journal signal: %v", err)
	}
	if m.store != nil {
		if err := m.store.SaveSignal(&sig); err != nil {
			logger.Warn("Failed to persist signal: %v", err)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.SendSignal(sig); err != nil {
			logger.Warn("Failed to push signal notification: %v", err)
		}
	}
	return true
}

func (m *Monitor) journalObservation(in CycleInput, state *DailyState) {
	rec := map[string]any{
		"source": in.Primary.Source,
		"temp_c": in.Primary.TempC,
		"hour":   round2(in.Primary.Hour),
	}
	for k, v := range in.PrimaryExtra {
		rec[k] = v
	}
	if state.RunningHigh != nil {
		rec["daily_high_c"] = *state.RunningHigh
	}
	if in.Secondary != nil {
		rec["secondary_temp_c"] = in.Secondary.TempC
	}
	if in.ModelTemp != nil {
		rec["model_temp_c"] = *in.ModelTemp
		rec["model_trend"] = string(in.ModelTrend)
	}
	if err := m.journal.Log("observation", rec); err != nil {
		logger.Error("Failed to journal observation: %v", err)
	}
}

func (m *Monitor) journalSnapshot(in CycleInput, state *DailyState) {
	var yesSum float64
	for _, b := range in.Brackets {
		if b.Quoted() {
			yesSum += *b.YesPrice
		}
	}
	snap := &models.MarketSnapshot{
		Slug:            in.Slug,
		DailyHigh:       state.RunningHigh,
		LocalHour:       in.Now.Hour(),
		YesSum:          round2(yesSum),
		DynamicBias:     state.Bias,
		DynamicForecast: state.DynamicForecast,
		Brackets:        in.Brackets,
		At:              in.Now,
	}
	if in.Primary != nil {
		snap.CurrentC = &in.Primary.TempC
	}
	if err := m.journal.Log("market_snapshot", snap); err != nil {
		logger.Error("Failed to journal market snapshot: %v", err)
	}
	if m.store != nil {
		if err := m.store.SaveSnapshot(snap); err != nil {
			logger.Warn("Failed to persist market snapshot: %v", err)
		}
	}
}

// buildMorningSummary classifies every open bracket as killed (by tier) or
// still alive, the same way the tiers themselves decide.
func (m *Monitor) buildMorningSummary(now time.Time, brackets []models.Bracket, state *DailyState) models.MorningSummary {
	sum := models.MorningSummary{
		At:              now,
		City:            m.city,
		RunningHigh:     state.RunningHigh,
		ForecastHigh:    state.ForecastHigh,
		DynamicBias:     state.Bias,
		DynamicForecast: state.DynamicForecast,
	}
	bias := 0.0
	if state.Bias != nil {
		bias = *state.Bias
	}
	for _, b := range brackets {
		if b.Closed {
			continue
		}
		quote := models.BracketQuote{Label: b.Label, YesPrice: b.YesPrice}
		switch {
		case b.Upper != nil && state.RunningHigh != nil &&
			*state.RunningHigh >= *b.Upper+m.cfg.RoundingBuffer:
			sum.Tier1Dead = append(sum.Tier1Dead, quote)
		case b.Upper != nil && state.ForecastHigh != nil &&
			*state.ForecastHigh-*b.Upper >= m.cfg.ForecastKillBuffer:
			sum.Tier2Dead = append(sum.Tier2Dead, quote)
		case b.Lower != nil && state.DynamicForecast != nil &&
			*b.Lower-*state.DynamicForecast >= m.cfg.UpperKillBuffer &&
			bias <= m.cfg.BiasDanger:
			sum.UpperDead = append(sum.UpperDead, quote)
		default:
			sum.Alive = append(sum.Alive, b.Label)
		}
	}
	return sum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func obsTemp(o *models.Observation) string {
	if o == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°C", o.TempC)
}

func tempStr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°C", *v)
}
