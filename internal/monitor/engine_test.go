package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rthiery/tempmarket/internal/models"
)

var testNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func floorBracket(upper, yes float64) models.Bracket {
	return models.Bracket{
		Label:    models.RangeLabel(nil, &upper),
		Upper:    f64(upper),
		YesPrice: f64(yes),
	}
}

func ceilBracket(lower, yes float64) models.Bracket {
	return models.Bracket{
		Label:    models.RangeLabel(&lower, nil),
		Lower:    f64(lower),
		YesPrice: f64(yes),
	}
}

func exactBracket(deg, yes float64) models.Bracket {
	return models.Bracket{
		Label:    models.RangeLabel(&deg, &deg),
		Lower:    f64(deg),
		Upper:    f64(deg),
		YesPrice: f64(yes),
	}
}

func stateWithHigh(high float64) *DailyState {
	s := NewDailyState(testNow)
	v := high
	s.RunningHigh = &v
	return s
}

func TestEngine_CertaintyKill(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)

	ev := e.Evaluate(state, []models.Bracket{floorBracket(9, 0.05)}, 10.0, models.TrendFlat, testNow)

	require.Len(t, ev.Candidates, 1)
	sig := ev.Candidates[0]
	assert.Equal(t, models.KindCertaintyKill, sig.Kind)
	assert.Equal(t, 1, sig.Tier)
	assert.Equal(t, models.SideBuyNo, sig.Side)
	assert.Equal(t, 0.95, sig.EntryPrice)
	assert.Equal(t, 0.05, sig.Edge)
	assert.True(t, state.Killed[sig.Bracket])
}

func TestEngine_CertaintyKill_BoundaryNeedsRoundingBuffer(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// 9.4 rounds to 9: the bracket can still win.
	ev := e.Evaluate(stateWithHigh(9.4), []models.Bracket{floorBracket(9, 0.05)}, 10.0, models.TrendFlat, testNow)
	assert.Empty(t, ev.Candidates)

	// 9.5 rounds to 10: dead.
	ev = e.Evaluate(stateWithHigh(9.5), []models.Bracket{floorBracket(9, 0.05)}, 10.0, models.TrendFlat, testNow)
	require.Len(t, ev.Candidates, 1)
	assert.Equal(t, models.KindCertaintyKill, ev.Candidates[0].Kind)
}

func TestEngine_CertaintyKill_NoEdgeSkipsSignal(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)

	// The market already prices the bracket at zero: nothing to take, but
	// the bracket is still marked dead.
	ev := e.Evaluate(state, []models.Bracket{floorBracket(9, 0.005)}, 10.0, models.TrendFlat, testNow)
	assert.Empty(t, ev.Candidates)
	assert.True(t, state.Killed["<=9°C"])
}

func TestEngine_ForecastKill(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := NewDailyState(testNow)
	state.ForecastHigh = f64(14.4)

	ev := e.Evaluate(state, []models.Bracket{floorBracket(9, 0.10)}, 10.0, models.TrendFlat, testNow)

	require.Len(t, ev.Candidates, 1)
	sig := ev.Candidates[0]
	assert.Equal(t, models.KindForecastKill, sig.Kind)
	assert.Equal(t, 2, sig.Tier)
	assert.Contains(t, sig.Note, "gap=5.4")
}

func TestEngine_ForecastKill_GapBoundary(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Exactly at the buffer: fires.
	state := NewDailyState(testNow)
	state.ForecastHigh = f64(13.0)
	ev := e.Evaluate(state, []models.Bracket{floorBracket(9, 0.10)}, 10.0, models.TrendFlat, testNow)
	require.Len(t, ev.Candidates, 1)
	assert.Equal(t, models.KindForecastKill, ev.Candidates[0].Kind)

	// A hair under falls through to the tight variant, dormant by default.
	state = NewDailyState(testNow)
	state.ForecastHigh = f64(12.99)
	ev = e.Evaluate(state, []models.Bracket{floorBracket(9, 0.10)}, 10.0, models.TrendFlat, testNow)
	assert.Empty(t, ev.Candidates)
	require.Len(t, ev.Dormant, 1)
	assert.Equal(t, models.KindForecastKillTight, ev.Dormant[0].Kind)
}

func TestEngine_ForecastKillTight_Enabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TightLowerEnabled = true
	e := NewEngine(cfg)
	state := NewDailyState(testNow)
	state.ForecastHigh = f64(12.6) // gap 3.6, inside [3.5, 4.0)

	ev := e.Evaluate(state, []models.Bracket{floorBracket(9, 0.10)}, 10.0, models.TrendFlat, testNow)
	require.Len(t, ev.Candidates, 1)
	assert.Equal(t, models.KindForecastKillTight, ev.Candidates[0].Kind)
	assert.Empty(t, ev.Dormant)
}

func TestEngine_ForecastKill_SkipsFallingMorning(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := NewDailyState(testNow)
	state.ForecastHigh = f64(14.4)
	brackets := []models.Bracket{floorBracket(9, 0.10)}

	// Model falling before noon: hold off.
	ev := e.Evaluate(state, brackets, 10.0, models.TrendFalling, testNow)
	assert.Empty(t, ev.Candidates)

	// Same trend after noon no longer suppresses the rule.
	ev = e.Evaluate(state, brackets, 13.0, models.TrendFalling, testNow)
	require.Len(t, ev.Candidates, 1)
}

func TestEngine_UpperKill(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := NewDailyState(testNow)
	state.DynamicForecast = f64(14.0)
	state.Bias = f64(0.5)

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(20, 0.08)}, 10.0, models.TrendFlat, testNow)

	require.Len(t, ev.Candidates, 1)
	sig := ev.Candidates[0]
	assert.Equal(t, models.KindUpperKill, sig.Kind)
	assert.Equal(t, 3, sig.Tier)
	assert.Equal(t, models.SideBuyNo, sig.Side)
}

func TestEngine_UpperKill_BiasDangerBlocks(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := NewDailyState(testNow)
	state.DynamicForecast = f64(14.0)
	state.Bias = f64(1.5) // model clearly underforecasting today

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(20, 0.08)}, 10.0, models.TrendFlat, testNow)

	assert.Empty(t, ev.Candidates)
	require.Len(t, ev.Blocked, 1)
	assert.True(t, ev.Blocked[0].Blocked)
	assert.Contains(t, ev.Blocked[0].VetoReasons[0], "underforecasting")
}

func TestEngine_UpperKill_ModelMaxNearBracketBlocks(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := NewDailyState(testNow)
	state.DynamicForecast = f64(14.0)
	state.Bias = f64(0.5)
	// Raw max 18 + correction 1.0 + bias 0.5 = 19.5 >= 20 - 1.
	state.Forecast = models.ForecastSeries{{Hour: 14, TempC: 18.0}}

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(20, 0.08)}, 10.0, models.TrendFlat, testNow)

	assert.Empty(t, ev.Candidates)
	require.Len(t, ev.Blocked, 1)
	assert.Contains(t, ev.Blocked[0].VetoReasons[0], "near bracket")
}

func TestEngine_MiddayKill_UpperBracket(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)
	state.Forecast = models.ForecastSeries{
		{Hour: 10, TempC: 9.5}, {Hour: 12, TempC: 10.0}, {Hour: 14, TempC: 10.2},
	}
	brackets := []models.Bracket{
		ceilBracket(15, 0.04),  // est final ~10.2 leaves a 4.8 gap
		floorBracket(9.6, 0.3), // neither certain-dead nor midday-dead
	}

	ev := e.Evaluate(state, brackets, 12.5, models.TrendFlat, testNow)

	require.Len(t, ev.Candidates, 1)
	sig := ev.Candidates[0]
	assert.Equal(t, models.KindMiddayKill, sig.Kind)
	assert.Equal(t, 4, sig.Tier)
	assert.Equal(t, ">=15°C", sig.Bracket)
	assert.Contains(t, sig.Note, "gap=4.8")
}

func TestEngine_MiddayKill_BiasWidensEstimate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)
	state.Bias = f64(1.0) // est final gains half the bias
	state.Forecast = models.ForecastSeries{{Hour: 10, TempC: 9.5}, {Hour: 12, TempC: 10.0}}

	// Est final 10.5 with the bias, 10.0 without: the 12.8 bracket only
	// dies when the bias is ignored.
	ev := e.Evaluate(state, []models.Bracket{ceilBracket(12.8, 0.04)}, 12.5, models.TrendFlat, testNow)
	assert.Empty(t, ev.Candidates)

	state.Bias = nil
	ev = e.Evaluate(state, []models.Bracket{ceilBracket(12.8, 0.04)}, 12.5, models.TrendFlat, testNow)
	require.Len(t, ev.Candidates, 1)
	assert.Equal(t, models.KindMiddayKill, ev.Candidates[0].Kind)
}

func TestEngine_MiddayKill_WindowClosed(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)
	state.Forecast = models.ForecastSeries{{Hour: 12, TempC: 10.0}}
	state.MiddayDone = true

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(15, 0.04)}, 12.5, models.TrendFlat, testNow)
	assert.Empty(t, ev.Candidates)
}

func TestEngine_MiddayKill_OutsideWindow(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)
	state.Forecast = models.ForecastSeries{{Hour: 12, TempC: 10.0}}

	for _, hour := range []float64{11.9, 13.1} {
		ev := e.Evaluate(state, []models.Bracket{ceilBracket(15, 0.04)}, hour, models.TrendFlat, testNow)
		assert.Empty(t, ev.Candidates, "hour %.1f", hour)
	}
}

// lateDayState reproduces a clearly-peaked afternoon: every guard passes.
func lateDayState() *DailyState {
	in := passingGuardInput()
	state := stateWithHigh(in.RunningHigh)
	state.Primary = in.Primary
	state.Secondary = in.Secondary
	state.Forecast = in.Series
	state.ForecastHigh = in.ForecastHigh
	return state
}

func TestEngine_CeilingNo_DormantByDefault(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := lateDayState()

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(13, 0.15)}, 16.5, models.TrendFalling, testNow)

	assert.Empty(t, ev.Candidates)
	assert.Empty(t, ev.Blocked)
	require.Len(t, ev.Dormant, 1)
	assert.Equal(t, models.KindCeilingNo, ev.Dormant[0].Kind)
	assert.Equal(t, 5, ev.Dormant[0].Tier)
}

func TestEngine_CeilingNo_EnabledFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CeilingNoEnabled = true
	e := NewEngine(cfg)
	state := lateDayState()

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(13, 0.15)}, 16.5, models.TrendFalling, testNow)

	require.Len(t, ev.Candidates, 1)
	assert.Equal(t, models.KindCeilingNo, ev.Candidates[0].Kind)
}

func TestEngine_CeilingNo_GuardBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CeilingNoEnabled = true
	e := NewEngine(cfg)
	state := lateDayState()
	// The model now peaks at 22:00, after the signal hour.
	state.Forecast = models.ForecastSeries{
		{Hour: 14, TempC: 9.0}, {Hour: 16, TempC: 8.8}, {Hour: 22, TempC: 9.3},
	}

	ev := e.Evaluate(state, []models.Bracket{ceilBracket(13, 0.15)}, 16.5, models.TrendFalling, testNow)

	assert.Empty(t, ev.Candidates)
	require.Len(t, ev.Blocked, 1)
	assert.True(t, ev.Blocked[0].Blocked)
	assert.Contains(t, ev.Blocked[0].VetoReasons[0], "peak")
}

func TestEngine_CeilingNo_GapTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CeilingNoEnabled = true
	e := NewEngine(cfg)
	state := lateDayState()

	// Gap 1.5 < 2.0: no candidate in any disposition.
	ev := e.Evaluate(state, []models.Bracket{ceilBracket(11.5, 0.15)}, 16.5, models.TrendFalling, testNow)
	assert.Empty(t, ev.Candidates)
	assert.Empty(t, ev.Dormant)
	assert.Empty(t, ev.Blocked)
}

func TestEngine_LockInYes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockInEnabled = true
	e := NewEngine(cfg)

	state := lateDayState()
	// A cold model curve keeps the near-bracket guard quiet for a bracket
	// at the running high itself.
	state.Forecast = models.ForecastSeries{
		{Hour: 13, TempC: 7.2}, {Hour: 14, TempC: 7.5}, {Hour: 16, TempC: 7.0}, {Hour: 18, TempC: 6.2},
	}

	ev := e.Evaluate(state, []models.Bracket{exactBracket(10, 0.7)}, 17.5, models.TrendFalling, testNow)

	require.Len(t, ev.Candidates, 1)
	sig := ev.Candidates[0]
	assert.Equal(t, models.KindLockInYes, sig.Kind)
	assert.Equal(t, models.SideBuyYes, sig.Side)
	assert.Equal(t, 0.7, sig.EntryPrice)
	assert.Equal(t, 0.3, sig.Edge)
}

func TestEngine_LockInYes_BeforeLockInHour(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockInEnabled = true
	e := NewEngine(cfg)
	state := lateDayState()
	state.Forecast = models.ForecastSeries{{Hour: 14, TempC: 7.5}}

	ev := e.Evaluate(state, []models.Bracket{exactBracket(10, 0.7)}, 16.5, models.TrendFalling, testNow)
	for _, sig := range ev.Candidates {
		assert.NotEqual(t, models.KindLockInYes, sig.Kind)
	}
}

func TestEngine_SkipsUnquotedBrackets(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := stateWithHigh(10.0)

	closed := floorBracket(9, 0.05)
	closed.Closed = true
	unquoted := floorBracket(8, 0)
	unquoted.YesPrice = nil

	ev := e.Evaluate(state, []models.Bracket{closed, unquoted}, 10.0, models.TrendFlat, testNow)
	assert.Empty(t, ev.Candidates)
}
