package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalKind_Names(t *testing.T) {
	tests := []struct {
		kind SignalKind
		name string
		tier int
	}{
		{KindCertaintyKill, "FLOOR_NO_CERTAIN", 1},
		{KindForecastKill, "FLOOR_NO_FORECAST", 2},
		{KindForecastKillTight, "FLOOR_NO_FORECAST_TIGHT", 2},
		{KindUpperKill, "T2_UPPER", 3},
		{KindMiddayKill, "MIDDAY_T2", 4},
		{KindCeilingNo, "GUARANTEED_NO_CEIL", 5},
		{KindLockInYes, "LOCKED_IN_YES", 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.kind.String())
		assert.Equal(t, tt.tier, tt.kind.Tier())
	}
}

func TestSignalKind_JSON(t *testing.T) {
	data, err := json.Marshal(KindUpperKill)
	require.NoError(t, err)
	assert.Equal(t, `"T2_UPPER"`, string(data))

	var k SignalKind
	require.NoError(t, json.Unmarshal([]byte(`"MIDDAY_T2"`), &k))
	assert.Equal(t, KindMiddayKill, k)

	assert.Error(t, json.Unmarshal([]byte(`"NO_SUCH_RULE"`), &k))
}

func TestSignal_Key(t *testing.T) {
	a := Signal{Kind: KindCertaintyKill, Bracket: "<=9°C"}
	b := Signal{Kind: KindForecastKill, Bracket: "<=9°C"}
	c := Signal{Kind: KindCertaintyKill, Bracket: "<=8°C"}

	assert.Equal(t, "FLOOR_NO_CERTAIN::<=9°C", a.Key())
	assert.NotEqual(t, a.Key(), b.Key(), "different rules on one bracket are distinct emissions")
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestSignal_JSONFieldNames(t *testing.T) {
	sig := Signal{Kind: KindCertaintyKill, Tier: 1, Side: SideBuyNo, Bracket: "<=9°C"}
	data, err := json.Marshal(sig)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "FLOOR_NO_CERTAIN", m["type"])
	assert.Equal(t, "BUY_NO", m["our_side"])
	assert.Equal(t, "<=9°C", m["range"])
	assert.NotContains(t, m, "veto_reasons")
}
