package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rthiery/tempmarket/internal/models"
)

// MetarClient fetches the primary station feed: whole-degree precision,
// roughly half-hourly, and the same station the market resolves against.
type MetarClient struct {
	baseURL string
	station string
	http    *httpGetter
}

// NewMetarClient creates a primary-source client for the given station ID.
func NewMetarClient(baseURL, station string, timeout time.Duration, requestsPerMinute float64) *MetarClient {
	return &MetarClient{
		baseURL: baseURL,
		station: station,
		http:    newHTTPGetter(timeout, requestsPerMinute, 3),
	}
}

// StationReading is a primary reading plus the report fields carried along
// to the structured log.
type StationReading struct {
	Obs         models.Observation
	DewpointC   *float64
	WindSpeedKt *float64
	Raw         string
}

type metarReport struct {
	Temp       *float64 `json:"temp"`
	Dewp       *float64 `json:"dewp"`
	Wspd       *float64 `json:"wspd"`
	ReportTime string   `json:"reportTime"`
	RawOb      string   `json:"rawOb"`
}

// Fetch returns the latest station report, or (nil, nil) when the feed has
// no usable observation. now supplies the local clock for the hour field.
func (c *MetarClient) Fetch(ctx context.Context, now time.Time) (*StationReading, error) {
	url := fmt.Sprintf("%s/api/data/metar?ids=%s&format=json", c.baseURL, c.station)
	resp, err := c.http.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("metar fetch: %w", err)
	}
	defer resp.Body.Close()

	var reports []metarReport
	if err := json.NewDecoder(resp.Body).Decode(&reports); err != nil {
		return nil, fmt.Errorf("metar decode: %w", err)
	}
	if len(reports) == 0 || reports[0].Temp == nil {
		return nil, nil
	}
	r := reports[0]

	reading := &StationReading{
		Obs: models.Observation{
			Source: "METAR/" + c.station,
			TempC:  math.Round(*r.Temp*10) / 10,
			Hour:   hourOf(now),
			At:     now,
		},
		Raw: r.RawOb,
	}
	if r.Dewp != nil {
		v := math.Round(*r.Dewp*10) / 10
		reading.DewpointC = &v
	}
	reading.WindSpeedKt = r.Wspd
	return reading, nil
}
