package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rthiery/tempmarket/internal/models"
)

// OpenMeteoClient fetches the gridded forecast model: a current reading
// with a short-term trend, the daily maximum, and the hourly curve. Model
// values read systematically below the station; callers apply the static
// correction where a comparable value is needed.
type OpenMeteoClient struct {
	baseURL  string
	lat, lon float64
	timezone string
	http     *httpGetter
}

// NewOpenMeteoClient creates a model-source client for the given
// coordinates. timezone is the IANA name the API uses to localize hours.
func NewOpenMeteoClient(baseURL string, lat, lon float64, timezone string, timeout time.Duration, requestsPerMinute float64) *OpenMeteoClient {
	return &OpenMeteoClient{
		baseURL:  baseURL,
		lat:      lat,
		lon:      lon,
		timezone: timezone,
		http:     newHTTPGetter(timeout, requestsPerMinute, 3),
	}
}

// ModelReading is the model's current temperature plus its short-term
// direction over the trailing 15-minute series.
type ModelReading struct {
	TempC float64
	Trend models.Trend
}

func (c *OpenMeteoClient) query(params url.Values) string {
	params.Set("latitude", fmt.Sprintf("%.4f", c.lat))
	params.Set("longitude", fmt.Sprintf("%.4f", c.lon))
	params.Set("timezone", c.timezone)
	return c.baseURL + "/v1/forecast?" + params.Encode()
}

// FetchCurrent returns the model's current reading, or (nil, nil) when the
// response carries no temperature.
func (c *OpenMeteoClient) FetchCurrent(ctx context.Context) (*ModelReading, error) {
	params := url.Values{}
	params.Set("current", "temperature_2m")
	params.Set("minutely_15", "temperature_2m")
	params.Set("past_minutely_15", "8")
	params.Set("forecast_minutely_15", "0")

	resp, err := c.http.get(ctx, c.query(params))
	if err != nil {
		return nil, fmt.Errorf("model current fetch: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
		} `json:"current"`
		Minutely15 struct {
			Temperature []*float64 `json:"temperature_2m"`
		} `json:"minutely_15"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("model current decode: %w", err)
	}
	if payload.Current.Temperature == nil {
		return nil, nil
	}
	return &ModelReading{
		TempC: *payload.Current.Temperature,
		Trend: shortTermTrend(payload.Minutely15.Temperature),
	}, nil
}

// shortTermTrend compares the first and last of the three most recent
// 15-minute samples.
func shortTermTrend(temps []*float64) models.Trend {
	var recent []float64
	start := len(temps) - 3
	if start < 0 {
		start = 0
	}
	for _, t := range temps[start:] {
		if t != nil {
			recent = append(recent, *t)
		}
	}
	if len(recent) < 2 {
		return models.TrendUnknown
	}
	delta := recent[len(recent)-1] - recent[0]
	switch {
	case delta > 0.05:
		return models.TrendRising
	case delta < -0.05:
		return models.TrendFalling
	}
	return models.TrendFlat
}

// FetchDailyMax returns today's raw forecast maximum. The static model
// correction is not applied here.
func (c *OpenMeteoClient) FetchDailyMax(ctx context.Context) (*float64, error) {
	params := url.Values{}
	params.Set("daily", "temperature_2m_max")
	params.Set("forecast_days", "1")

	resp, err := c.http.get(ctx, c.query(params))
	if err != nil {
		return nil, fmt.Errorf("model daily max fetch: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Daily struct {
			Max []*float64 `json:"temperature_2m_max"`
		} `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("model daily max decode: %w", err)
	}
	if len(payload.Daily.Max) == 0 || payload.Daily.Max[0] == nil {
		return nil, nil
	}
	return payload.Daily.Max[0], nil
}

// FetchHourly returns today's hourly forecast curve.
func (c *OpenMeteoClient) FetchHourly(ctx context.Context) (models.ForecastSeries, error) {
	params := url.Values{}
	params.Set("hourly", "temperature_2m")
	params.Set("forecast_days", "1")

	resp, err := c.http.get(ctx, c.query(params))
	if err != nil {
		return nil, fmt.Errorf("model hourly fetch: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Hourly struct {
			Time        []string   `json:"time"`
			Temperature []*float64 `json:"temperature_2m"`
		} `json:"hourly"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("model hourly decode: %w", err)
	}

	var series models.ForecastSeries
	for i, ts := range payload.Hourly.Time {
		if i >= len(payload.Hourly.Temperature) || payload.Hourly.Temperature[i] == nil {
			continue
		}
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			continue
		}
		series = append(series, models.ForecastPoint{
			Hour:  float64(t.Hour()) + float64(t.Minute())/60,
			TempC: *payload.Hourly.Temperature[i],
		})
	}
	return series, nil
}
