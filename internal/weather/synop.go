package weather

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rthiery/tempmarket/internal/models"
)

// SynopClient fetches the secondary feed: the same station at 0.1°C
// precision, published hourly as raw SYNOP reports. The last good reading
// is cached and returned when a fetch fails, since the feed repeats its
// latest report for most of each hour anyway.
type SynopClient struct {
	baseURL string
	block   string
	http    *httpGetter
	loc     *time.Location

	lastGood *models.Observation
}

// NewSynopClient creates a secondary-source client for the given WMO block
// station number. loc is the market's local timezone, used to convert the
// report's UTC hour.
func NewSynopClient(baseURL, block string, loc *time.Location, timeout time.Duration, requestsPerMinute float64) *SynopClient {
	return &SynopClient{
		baseURL: baseURL,
		block:   block,
		http:    newHTTPGetter(timeout, requestsPerMinute, 3),
		loc:     loc,
	}
}

// synopTempGroup matches the 1snTTT air-temperature group.
var synopTempGroup = regexp.MustCompile(`\b1([01])(\d{3})\b`)

// DecodeSynopTemp extracts the 0.1°C air temperature from a raw SYNOP line.
func DecodeSynopTemp(raw string) (float64, bool) {
	m := synopTempGroup.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	temp := float64(v) / 10.0
	if m[1] == "1" {
		temp = -temp
	}
	return temp, true
}

// Fetch returns the newest decodable report of the current UTC day, or the
// cached last-good reading when nothing newer can be had.
func (c *SynopClient) Fetch(ctx context.Context, now time.Time) (*models.Observation, error) {
	begin := now.UTC().Format("20060102") + "0000"
	url := fmt.Sprintf("%s?block=%s&begin=%s", c.baseURL, c.block, begin)
	resp, err := c.http.get(ctx, url)
	if err != nil {
		return c.lastGood, fmt.Errorf("synop fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.lastGood, fmt.Errorf("synop read: %w", err)
	}

	var latest string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.HasPrefix(line, c.block) {
			continue
		}
		latest = line
	}
	if latest == "" {
		return c.lastGood, nil
	}

	temp, ok := DecodeSynopTemp(latest)
	if !ok {
		return c.lastGood, nil
	}

	// Report lines carry their observation hour in UTC:
	// "07157,2026,02,22,14,00,AAXX ..."
	hourUTC := 0
	if parts := strings.Split(latest, ","); len(parts) > 4 {
		if h, err := strconv.Atoi(strings.TrimSpace(parts[4])); err == nil {
			hourUTC = h
		}
	}
	localHour := utcHourToLocal(hourUTC, now, c.loc)

	obs := &models.Observation{
		Source: "SYNOP/" + c.block,
		TempC:  temp,
		Hour:   localHour,
		At:     now,
	}
	c.lastGood = obs
	return obs, nil
}

func utcHourToLocal(hourUTC int, now time.Time, loc *time.Location) float64 {
	_, offset := now.In(loc).Zone()
	h := (hourUTC + offset/3600) % 24
	if h < 0 {
		h += 24
	}
	return float64(h)
}
