// Package polymarket provides the market catalog client for daily
// temperature events.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rthiery/tempmarket/internal/models"
)

// Client fetches bracket catalogs from the Gamma API.
type Client struct {
	gammaAPIURL string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
}

// NewClient creates a market catalog client.
func NewClient(gammaAPIURL string, timeout time.Duration, requestsPerMinute float64, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		gammaAPIURL: gammaAPIURL,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(requestsPerMinute/60), 1),
		maxRetries:  maxRetries,
	}
}

// DateSlug builds the event slug for a city's market on the given local day.
func DateSlug(city string, d time.Time) string {
	month := strings.ToLower(d.Format("January"))
	return fmt.Sprintf("highest-temperature-in-%s-on-%s-%d-%d", city, month, d.Day(), d.Year())
}

type gammaEvent struct {
	Markets []gammaMarket `json:"markets"`
}

// String-encoded JSON fields are an API quirk: outcomes and prices arrive
// as JSON arrays inside JSON strings.
type gammaMarket struct {
	Question      string `json:"question"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIds  string `json:"clobTokenIds"`
	Slug          string `json:"slug"`
	Volume        any    `json:"volume"`
	Closed        bool   `json:"closed"`
}

// FetchBrackets retrieves today's bracket catalog for the given event slug.
// A missing event yields an empty slice, not an error.
func (c *Client) FetchBrackets(ctx context.Context, slug string) ([]models.Bracket, error) {
	u, err := url.Parse(c.gammaAPIURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("slug", slug)
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event: %w", err)
	}
	defer resp.Body.Close()

	var events []gammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	var brackets []models.Bracket
	for _, m := range events[0].Markets {
		b, err := parseBracket(m)
		if err != nil {
			// One malformed market must not abort the catalog.
			continue
		}
		brackets = append(brackets, b)
	}
	return brackets, nil
}

func parseBracket(m gammaMarket) (models.Bracket, error) {
	lower, upper := models.ParseBracketRange(m.Question)
	b := models.Bracket{
		Question: m.Question,
		Label:    models.RangeLabel(lower, upper),
		Lower:    lower,
		Upper:    upper,
		Slug:     m.Slug,
		Closed:   m.Closed,
		Volume:   parseVolume(m.Volume),
	}

	var prices []string
	if m.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
			return b, fmt.Errorf("failed to parse outcome prices: %w", err)
		}
	}
	if len(prices) > 0 {
		if v, err := strconv.ParseFloat(prices[0], 64); err == nil {
			b.YesPrice = &v
		}
	}
	if len(prices) > 1 {
		if v, err := strconv.ParseFloat(prices[1], 64); err == nil {
			b.NoPrice = &v
		}
	}

	var tokens []string
	if m.ClobTokenIds != "" {
		// Token IDs are optional; losing them only loses order routing info.
		_ = json.Unmarshal([]byte(m.ClobTokenIds), &tokens)
	}
	if len(tokens) > 0 {
		b.TokenID = tokens[0]
	}
	if len(tokens) > 1 {
		b.NoTokenID = tokens[1]
	}
	return b, nil
}

// parseVolume tolerates both string and numeric volume encodings.
func parseVolume(v any) float64 {
	switch vv := v.(type) {
	case float64:
		return vv
	case string:
		f, _ := strconv.ParseFloat(vv, 64)
		return f
	}
	return 0
}

// doRequest performs a GET with the rate limiter and linear-backoff retry
// on transport errors and 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
