// Package weather implements the three observation ingestors: a
// high-precision primary station feed, a finer-grained secondary feed from
// the same station, and a gridded forecast model. Every fetch may fail or
// return nothing; callers treat that as "no new data this cycle".
package weather

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// httpGetter wraps an http.Client with a per-source rate limiter and a
// small linear-backoff retry loop for 5xx responses and transport errors.
type httpGetter struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func newHTTPGetter(timeout time.Duration, requestsPerMinute float64, maxRetries int) *httpGetter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &httpGetter{
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerMinute/60), 1),
		maxRetries: maxRetries,
	}
}

func (g *httpGetter) get(ctx context.Context, url string) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for i := 0; i < g.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, time.Duration(i+1)*time.Second) {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if !sleepCtx(ctx, time.Duration(i+1)*time.Second) {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// hourOf returns the fractional local hour of day for a timestamp.
func hourOf(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}
