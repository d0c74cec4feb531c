// Package weather fetches the outdoor temperature for a fixed
// lat/lon from a met.no locationforecast-style HTTP API and caches it for an
// hour (spec §4.8), feeding both the persistence history log and the
// legacy getWebTemperature.php compat endpoint.
package weather

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/logging"
)

// DefaultTTL is the cache lifetime for a fetched reading (spec §4.8).
const DefaultTTL = time.Hour

// apiResponse matches the subset of a met.no locationforecast payload
// this fetcher cares about, plus a flat current.temperature fallback.
type apiResponse struct {
	Current struct {
		Temperature float64 `json:"temperature"`
	} `json:"current"`
	Properties struct {
		Timeseries []struct {
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature float64 `json:"air_temperature"`
					} `json:"details"`
				} `json:"instant"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// firstAirTemperature extracts the first air_temperature reading,
// falling back to a flatter "current.temperature" shape for API
// compatibility.
func (r apiResponse) firstAirTemperature() (float64, bool) {
	if len(r.Properties.Timeseries) > 0 {
		return r.Properties.Timeseries[0].Data.Instant.Details.AirTemperature, true
	}
	if r.Current.Temperature != 0 {
		return r.Current.Temperature, true
	}
	return 0, false
}

// Fetcher is a TTL-cached outdoor-temperature lookup. A single mutex
// guards the cached value so concurrent HTTP callers never issue
// duplicate upstream requests (spec §5).
type Fetcher struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	cached   float64
	cachedAt time.Time
	lastErr  error
}

// New returns a Fetcher that queries url (already carrying lat/lon as
// query parameters) on each cache miss.
func New(url string, ttl time.Duration) *Fetcher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Fetcher{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.With(zap.String("component", "weather")),
	}
}

// Temperature returns the cached or freshly-fetched outdoor
// temperature in degrees Celsius.
func (f *Fetcher) Temperature() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.cachedAt) < f.ttl && f.lastErr == nil {
		return f.cached, nil
	}

	temp, err := f.fetch()
	if err != nil {
		f.lastErr = err
		f.logger.Warn("weather fetch failed", zap.Error(err))
		return 0, err
	}

	f.cached = temp
	f.cachedAt = time.Now()
	f.lastErr = nil
	return temp, nil
}

func (f *Fetcher) fetch() (float64, error) {
	resp, err := f.httpClient.Get(f.url)
	if err != nil {
		return 0, fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("weather: unexpected status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("weather: decode response: %w", err)
	}

	temp, ok := body.firstAirTemperature()
	if !ok {
		return 0, fmt.Errorf("weather: response carried no air_temperature reading")
	}
	return temp, nil
}

// CompatString renders the value the legacy getWebTemperature.php
// endpoint returns: a rounded integer, or "E_1" on failure.
func (f *Fetcher) CompatString() string {
	temp, err := f.Temperature()
	if err != nil {
		return "E_1"
	}
	return fmt.Sprintf("%d", int(math.Round(temp)))
}
