package httpx

import (
	"golang.org/x/time/rate"
)

// Limiter defaults used when a caller passes non-positive values.
const (
	DefaultBurst     = 10
	DefaultPerMinute = 120
)

// NewLimiter returns a token bucket allowing bursts of up to burst calls and
// refilling at perMinute.
func NewLimiter(burst int, perMinute float64) *rate.Limiter {
	if burst <= 0 {
		burst = DefaultBurst
	}
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}
