package request

import (
	"time"

	"go.uber.org/ratelimit"
)

// SpacingLimiter returns a limiter that enforces a minimum gap of the
// given number of seconds between consecutive calls. Rapid callers
// serialise instead of bursting. Non-positive spacing disables limiting.
func SpacingLimiter(seconds float64) ratelimit.Limiter {
	if seconds <= 0 {
		return ratelimit.NewUnlimited()
	}
	spacing := time.Duration(seconds * float64(time.Second))
	return ratelimit.New(1, ratelimit.Per(spacing), ratelimit.WithoutSlack)
}
