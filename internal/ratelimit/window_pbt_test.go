package ratelimit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Properties of the fixed-window boundary math: every instant falls inside
// exactly one window, and two instants share a counter key iff they share
// a window.
func TestWindowBoundaryProperties(t *testing.T) {
	limiter := &Limiter{keyPrefix: "test", window: time.Hour}

	properties := gopter.NewProperties(nil)

	properties.Property("window start is never after the instant and never more than a window behind", prop.ForAll(
		func(unixSec int64) bool {
			ts := time.Unix(unixSec, 0)
			start := limiter.windowStart(ts)
			elapsed := ts.Sub(start)
			return elapsed >= 0 && elapsed < limiter.window
		},
		gen.Int64Range(0, 4102444800), // through year 2100
	))

	properties.Property("instants in the same window map to the same key", prop.ForAll(
		func(unixSec int64, offsetSec int64) bool {
			a := time.Unix(unixSec, 0)
			b := a.Add(time.Duration(offsetSec) * time.Second)
			sameWindow := limiter.windowStart(a).Equal(limiter.windowStart(b))
			sameKey := limiter.key("id", limiter.windowStart(a)) == limiter.key("id", limiter.windowStart(b))
			return sameWindow == sameKey
		},
		gen.Int64Range(0, 4102444800),
		gen.Int64Range(0, 7200),
	))

	properties.TestingRun(t)
}
