package structuring

import (
	"math"
	"math/rand"
	"time"
)

// Policy bounds the retry loop around upstream calls.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// delay computes the jittered exponential backoff before the given attempt.
func (p Policy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BackoffBase
	}
	exp := float64(p.BackoffBase) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > p.BackoffMax {
		wait = p.BackoffMax
	}
	if wait <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
