package server

import (
	"math"
	"sync"
	"time"
)

// frameLimiter is a per-connection token bucket over inbound frames. It
// holds up to Burst tokens and refills Burst tokens per RefillInterval. It
// also counts the frames refused since the last admitted one, so a client
// reports a drop streak once instead of once per frame.
type frameLimiter struct {
	mu      sync.Mutex
	tokens  float64
	burst   float64
	perSec  float64
	last    time.Time
	refused int
	now     func() time.Time
}

// limitVerdict is the outcome of frameLimiter.take. On a refusal Refused is
// the length of the current streak, this frame included. On an admission it
// is the length of the streak that just ended, usually zero.
type limitVerdict struct {
	Admitted bool
	Refused  int
}

func newFrameLimiter(cfg RateLimitConfig) *frameLimiter {
	return newFrameLimiterWithClock(cfg, time.Now)
}

func newFrameLimiterWithClock(cfg RateLimitConfig, now func() time.Time) *frameLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	perSec := float64(burst) / interval.Seconds()
	if perSec <= 0 || math.IsInf(perSec, 0) || math.IsNaN(perSec) {
		perSec = float64(burst)
	}

	return &frameLimiter{
		tokens: float64(burst),
		burst:  float64(burst),
		perSec: perSec,
		last:   now(),
		now:    now,
	}
}

// take spends one token if one is available.
func (l *frameLimiter) take() limitVerdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.tokens = math.Min(l.burst, l.tokens+elapsed.Seconds()*l.perSec)
		l.last = now
	}

	if l.tokens < 1 {
		l.refused++
		return limitVerdict{Refused: l.refused}
	}
	l.tokens--
	v := limitVerdict{Admitted: true, Refused: l.refused}
	l.refused = 0
	return v
}
