package session

import (
	"math"
	"math/rand"
	"time"
)

// NextRetryDelay returns the bootstrap delay for attempt N (1-based).
// The delay is drawn uniformly from [0, window) and never falls below Floor.
// The window grows by Multiplier per attempt and is capped by MaxWindow.
func NextRetryDelay(cfg RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	window := retryWindow(cfg, attempt)
	if window <= 0 {
		return cfg.Floor
	}
	f := 0.5
	if rng != nil {
		f = rng.Float64()
	}
	delay := time.Duration(float64(window) * f)
	if delay < cfg.Floor {
		return cfg.Floor
	}
	return delay
}

func retryWindow(cfg RetryConfig, attempt int) time.Duration {
	if cfg.Window <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.Window
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	window := float64(cfg.Window) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxWindow > 0 && window > float64(cfg.MaxWindow) {
		window = float64(cfg.MaxWindow)
	}
	return time.Duration(window)
}
