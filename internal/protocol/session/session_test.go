package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/framechan/internal/testutil/testlog"
)

func TestNextRetryDelayWithinWindowAndFloor(t *testing.T) {
	testlog.Start(t)
	cfg := RetryConfig{
		Window:     time.Second,
		Floor:      100 * time.Millisecond,
		Multiplier: 1.0,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 1; i <= 200; i++ {
		got := NextRetryDelay(cfg, i, rng)
		if got < 100*time.Millisecond || got >= time.Second {
			t.Fatalf("attempt %d delay out of range: %v", i, got)
		}
	}
}

func TestNextRetryDelayDeterministicWithoutRand(t *testing.T) {
	testlog.Start(t)
	cfg := RetryConfig{
		Window:     time.Second,
		Floor:      100 * time.Millisecond,
		Multiplier: 2.0,
		MaxWindow:  3 * time.Second,
	}
	if got := NextRetryDelay(cfg, 1, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextRetryDelay(cfg, 2, nil); got != time.Second {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextRetryDelay(cfg, 5, nil); got != 1500*time.Millisecond {
		t.Fatalf("attempt5 got=%v", got)
	}
}

func TestNextRetryDelayFloorEnforced(t *testing.T) {
	testlog.Start(t)
	cfg := RetryConfig{Window: 50 * time.Millisecond, Floor: 200 * time.Millisecond}
	if got := NextRetryDelay(cfg, 1, rand.New(rand.NewSource(1))); got != 200*time.Millisecond {
		t.Fatalf("floor not enforced: %v", got)
	}
	if got := NextRetryDelay(RetryConfig{Floor: 10 * time.Millisecond}, 1, nil); got != 10*time.Millisecond {
		t.Fatalf("zero window should return floor: %v", got)
	}
}

func TestRetryConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := RetryConfig{Window: 10 * time.Second, MaxAttempts: -3}.WithDefaults()
	if cfg.Floor != 100*time.Millisecond || cfg.Multiplier != 1.0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxWindow != 10*time.Second {
		t.Fatalf("max window should not be below window: %v", cfg.MaxWindow)
	}
	if cfg.MaxAttempts != 0 {
		t.Fatalf("negative attempts should clamp to 0: %d", cfg.MaxAttempts)
	}
}

func TestValidateTargetOrigin(t *testing.T) {
	testlog.Start(t)
	if err := ValidateTargetOrigin("*"); !errors.Is(err, ErrAnyOrigin) {
		t.Fatalf("expected ErrAnyOrigin, got %v", err)
	}
	if err := ValidateTargetOrigin("  "); !errors.Is(err, ErrTargetOriginRequired) {
		t.Fatalf("expected ErrTargetOriginRequired, got %v", err)
	}
	if err := ValidateTargetOrigin("example.com"); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("expected ErrInvalidOrigin, got %v", err)
	}
	if err := ValidateTargetOrigin("https://example.com/app"); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("expected ErrInvalidOrigin for path, got %v", err)
	}
	if err := ValidateTargetOrigin("https://frame.example.com:8443"); err != nil {
		t.Fatalf("expected valid origin, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.TargetOrigin = "*"
	if err := cfg.Validate(); !errors.Is(err, ErrAnyOrigin) {
		t.Fatalf("expected config validation to reject any-origin, got %v", err)
	}
}
