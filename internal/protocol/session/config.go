package session

import "time"

// RetryConfig defines randomized bootstrap retry behavior.
type RetryConfig struct {
	Window     time.Duration
	Floor      time.Duration
	Multiplier float64
	MaxWindow  time.Duration
	// MaxAttempts bounds bootstrap attempts; 0 retries until a channel is initialized.
	MaxAttempts int
}

// Config defines channel session defaults.
type Config struct {
	TargetOrigin string
	Retry        RetryConfig
}

// DefaultRetryConfig returns the bootstrap retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Window:     time.Second,
		Floor:      100 * time.Millisecond,
		Multiplier: 1.0,
		MaxWindow:  5 * time.Second,
	}
}

func DefaultConfig() Config {
	return Config{Retry: DefaultRetryConfig()}
}

// WithDefaults fills zero-valued retry fields from DefaultRetryConfig.
func (c RetryConfig) WithDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Floor <= 0 {
		c.Floor = def.Floor
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = def.MaxWindow
	}
	if c.MaxWindow < c.Window {
		c.MaxWindow = c.Window
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

func (c Config) WithDefaults() Config {
	c.Retry = c.Retry.WithDefaults()
	return c
}
