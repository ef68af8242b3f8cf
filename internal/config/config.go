package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/framechan/internal/protocol/session"
)

var ErrInvalidConfig = errors.New("config: invalid")

// LinkConfig is the on-disk configuration of one side of a link.
type LinkConfig struct {
	Identity     string
	Origin       string
	TargetOrigin string
	ListenAddr   string
	DialURL      string

	// LinkToken, when set, is required on /link upgrades and sent when dialing.
	LinkToken string
	TLS       TLSConfig
	Retry     session.RetryConfig
}

// TLSConfig names PEM files. CertFile and KeyFile serve wss; CAFile is the
// trust root for dialing one.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type fileConfig struct {
	Identity     string      `toml:"identity"`
	Origin       string      `toml:"origin"`
	TargetOrigin string      `toml:"target_origin"`
	ListenAddr   string      `toml:"listen_addr"`
	DialURL      string      `toml:"dial_url"`
	LinkToken    string      `toml:"link_token"`
	TLS          tlsConfig   `toml:"tls"`
	Retry        retryConfig `toml:"retry"`
}

type tlsConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

type retryConfig struct {
	Window      string  `toml:"window"`
	Floor       string  `toml:"floor"`
	Multiplier  float64 `toml:"multiplier"`
	MaxWindow   string  `toml:"max_window"`
	MaxAttempts int     `toml:"max_attempts"`
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		ListenAddr: ":9400",
		Retry:      session.DefaultConfig().Retry,
	}
}

// LoadLinkConfig overlays the keys present in path onto DefaultLinkConfig.
func LoadLinkConfig(path string) (LinkConfig, error) {
	cfg := DefaultLinkConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return LinkConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("identity") {
		cfg.Identity = strings.TrimSpace(raw.Identity)
	}
	if meta.IsDefined("origin") {
		cfg.Origin = session.NormalizeOrigin(raw.Origin)
	}
	if meta.IsDefined("target_origin") {
		cfg.TargetOrigin = session.NormalizeOrigin(raw.TargetOrigin)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("dial_url") {
		cfg.DialURL = strings.TrimSpace(raw.DialURL)
	}
	if meta.IsDefined("link_token") {
		cfg.LinkToken = strings.TrimSpace(raw.LinkToken)
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}

	if meta.IsDefined("retry", "window") {
		d, err := parseDuration("retry.window", raw.Retry.Window)
		if err != nil {
			return LinkConfig{}, err
		}
		cfg.Retry.Window = d
	}
	if meta.IsDefined("retry", "floor") {
		d, err := parseDuration("retry.floor", raw.Retry.Floor)
		if err != nil {
			return LinkConfig{}, err
		}
		cfg.Retry.Floor = d
	}
	if meta.IsDefined("retry", "max_window") {
		d, err := parseDuration("retry.max_window", raw.Retry.MaxWindow)
		if err != nil {
			return LinkConfig{}, err
		}
		cfg.Retry.MaxWindow = d
	}
	if meta.IsDefined("retry", "multiplier") {
		if raw.Retry.Multiplier < 1.0 {
			return LinkConfig{}, fmt.Errorf("%w: retry.multiplier must be >= 1", ErrInvalidConfig)
		}
		cfg.Retry.Multiplier = raw.Retry.Multiplier
	}
	if meta.IsDefined("retry", "max_attempts") {
		if raw.Retry.MaxAttempts < 0 {
			return LinkConfig{}, fmt.Errorf("%w: retry.max_attempts must be >= 0", ErrInvalidConfig)
		}
		cfg.Retry.MaxAttempts = raw.Retry.MaxAttempts
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return LinkConfig{}, fmt.Errorf("%w: unknown key %s", ErrInvalidConfig, undecoded[0])
	}
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
	}
	return d, nil
}

func ValidateLinkConfig(cfg LinkConfig) error {
	if err := cfg.Session().Validate(); err != nil {
		return fmt.Errorf("%w: target_origin: %w", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.Origin) == "" {
		return fmt.Errorf("%w: origin is required", ErrInvalidConfig)
	}
	if err := session.ValidateTargetOrigin(cfg.Origin); err != nil {
		return fmt.Errorf("%w: origin: %w", ErrInvalidConfig, err)
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls.cert_file and tls.key_file go together", ErrInvalidConfig)
	}
	if cfg.Retry.MaxWindow > 0 && cfg.Retry.MaxWindow < cfg.Retry.Window {
		return fmt.Errorf("%w: retry.max_window below retry.window", ErrInvalidConfig)
	}
	return nil
}

// ValidateListen checks the fields a listening responder needs.
func (c LinkConfig) ValidateListen() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	return nil
}

// ValidateDial checks the fields a dialing initiator needs.
func (c LinkConfig) ValidateDial() error {
	if strings.TrimSpace(c.DialURL) == "" {
		return fmt.Errorf("%w: dial_url is required", ErrInvalidConfig)
	}
	return nil
}

// Session returns the link session settings with retry defaults applied.
func (c LinkConfig) Session() session.Config {
	return session.Config{TargetOrigin: c.TargetOrigin, Retry: c.Retry}.WithDefaults()
}

// ClientTLS builds the dialer TLS config. It returns nil when no CA file is
// set, which leaves the system roots in effect.
func (c LinkConfig) ClientTLS() (*tls.Config, error) {
	if c.TLS.CAFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.TLS.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read tls.ca_file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: tls.ca_file holds no certificates", ErrInvalidConfig)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
