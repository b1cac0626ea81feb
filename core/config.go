package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type JWTConfig struct {
	Secret               string `yaml:"secret"`
	Issuer               string `yaml:"issuer"`
	AccessTokenDuration  int    `yaml:"access_token_duration"`  // seconds
	RefreshTokenDuration int    `yaml:"refresh_token_duration"` // seconds
	TempTokenDuration    int    `yaml:"temp_token_duration"`    // seconds
	RotateRefreshTokens  bool   `yaml:"rotate_refresh_tokens"`
}

type CryptoConfig struct {
	// Optional. When set, identity emails are encrypted at rest.
	EncryptionKey string `yaml:"encryption_key"`
}

type CookieConfig struct {
	Secure *bool  `yaml:"secure"`
	Domain string `yaml:"domain"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type Config struct {
	JWT         JWTConfig       `yaml:"jwt"`
	Crypto      CryptoConfig    `yaml:"crypto"`
	Cookie      CookieConfig    `yaml:"cookie"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	FrontendURL string          `yaml:"frontend_url"`

	LoginStateTTL int `yaml:"login_state_ttl"` // seconds
	PurgeInterval int `yaml:"purge_interval"`  // seconds
}

const (
	DefaultIssuer               = "advent-calendar"
	DefaultAccessTokenDuration  = 3600
	DefaultRefreshTokenDuration = 30 * 24 * 3600
	DefaultTempTokenDuration    = 300
	DefaultLoginStateTTL        = 600
	DefaultPurgeInterval        = 3600
	DefaultRequestsPerMinute    = 60
	DefaultRateLimitBurst       = 20
)

var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) ApplyDefaults() {
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = DefaultIssuer
	}
	if c.JWT.AccessTokenDuration == 0 {
		c.JWT.AccessTokenDuration = DefaultAccessTokenDuration
	}
	if c.JWT.RefreshTokenDuration == 0 {
		c.JWT.RefreshTokenDuration = DefaultRefreshTokenDuration
	}
	if c.JWT.TempTokenDuration == 0 {
		c.JWT.TempTokenDuration = DefaultTempTokenDuration
	}
	if c.LoginStateTTL == 0 {
		c.LoginStateTTL = DefaultLoginStateTTL
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = DefaultPurgeInterval
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
}

// Validate checks durations and the encryption key size. The signing secret
// is checked separately by NewSigningKey.
func (c *Config) Validate() error {
	if c.JWT.AccessTokenDuration < 0 || c.JWT.RefreshTokenDuration < 0 || c.JWT.TempTokenDuration < 0 {
		return fmt.Errorf("%w: token durations must be positive", ErrInvalidConfig)
	}
	if c.JWT.RefreshTokenDuration <= c.JWT.AccessTokenDuration {
		return fmt.Errorf("%w: refresh_token_duration must exceed access_token_duration", ErrInvalidConfig)
	}
	if c.LoginStateTTL < 0 || c.PurgeInterval < 0 {
		return fmt.Errorf("%w: login_state_ttl and purge_interval must be positive", ErrInvalidConfig)
	}
	if c.Crypto.EncryptionKey != "" && len(c.Crypto.EncryptionKey) != 32 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, ErrInvalidEncryptionKey)
	}
	return nil
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenDuration) * time.Second
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTokenDuration) * time.Second
}

func (c *Config) TempTTL() time.Duration {
	return time.Duration(c.JWT.TempTokenDuration) * time.Second
}

func (c *Config) LoginStateWindow() time.Duration {
	return time.Duration(c.LoginStateTTL) * time.Second
}

func (c *Config) PurgeEvery() time.Duration {
	return time.Duration(c.PurgeInterval) * time.Second
}

// SecureCookies defaults to true unless explicitly disabled for local development
func (c *Config) SecureCookies() bool {
	return c.Cookie.Secure == nil || *c.Cookie.Secure
}
