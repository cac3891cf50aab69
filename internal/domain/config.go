package domain

import "time"

// CacheConfig holds cache and ledger windows.
type CacheConfig struct {
	Expiry          time.Duration `yaml:"expiry" env:"CACHE_EXPIRY"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow" env:"CACHE_RATE_LIMIT_WINDOW"`
}

// RefillConfig tunes the background refill worker.
type RefillConfig struct {
	BatchSize        int           `yaml:"batchSize" env:"REFILL_BATCH_SIZE"`
	BaseDelay        time.Duration `yaml:"baseDelay" env:"REFILL_BASE_DELAY"`
	MaxDelay         time.Duration `yaml:"maxDelay" env:"REFILL_MAX_DELAY"`
	FailureThreshold int           `yaml:"failureThreshold" env:"REFILL_FAILURE_THRESHOLD"`
	FailureCooldown  time.Duration `yaml:"failureCooldown" env:"REFILL_FAILURE_COOLDOWN"`
	BatchCooldown    time.Duration `yaml:"batchCooldown" env:"REFILL_BATCH_COOLDOWN"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Expiry:          24 * time.Hour,
		RateLimitWindow: 5 * time.Minute,
	}
}

func DefaultRefillConfig() RefillConfig {
	return RefillConfig{
		BatchSize:        40,
		BaseDelay:        time.Second,
		MaxDelay:         15 * time.Second,
		FailureThreshold: 5,
		FailureCooldown:  60 * time.Second,
		BatchCooldown:    30 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultCacheConfig.
func (c CacheConfig) WithDefaults() CacheConfig {
	d := DefaultCacheConfig()
	if c.Expiry <= 0 {
		c.Expiry = d.Expiry
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	return c
}

// WithDefaults fills zero fields from DefaultRefillConfig.
func (c RefillConfig) WithDefaults() RefillConfig {
	d := DefaultRefillConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureCooldown < 0 {
		c.FailureCooldown = 0
	}
	if c.BatchCooldown < 0 {
		c.BatchCooldown = 0
	}
	return c
}

// AuthConfig configures bearer token verification. With neither Secret nor
// PublicKeyFile set every request maps to DefaultPrincipal.
type AuthConfig struct {
	Secret        string `yaml:"secret" env:"AUTH_JWT_SECRET"`
	PublicKeyFile string `yaml:"publicKeyFile" env:"AUTH_JWT_PUBLIC_KEY_FILE"`
	Issuer        string `yaml:"issuer" env:"AUTH_JWT_ISSUER"`
	Audience      string `yaml:"audience" env:"AUTH_JWT_AUDIENCE"`
}

func (c AuthConfig) Enabled() bool {
	return c.Secret != "" || c.PublicKeyFile != ""
}
