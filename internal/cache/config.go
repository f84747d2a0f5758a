package cache

import (
	"fmt"
	"time"
)

// Config configures the two-tier Expiring Cache.
type Config struct {
	L1Enabled   bool
	L1MaxEntries int
	L1TTL       time.Duration

	L2Enabled     bool
	L2TTL         time.Duration
	L2Compression bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	RedisMinIdle  int
}

// DefaultConfig matches the stated default TTL of 3600s.
func DefaultConfig() *Config {
	return &Config{
		L1Enabled:     true,
		L1MaxEntries:  10000,
		L1TTL:         time.Hour,
		L2Enabled:     true,
		L2TTL:         time.Hour,
		L2Compression: true,
		RedisPoolSize: 50,
		RedisMinIdle:  10,
	}
}

func (c *Config) Validate() error {
	if c.L1Enabled && c.L1MaxEntries <= 0 {
		return fmt.Errorf("cache: l1_max_entries must be > 0")
	}
	if c.L1Enabled && c.L1TTL <= 0 {
		return fmt.Errorf("cache: l1_ttl must be > 0")
	}
	if c.L2Enabled && c.L2TTL <= 0 {
		return fmt.Errorf("cache: l2_ttl must be > 0")
	}
	return nil
}
