// Package config defines LightQ's operator-tunable settings. Fields carry
// both toml tags (for file loading) and env tags (for operator overrides)
// so a single struct definition drives both loading paths.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Static configuration errors.
var (
	ErrInvalidGroupFetchLimit    = errors.New("message-allowed-to-fetch must be positive")
	ErrInvalidVisibilityTimeout  = errors.New("visibility-timeout-seconds must be positive")
	ErrInvalidMaxDeliveries      = errors.New("max-delivery-attempts must be positive")
	ErrAsyncWithSchedule         = errors.New("async-persistence cannot be combined with scheduled messages unless allow-async-scheduled is set")
	ErrInvalidWorkerPoolSizing   = errors.New("worker pool core/max/queue sizes must be positive and core <= max")
	ErrInvalidPromoterRate       = errors.New("scheduled-promoter-rate-ms must be positive")
	ErrInvalidIndexCacheSettings = errors.New("index-cache-max-groups and index-cache-expire-minutes must be positive")
)

// WorkerPoolConfig sizes the bounded write-behind persistence pool.
type WorkerPoolConfig struct {
	Core  int `toml:"core" yaml:"core" env:"WORKER_POOL_CORE" default:"5"`
	Max   int `toml:"max" yaml:"max" env:"WORKER_POOL_MAX" default:"10"`
	Queue int `toml:"queue" yaml:"queue" env:"WORKER_POOL_QUEUE" default:"25"`
}

// Config is LightQ's single flat configuration object.
type Config struct {
	// MessageAllowedToFetch bounds view/peek page sizes (default 50).
	MessageAllowedToFetch int `toml:"message-allowed-to-fetch" yaml:"message-allowed-to-fetch" env:"MESSAGE_ALLOWED_TO_FETCH" default:"50"`

	// PersistenceDurationMinutes is the live-record TTL after consumed=true (default 30).
	PersistenceDurationMinutes int `toml:"persistence-duration-minutes" yaml:"persistence-duration-minutes" env:"PERSISTENCE_DURATION_MINUTES" default:"30"`

	// CacheTTLMinutes is the cache key TTL refreshed on every write (default 5).
	CacheTTLMinutes int `toml:"cache-ttl-minutes" yaml:"cache-ttl-minutes" env:"CACHE_TTL_MINUTES" default:"5"`

	// CacheMaxEntriesPerGroup bounds the cache scored set per group; 0 = unbounded.
	CacheMaxEntriesPerGroup int `toml:"cache-max-entries-per-group" yaml:"cache-max-entries-per-group" env:"CACHE_MAX_ENTRIES_PER_GROUP" default:"1000"`

	// VisibilityTimeoutSeconds is the default reservation window.
	VisibilityTimeoutSeconds int `toml:"visibility-timeout-seconds" yaml:"visibility-timeout-seconds" env:"VISIBILITY_TIMEOUT_SECONDS" default:"30"`

	// MaxDeliveryAttempts is the DLQ cap; the (k+1)-th reservation triggers DLQ.
	MaxDeliveryAttempts int `toml:"max-delivery-attempts" yaml:"max-delivery-attempts" env:"MAX_DELIVERY_ATTEMPTS" default:"5"`

	// DLQSuffix names the sibling DLQ collection: "<group><suffix>".
	DLQSuffix string `toml:"dlq-suffix" yaml:"dlq-suffix" env:"DLQ_SUFFIX" default:"-dlq"`

	// DLQTTLMinutes expires DLQ entries; 0 disables the TTL index.
	DLQTTLMinutes int `toml:"dlq-ttl-minutes" yaml:"dlq-ttl-minutes" env:"DLQ_TTL_MINUTES" default:"0"`

	// AsyncPersistence toggles write-behind push: push returns once the
	// message is cached, and a worker-pool task persists it durably.
	AsyncPersistence bool `toml:"async-persistence" yaml:"async-persistence" env:"ASYNC_PERSISTENCE" default:"false"`

	// AllowAsyncScheduled opts in to combining write-behind with scheduledAt;
	// by default that combination is rejected since a crash between the
	// cache write and the durable write-behind flush would silently drop a
	// scheduled message with nothing in the durable store to promote later.
	AllowAsyncScheduled bool `toml:"allow-async-scheduled" yaml:"allow-async-scheduled" env:"ALLOW_ASYNC_SCHEDULED" default:"false"`

	// ScheduledPromoterRateMS is the promoter tick interval (default 5000).
	ScheduledPromoterRateMS int `toml:"scheduled-promoter-rate-ms" yaml:"scheduled-promoter-rate-ms" env:"SCHEDULED_PROMOTER_RATE_MS" default:"5000"`

	// MaxPromotionsPerRun caps promotions per promoter tick.
	MaxPromotionsPerRun int `toml:"max-promotions-per-run" yaml:"max-promotions-per-run" env:"MAX_PROMOTIONS_PER_RUN" default:"100"`

	// IndexCacheMaxGroups bounds the per-group index-ensure memoization LRU.
	IndexCacheMaxGroups int `toml:"index-cache-max-groups" yaml:"index-cache-max-groups" env:"INDEX_CACHE_MAX_GROUPS" default:"256"`

	// IndexCacheExpireMinutes expires memoized index-ensure entries by access time.
	IndexCacheExpireMinutes int `toml:"index-cache-expire-minutes" yaml:"index-cache-expire-minutes" env:"INDEX_CACHE_EXPIRE_MINUTES" default:"60"`

	// RedisCommandTimeoutSeconds bounds every cache call (default 2).
	RedisCommandTimeoutSeconds int `toml:"redis-command-timeout-seconds" yaml:"redis-command-timeout-seconds" env:"REDIS_COMMAND_TIMEOUT_SECONDS" default:"2"`

	// RedisShutdownTimeoutSeconds bounds the HTTP server's graceful shutdown
	// in cmd/lightqd (default 5); closing the cache client is not bounded by it.
	RedisShutdownTimeoutSeconds int `toml:"redis-shutdown-timeout-seconds" yaml:"redis-shutdown-timeout-seconds" env:"REDIS_SHUTDOWN_TIMEOUT_SECONDS" default:"5"`

	// WorkerPool sizes the write-behind persistence pool.
	WorkerPool WorkerPoolConfig `toml:"worker-pool" yaml:"worker-pool"`

	// DatabaseDriver/DatabaseDSN select the durable store backend.
	DatabaseDriver string `toml:"database-driver" yaml:"database-driver" env:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `toml:"database-dsn" yaml:"database-dsn" env:"DATABASE_DSN" default:"file:lightq.db?_pragma=busy_timeout(5000)"`

	// RedisAddr is the cache backend address; empty selects the in-memory fallback engine.
	RedisAddr string `toml:"redis-addr" yaml:"redis-addr" env:"REDIS_ADDR" default:""`
}

// Default returns the configuration with every default applied, matching
// the struct tags above; it is the zero-effort entry point for tests and
// for cmd/lightqd when no config file is supplied.
func Default() *Config {
	return &Config{
		MessageAllowedToFetch:       50,
		PersistenceDurationMinutes:  30,
		CacheTTLMinutes:             5,
		CacheMaxEntriesPerGroup:     1000,
		VisibilityTimeoutSeconds:    30,
		MaxDeliveryAttempts:         5,
		DLQSuffix:                   "-dlq",
		DLQTTLMinutes:               0,
		AsyncPersistence:            false,
		AllowAsyncScheduled:         false,
		ScheduledPromoterRateMS:     5000,
		MaxPromotionsPerRun:         100,
		IndexCacheMaxGroups:         256,
		IndexCacheExpireMinutes:     60,
		RedisCommandTimeoutSeconds:  2,
		RedisShutdownTimeoutSeconds: 5,
		WorkerPool: WorkerPoolConfig{
			Core:  5,
			Max:   10,
			Queue: 25,
		},
		DatabaseDriver: "sqlite",
		DatabaseDSN:    "file:lightq.db?_pragma=busy_timeout(5000)",
	}
}

// Validate rejects configurations with nonsensical tunables before they
// reach the store, cache, or queue engine.
func (c *Config) Validate() error {
	if c.MessageAllowedToFetch <= 0 {
		return ErrInvalidGroupFetchLimit
	}
	if c.VisibilityTimeoutSeconds <= 0 {
		return ErrInvalidVisibilityTimeout
	}
	if c.MaxDeliveryAttempts <= 0 {
		return ErrInvalidMaxDeliveries
	}
	if c.ScheduledPromoterRateMS <= 0 {
		return ErrInvalidPromoterRate
	}
	if c.IndexCacheMaxGroups <= 0 || c.IndexCacheExpireMinutes <= 0 {
		return ErrInvalidIndexCacheSettings
	}
	if c.WorkerPool.Core <= 0 || c.WorkerPool.Max <= 0 || c.WorkerPool.Queue <= 0 || c.WorkerPool.Core > c.WorkerPool.Max {
		return ErrInvalidWorkerPoolSizing
	}
	return nil
}

// CheckAsyncScheduleCombination rejects write-behind persistence combined
// with a scheduled message unless the operator explicitly opted in.
func (c *Config) CheckAsyncScheduleCombination(hasScheduledAt bool) error {
	if c.AsyncPersistence && hasScheduledAt && !c.AllowAsyncScheduled {
		return ErrAsyncWithSchedule
	}
	return nil
}

// VisibilityTimeout returns the configured visibility timeout as a duration.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// PersistenceDuration returns the live-record TTL as a duration.
func (c *Config) PersistenceDuration() time.Duration {
	return time.Duration(c.PersistenceDurationMinutes) * time.Minute
}

// CacheTTL returns the cache key TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// DLQTTL returns the DLQ entry TTL as a duration; zero disables the index.
func (c *Config) DLQTTL() time.Duration {
	return time.Duration(c.DLQTTLMinutes) * time.Minute
}

// ScheduledPromoterRate returns the promoter tick interval as a duration.
func (c *Config) ScheduledPromoterRate() time.Duration {
	return time.Duration(c.ScheduledPromoterRateMS) * time.Millisecond
}

// IndexCacheExpire returns the index-memoization expiry as a duration.
func (c *Config) IndexCacheExpire() time.Duration {
	return time.Duration(c.IndexCacheExpireMinutes) * time.Minute
}

// RedisCommandTimeout returns the per-cache-call timeout as a duration.
func (c *Config) RedisCommandTimeout() time.Duration {
	return time.Duration(c.RedisCommandTimeoutSeconds) * time.Second
}

// RedisShutdownTimeout returns the cache client shutdown budget as a duration.
func (c *Config) RedisShutdownTimeout() time.Duration {
	return time.Duration(c.RedisShutdownTimeoutSeconds) * time.Second
}

// DLQCollection returns the DLQ sub-collection name for a group.
func (c *Config) DLQCollection(group string) string {
	return fmt.Sprintf("%s%s", group, c.DLQSuffix)
}
