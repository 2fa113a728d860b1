package telemetry

import (
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// Config holds every tunable of the pipeline. Zero values are replaced with
// the defaults below, except CollectorConfig.MaxRetries where zero means
// retry forever.
type Config struct {
	Router    RouterConfig    `yaml:"router"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Pools     PoolConfig      `yaml:"pools"`
	Collector CollectorConfig `yaml:"collector"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

type RouterConfig struct {
	QueueCapacity int `yaml:"queue_capacity"` // default 100000
	Workers       int `yaml:"workers"`        // default runtime.NumCPU()
}

type BufferConfig struct {
	BatchSize int           `yaml:"batch_size"` // default 100
	MaxDelay  time.Duration `yaml:"max_delay"`  // default 1s
	RingSize  int           `yaml:"ring_size"`  // default 200
}

type PoolConfig struct {
	SchedulerWorkers int           `yaml:"scheduler_workers"` // default 2
	CoreWorkers      int           `yaml:"core_workers"`      // default 4
	MaxWorkers       int           `yaml:"max_workers"`       // default 16
	QueueCapacity    int           `yaml:"queue_capacity"`    // default 1000
	KeepAlive        time.Duration `yaml:"keep_alive"`        // default 30s
}

type CollectorConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`    // default 10000, shared by all workers
	Workers         int           `yaml:"workers"`           // default 4
	RetryBackoff    time.Duration `yaml:"retry_backoff"`     // default 200ms
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"` // default 10s
	MaxRetries      int           `yaml:"max_retries"`       // 0 retries forever
	PersistTimeout  time.Duration `yaml:"persist_timeout"`   // default 30s
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // default 5
	RecoveryTime     time.Duration `yaml:"recovery_time"`     // default 10s
}

func DefaultConfig() Config {
	return Config{
		Router:    RouterConfig{}.withDefaults(),
		Buffer:    BufferConfig{}.withDefaults(),
		Pools:     PoolConfig{}.withDefaults(),
		Collector: CollectorConfig{MaxRetries: 10}.withDefaults(),
		Breaker:   BreakerConfig{}.withDefaults(),
	}
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100000
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Second
	}
	if c.RingSize <= 0 {
		c.RingSize = 200
	}
	return c
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.SchedulerWorkers <= 0 {
		c.SchedulerWorkers = 2
	}
	if c.CoreWorkers <= 0 {
		c.CoreWorkers = 4
	}
	if c.MaxWorkers < c.CoreWorkers {
		c.MaxWorkers = 4 * c.CoreWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	return c
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = 10 * time.Second
		if c.MaxRetryBackoff < c.RetryBackoff {
			c.MaxRetryBackoff = c.RetryBackoff
		}
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 30 * time.Second
	}
	return c
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTime <= 0 {
		c.RecoveryTime = 10 * time.Second
	}
	return c
}

// Validate rejects combinations the defaults cannot repair.
func (c Config) Validate() error {
	if c.Pools.MaxWorkers > 0 && c.Pools.CoreWorkers > c.Pools.MaxWorkers {
		return errors.Errorf("pools: core_workers (%d) exceeds max_workers (%d)", c.Pools.CoreWorkers, c.Pools.MaxWorkers)
	}
	if c.Buffer.RingSize < 0 || c.Buffer.BatchSize < 0 {
		return errors.New("buffer: batch_size and ring_size must not be negative")
	}
	if c.Router.QueueCapacity < 0 || c.Collector.QueueCapacity < 0 {
		return errors.New("queue capacities must not be negative")
	}
	return nil
}
