package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// LoadDotEnv loads variables from the given files (".env" by default) without
// overriding the ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// FromEnv overlays ZENFLOW_* environment variables onto cfg. When no DSN is
// configured through ZENFLOW_DB_DSN, a complete set of DB_* variables selects
// a Postgres database.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ZENFLOW_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ZENFLOW_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if dsn, ok := postgresDSNFromEnv(); ok {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dsn
	}
	if v := os.Getenv("ZENFLOW_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("ZENFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ZENFLOW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ZENFLOW_STREAM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Stream.Enabled = b
		}
	}
	if v := os.Getenv("ZENFLOW_STREAM_DIR"); v != "" {
		cfg.Stream.Dir = v
	}
	if v := os.Getenv("ZENFLOW_DEADLETTER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DeadLetter.Enabled = b
		}
	}
	if v := os.Getenv("ZENFLOW_DEADLETTER_DIR"); v != "" {
		cfg.DeadLetter.Dir = v
	}

	t := &cfg.Telemetry
	envInt("ZENFLOW_ROUTER_QUEUE_CAPACITY", &t.Router.QueueCapacity)
	envInt("ZENFLOW_ROUTER_WORKERS", &t.Router.Workers)
	envInt("ZENFLOW_BUFFER_BATCH_SIZE", &t.Buffer.BatchSize)
	envDuration("ZENFLOW_BUFFER_MAX_DELAY", &t.Buffer.MaxDelay)
	envInt("ZENFLOW_BUFFER_RING_SIZE", &t.Buffer.RingSize)
	envInt("ZENFLOW_POOL_SCHEDULER_WORKERS", &t.Pools.SchedulerWorkers)
	envInt("ZENFLOW_POOL_CORE_WORKERS", &t.Pools.CoreWorkers)
	envInt("ZENFLOW_POOL_MAX_WORKERS", &t.Pools.MaxWorkers)
	envInt("ZENFLOW_POOL_QUEUE_CAPACITY", &t.Pools.QueueCapacity)
	envInt("ZENFLOW_COLLECTOR_QUEUE_CAPACITY", &t.Collector.QueueCapacity)
	envInt("ZENFLOW_COLLECTOR_WORKERS", &t.Collector.Workers)
	envInt("ZENFLOW_COLLECTOR_MAX_RETRIES", &t.Collector.MaxRetries)
	envDuration("ZENFLOW_COLLECTOR_RETRY_BACKOFF", &t.Collector.RetryBackoff)
	envInt("ZENFLOW_BREAKER_FAILURE_THRESHOLD", &t.Breaker.FailureThreshold)
	envDuration("ZENFLOW_BREAKER_RECOVERY_TIME", &t.Breaker.RecoveryTime)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func postgresDSNFromEnv() (string, bool) {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return "", false
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName), true
}
