package config

import (
	"os"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/telemetry"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of the zenflow server.
type Config struct {
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Stream     StreamConfig     `yaml:"stream"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite3
	DSN    string `yaml:"dsn"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// StreamConfig controls republishing of persisted entries to the local stream log.
type StreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type DeadLetterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Telemetry: telemetry.DefaultConfig(),
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "zenflow.db",
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stream: StreamConfig{
			Enabled: false,
			Dir:     "data/stream",
		},
		DeadLetter: DeadLetterConfig{
			Enabled: true,
			Dir:     "data/deadletter",
		},
	}
}

// Load reads a YAML configuration file over the defaults. If path is empty,
// returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return errors.Errorf("database.driver must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Stream.Enabled && c.Stream.Dir == "" {
		return errors.New("stream.dir is required when the stream is enabled")
	}
	if c.DeadLetter.Enabled && c.DeadLetter.Dir == "" {
		return errors.New("dead_letter.dir is required when the dead-letter spool is enabled")
	}
	return errors.Wrap(c.Telemetry.Validate(), "telemetry")
}
