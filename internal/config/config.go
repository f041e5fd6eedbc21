// Package config loads the bertctl configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/macro"
)

// Config is the root configuration.
type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	// Addresses overrides the profile's address table per family name.
	Addresses map[string][]uint16 `yaml:"addresses"`
	Logging   LoggingConfig       `yaml:"logging"`
	MQTT      MQTTConfig          `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig      `yaml:"influxdb"`
	Journal   JournalConfig       `yaml:"journal"`
	Trace     TraceConfig         `yaml:"trace"`
}

// InstrumentConfig selects the port and the instrument build.
type InstrumentConfig struct {
	Profile      string        `yaml:"profile"`
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QueueSize    int           `yaml:"queue_size"`
	MacroDir     string        `yaml:"macro_dir"`
	ClockDefsDir string        `yaml:"clock_defs_dir"`
	// MacroVersion pins the macro downloaded to the cores; empty means the
	// latest known.
	MacroVersion string `yaml:"macro_version"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig configures the event bridge.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// InfluxDBConfig configures telemetry export.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// JournalConfig configures the SQLite session journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TraceConfig configures the bus trace file.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the configuration at path on top of the defaults. An empty
// path yields the defaults. Environment overrides are applied before
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Instrument: InstrumentConfig{
			Profile:      instrument.DefaultProfile,
			Baud:         115200,
			ReadTimeout:  100 * time.Millisecond,
			PollInterval: time.Second,
			QueueSize:    64,
			MacroDir:     "./macros",
			ClockDefsDir: "./lmx",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "bertctl",
			TopicPrefix: "bert",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Org:    "opentrace",
			Bucket: "bert",
		},
		Journal: JournalConfig{Path: "./data/bertctl.db"},
		Trace:   TraceConfig{Path: "./data/bus.trace"},
	}
}

// applyEnvOverrides applies BERTCTL_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BERTCTL_PORT"); v != "" {
		cfg.Instrument.Port = v
	}
	if v := os.Getenv("BERTCTL_PROFILE"); v != "" {
		cfg.Instrument.Profile = v
	}
	if v := os.Getenv("BERTCTL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BERTCTL_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("BERTCTL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("BERTCTL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("BERTCTL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("BERTCTL_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Profile(); err != nil {
		errs = append(errs, err)
	}
	if c.Instrument.Baud <= 0 {
		errs = append(errs, errors.New("instrument.baud must be positive"))
	}
	if c.Instrument.ReadTimeout <= 0 {
		errs = append(errs, errors.New("instrument.read_timeout must be positive"))
	}
	if c.Instrument.PollInterval < 0 {
		errs = append(errs, errors.New("instrument.poll_interval must not be negative"))
	}
	if c.Instrument.QueueSize < 0 {
		errs = append(errs, errors.New("instrument.queue_size must not be negative"))
	}
	if v := c.Instrument.MacroVersion; v != "" {
		if _, _, ok := macro.ByVersion(v); !ok {
			errs = append(errs, fmt.Errorf("instrument.macro_version %q is not a known macro", v))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, errors.New("mqtt.topic_prefix is required when mqtt is enabled"))
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, errors.New("influxdb.url, org and bucket are required when influxdb is enabled"))
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}
	if c.Trace.Enabled && c.Trace.Path == "" {
		errs = append(errs, errors.New("trace.path is required when tracing is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// Profile returns the configured address profile with overrides applied.
func (c *Config) Profile() (instrument.Profile, error) {
	p, err := instrument.LookupProfile(c.Instrument.Profile)
	if err != nil {
		return instrument.Profile{}, err
	}
	if len(c.Addresses) == 0 {
		return p, nil
	}
	return p.WithOverrides(c.Addresses)
}

// MacroInfo resolves the configured macro version.
func (c *Config) MacroInfo() macro.FileInfo {
	if _, info, ok := macro.ByVersion(c.Instrument.MacroVersion); ok {
		return info
	}
	_, info := macro.Latest()
	return info
}
