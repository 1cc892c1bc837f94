// Package config loads groundpass settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/model"
	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"
)

// Config captures everything the groundpass binaries need.
type Config struct {
	Logging   LoggingConfig               `yaml:"logging"`
	Detection DetectionConfig             `yaml:"detection"`
	Batch     BatchConfig                 `yaml:"batch"`
	Ellipsoid string                      `yaml:"ellipsoid"`
	Store     StoreConfig                 `yaml:"store"`
	TLE       TLEConfig                   `yaml:"tle"`
	Stations  []model.GroundStation       `yaml:"stations"`
	Server    ServerConfig                `yaml:"server"`
	Sinks     SinksConfig                 `yaml:"sinks"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DetectionConfig mirrors core.Options.
type DetectionConfig struct {
	Step             time.Duration `yaml:"step"`
	ThresholdDeg     float64       `yaml:"thresholdDeg"`
	MinDuration      time.Duration `yaml:"minDuration"`
	RefineIterations int           `yaml:"refineIterations"`
}

// BatchConfig controls bulk generation.
type BatchConfig struct {
	ChunkSize      time.Duration `yaml:"chunkSize"`
	Margin         time.Duration `yaml:"margin"`
	Horizon        ISODuration   `yaml:"horizon"`
	Workers        int           `yaml:"workers"`
	DeleteExisting bool          `yaml:"deleteExisting"`
}

// StoreConfig locates the store snapshot.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TLEConfig selects where element sets come from. File wins over URL.
type TLEConfig struct {
	File    string        `yaml:"file"`
	BaseURL string        `yaml:"baseURL"`
	Group   string        `yaml:"group"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SinksConfig lists the optional pass publishers.
type SinksConfig struct {
	File  FileSinkConfig  `yaml:"file"`
	Kafka KafkaSinkConfig `yaml:"kafka"`
	MQTT  MQTTSinkConfig  `yaml:"mqtt"`
}

// FileSinkConfig appends JSON lines to a local file.
type FileSinkConfig struct {
	Path string `yaml:"path"`
}

// KafkaSinkConfig publishes to a Kafka topic.
type KafkaSinkConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MQTTSinkConfig publishes to an MQTT broker.
type MQTTSinkConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientID"`
	QoS      byte   `yaml:"qos"`
}

// ISODuration is a time.Duration written as an ISO-8601 duration ("P7D").
type ISODuration time.Duration

// Duration returns d as a time.Duration.
func (d ISODuration) Duration() time.Duration { return time.Duration(d) }

// String formats the duration in ISO-8601.
func (d ISODuration) String() string {
	return duration.Format(time.Duration(d))
}

// MarshalText marshals the duration to an ISO-8601 string.
func (d ISODuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses an ISO-8601 duration.
func (d *ISODuration) UnmarshalText(b []byte) error {
	parsed, err := ParseISODuration(string(b))
	if err != nil {
		return err
	}
	*d = ISODuration(parsed)
	return nil
}

// UnmarshalYAML accepts a scalar ISO-8601 duration.
func (d *ISODuration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// ParseISODuration parses s ("PT6H", "P7D") into a positive time.Duration.
func ParseISODuration(s string) (time.Duration, error) {
	parsed, err := duration.Parse(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse ISO-8601 duration %q: %w", s, err)
	}
	d := parsed.ToTimeDuration()
	if d < 0 {
		return 0, fmt.Errorf("ISO-8601 duration %q must not be negative", s)
	}
	return d, nil
}

// Default returns the built-in configuration.
func Default() Config {
	opts := core.DefaultOptions()
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Detection: DetectionConfig{
			Step:             opts.Step,
			ThresholdDeg:     opts.ThresholdDeg,
			MinDuration:      opts.MinDuration,
			RefineIterations: opts.RefineIterations,
		},
		Batch: BatchConfig{
			ChunkSize:      core.DefaultChunkSize,
			Margin:         core.DefaultChunkMargin,
			Horizon:        ISODuration(7 * 24 * time.Hour),
			Workers:        runtime.NumCPU(),
			DeleteExisting: true,
		},
		Ellipsoid: core.WGS84.Name,
		Store:     StoreConfig{Path: "groundpass.json"},
		TLE:       TLEConfig{Group: "active", Timeout: 60 * time.Second},
		Server:    ServerConfig{Address: ":8080", GracefulTimeout: 10 * time.Second},
		Sinks: SinksConfig{
			Kafka: KafkaSinkConfig{Topic: "groundpass.passes"},
			MQTT:  MQTTSinkConfig{Topic: "groundpass/passes", ClientID: "groundpass", QoS: 1},
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads the YAML file at path (or $GROUNDPASS_CONFIG when path is
// empty) over the defaults, then applies environment overrides. With no file
// configured the defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GROUNDPASS_CONFIG")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROUNDPASS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GROUNDPASS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GROUNDPASS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GROUNDPASS_TLE_FILE"); v != "" {
		cfg.TLE.File = v
	}
	if v := os.Getenv("GROUNDPASS_TLE_URL"); v != "" {
		cfg.TLE.BaseURL = v
	}
	if v := os.Getenv("GROUNDPASS_TLE_GROUP"); v != "" {
		cfg.TLE.Group = v
	}
	if v := os.Getenv("GROUNDPASS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("GROUNDPASS_HORIZON"); v != "" {
		if d, err := ParseISODuration(v); err == nil {
			cfg.Batch.Horizon = ISODuration(d)
		}
	}
	if v := os.Getenv("GROUNDPASS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Workers = n
		}
	}
	if v := os.Getenv("GROUNDPASS_STEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.Step = d
		}
	}
	if v := os.Getenv("GROUNDPASS_SINK_FILE"); v != "" {
		cfg.Sinks.File.Path = v
	}
	if v := os.Getenv("GROUNDPASS_KAFKA_BROKERS"); v != "" {
		cfg.Sinks.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("GROUNDPASS_KAFKA_TOPIC"); v != "" {
		cfg.Sinks.Kafka.Topic = v
	}
	if v := os.Getenv("GROUNDPASS_MQTT_BROKER"); v != "" {
		cfg.Sinks.MQTT.Broker = v
	}
	if v := os.Getenv("GROUNDPASS_MQTT_TOPIC"); v != "" {
		cfg.Sinks.MQTT.Topic = v
	}
	cfg.Tracing = observability.TracingConfigFromEnv(cfg.Tracing)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DetectionOptions converts the detection section to core.Options.
func (c *Config) DetectionOptions() core.Options {
	return core.Options{
		Step:             c.Detection.Step,
		ThresholdDeg:     c.Detection.ThresholdDeg,
		MinDuration:      c.Detection.MinDuration,
		RefineIterations: c.Detection.RefineIterations,
	}
}

// ReferenceEllipsoid resolves the configured ellipsoid name.
func (c *Config) ReferenceEllipsoid() (core.Ellipsoid, error) {
	e, ok := core.EllipsoidByName(strings.ToLower(c.Ellipsoid))
	if !ok {
		return core.Ellipsoid{}, fmt.Errorf("unknown ellipsoid %q", c.Ellipsoid)
	}
	return e, nil
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error
	if err := c.DetectionOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detection: %w", err))
	}
	if c.Batch.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("batch: chunkSize %s must be positive", c.Batch.ChunkSize))
	}
	if c.Batch.Margin < 0 {
		errs = append(errs, fmt.Errorf("batch: margin %s must not be negative", c.Batch.Margin))
	}
	if c.Batch.Horizon <= 0 {
		errs = append(errs, fmt.Errorf("batch: horizon %s must be positive", c.Batch.Horizon))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("batch: workers %d must be positive", c.Batch.Workers))
	}
	if _, err := c.ReferenceEllipsoid(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Stations))
	for i, st := range c.Stations {
		if st.Code == "" {
			errs = append(errs, fmt.Errorf("stations[%d]: code is required", i))
			continue
		}
		if seen[st.Code] {
			errs = append(errs, fmt.Errorf("stations[%d]: duplicate code %q", i, st.Code))
		}
		seen[st.Code] = true
		if err := st.Location.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stations[%d] %s: %w", i, st.Code, err))
		}
	}
	if len(c.Sinks.Kafka.Brokers) > 0 && c.Sinks.Kafka.Topic == "" {
		errs = append(errs, errors.New("sinks.kafka: topic is required when brokers are set"))
	}
	if c.Sinks.MQTT.Broker != "" && c.Sinks.MQTT.Topic == "" {
		errs = append(errs, errors.New("sinks.mqtt: topic is required when a broker is set"))
	}
	if c.Sinks.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("sinks.mqtt: qos %d must be 0, 1 or 2", c.Sinks.MQTT.QoS))
	}
	return errors.Join(errs...)
}
