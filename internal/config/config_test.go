package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/model"
)

const sampleYAML = `
logging:
  level: debug
  format: json
detection:
  step: 10s
  thresholdDeg: 10
  minDuration: 30s
batch:
  chunkSize: 12h
  horizon: P3DT12H
  workers: 4
ellipsoid: WGS72
stations:
  - code: SVB
    name: Svalbard
    location: {latDeg: 78.23, lonDeg: 15.39, altM: 450}
  - code: MCM
    location: {latDeg: -77.85, lonDeg: 166.67}
sinks:
  kafka:
    brokers: [kafka-1:9092, kafka-2:9092]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groundpass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 10*time.Second, cfg.Detection.Step)
	require.Equal(t, 30*time.Second, cfg.Detection.MinDuration)
	require.Equal(t, core.DefaultRefineIterations, cfg.Detection.RefineIterations)
	require.Equal(t, 12*time.Hour, cfg.Batch.ChunkSize)
	require.Equal(t, core.DefaultChunkMargin, cfg.Batch.Margin)
	require.Equal(t, 84*time.Hour, cfg.Batch.Horizon.Duration())
	require.Equal(t, 4, cfg.Batch.Workers)
	require.True(t, cfg.Batch.DeleteExisting)

	e, err := cfg.ReferenceEllipsoid()
	require.NoError(t, err)
	require.Equal(t, core.WGS72, e)

	require.Len(t, cfg.Stations, 2)
	require.Equal(t, "Svalbard", cfg.Stations[0].Name)
	require.InDelta(t, 166.67, cfg.Stations[1].Location.LonDeg, 1e-9)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Sinks.Kafka.Brokers)
	require.Equal(t, "groundpass.passes", cfg.Sinks.Kafka.Topic)

	opts := cfg.DetectionOptions()
	require.Equal(t, 10.0, opts.ThresholdDeg)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("GROUNDPASS_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, core.DefaultOptions(), cfg.DetectionOptions())
	require.Equal(t, 7*24*time.Hour, cfg.Batch.Horizon.Duration())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "not found")
}

func TestLoadRejectsBadHorizon(t *testing.T) {
	_, err := Load(writeConfig(t, "batch:\n  horizon: 7 days\n"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GROUNDPASS_STORE_PATH", "/var/lib/groundpass/store.json")
	t.Setenv("GROUNDPASS_HORIZON", "PT6H")
	t.Setenv("GROUNDPASS_WORKERS", "2")
	t.Setenv("GROUNDPASS_KAFKA_BROKERS", " a:9092, ,b:9092")
	t.Setenv("GROUNDPASS_TRACING_ENABLED", "true")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "/var/lib/groundpass/store.json", cfg.Store.Path)
	require.Equal(t, 6*time.Hour, cfg.Batch.Horizon.Duration())
	require.Equal(t, 2, cfg.Batch.Workers)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.Sinks.Kafka.Brokers)
	require.True(t, cfg.Tracing.Enabled)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Detection.Step = 0
	cfg.Batch.Workers = 0
	cfg.Ellipsoid = "clarke1866"
	cfg.Stations = []model.GroundStation{
		{Code: "A"},
		{Code: "A"},
		{Code: "B", Location: model.GroundLocation{LatDeg: 95}},
	}
	cfg.Sinks.MQTT.Broker = "tcp://localhost:1883"
	cfg.Sinks.MQTT.Topic = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"detection", "workers", "clarke1866", `duplicate code "A"`, "latitude", "sinks.mqtt"} {
		require.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestISODurationYAMLRoundTrip(t *testing.T) {
	var v struct {
		H ISODuration `yaml:"h"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("h: P1DT2H\n"), &v))
	require.Equal(t, 26*time.Hour, v.H.Duration())

	text, err := v.H.MarshalText()
	require.NoError(t, err)
	var back ISODuration
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, v.H, back)

	_, err = ParseISODuration("-PT1H")
	require.Error(t, err)
}
