package observability

import (
	"testing"

	"github.com/smallbiznis/procura/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:   "1.2.0",
		Environment:  "production",
		OTLPEndpoint: " collector:4317 ",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			OtelEnabled:   true,
			SamplingRatio: 3,
		},
	})

	assert.Equal(t, "procura", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestConfigDebug(t *testing.T) {
	tests := []struct {
		level string
		env   string
		want  bool
	}{
		{"debug", "production", true},
		{"info", "development", true},
		{"info", "Local", true},
		{"warn", "staging", false},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.env, func(t *testing.T) {
			assert.Equal(t, tt.want, Config{LogLevel: tt.level, Environment: tt.env}.Debug())
		})
	}
}
