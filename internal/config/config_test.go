package config

import (
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"IVT_LOG_LEVEL", "IVT_LOG_FORMAT", "IVT_METRICS_FILE", "IVT_WORKERS", "CDSAPI_URL", "CDSAPI_KEY", "CDSAPI_RC"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsFile)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Empty(t, cfg.CDSURL)
	assert.Empty(t, cfg.CDSKey)
	assert.Empty(t, cfg.CDSRC)
}

func TestLoad_NoHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("CDSAPI_KEY", "")
	t.Setenv("CDSAPI_RC", "")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Empty(t, cfg.CDSRC)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("IVT_LOG_LEVEL", "debug")
	t.Setenv("IVT_LOG_FORMAT", "json")
	t.Setenv("IVT_METRICS_FILE", "/var/lib/node_exporter/ivt.prom")
	t.Setenv("IVT_WORKERS", "3")
	t.Setenv("CDSAPI_URL", "https://cds.example.com/api")
	t.Setenv("CDSAPI_KEY", "secret")
	t.Setenv("CDSAPI_RC", "/etc/cdsapirc")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/var/lib/node_exporter/ivt.prom", cfg.MetricsFile)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "https://cds.example.com/api", cfg.CDSURL)
	assert.Equal(t, "secret", cfg.CDSKey)
	assert.Equal(t, "/etc/cdsapirc", cfg.CDSRC)
}

func TestLoad_NonPositiveWorkers(t *testing.T) {
	v := New()
	v.Set(KeyWorkers, -1)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]struct {
		key   string
		value string
	}{
		"log level":  {KeyLogLevel, "verbose"},
		"log format": {KeyLogFormat, "xml"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			assert.ErrorContains(t, err, tt.key)
		})
	}
}
