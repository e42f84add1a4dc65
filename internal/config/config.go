package config

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/viper"
)

// Configuration keys. Each can be set through the environment with the IVT_
// prefix, e.g. IVT_LOG_LEVEL.
const (
	KeyLogLevel    = "log_level"
	KeyLogFormat   = "log_format"
	KeyMetricsFile = "metrics_file"
	KeyWorkers     = "workers"
	KeyCDSURL      = "cds_url"
	KeyCDSKey      = "cds_key"
	KeyCDSRC       = "cds_rc"
)

// Config holds the settings shared by the command line tools.
type Config struct {
	LogLevel  slog.Level
	LogFormat string
	// MetricsFile is where metrics are written at exit in the Prometheus
	// text format. Empty disables it.
	MetricsFile string
	Workers     int

	// CDS credentials. When URL or Key is empty they are read from the
	// file at CDSRC, or from ~/.cdsapirc when CDSRC is empty too.
	CDSURL string
	CDSKey string
	CDSRC  string
}

// New returns a viper instance with defaults and environment bindings.
// Command line flags are bound to it by the caller.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ivt")
	v.AutomaticEnv()
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyWorkers, runtime.NumCPU())
	// The names used by the official CDS API client.
	_ = v.BindEnv(KeyCDSURL, "CDSAPI_URL")
	_ = v.BindEnv(KeyCDSKey, "CDSAPI_KEY")
	_ = v.BindEnv(KeyCDSRC, "CDSAPI_RC")
	return v
}

// Load reads the configuration from v, applying defaults where unset.
func Load(v *viper.Viper) (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}
	format := v.GetString(KeyLogFormat)
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("invalid %s %q: want text or json", KeyLogFormat, format)
	}
	workers := v.GetInt(KeyWorkers)
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Config{
		LogLevel:    level,
		LogFormat:   format,
		MetricsFile: v.GetString(KeyMetricsFile),
		Workers:     workers,
		CDSURL:      v.GetString(KeyCDSURL),
		CDSKey:      v.GetString(KeyCDSKey),
		CDSRC:       v.GetString(KeyCDSRC),
	}, nil
}
