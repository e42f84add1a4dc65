package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/ivt/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: slog.LevelInfo, LogFormat: "json"})
	logger.Debug("hidden")
	logger.Info("Saved", "file", "out/2024_part1_IVT.nc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Saved", rec["msg"])
	assert.Equal(t, "out/2024_part1_IVT.nc", rec["file"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: slog.LevelDebug, LogFormat: "text"})
	logger.Debug("Progress", "processed", "50.00%")
	assert.Contains(t, buf.String(), "processed=50.00%")
}

func TestNewMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FilesDiscovered.Add(4)
	m.FilesFailed.Inc()
	m.IntegrationDuration.Observe(1.5)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FilesDiscovered))
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FilesSucceeded.Add(3)

	path := filepath.Join(t.TempDir(), "ivt.prom")
	require.NoError(t, WriteTextfile(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ivt_files_succeeded_total 3")

	assert.NoError(t, WriteTextfile("", reg))
}
