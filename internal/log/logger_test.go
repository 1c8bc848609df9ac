package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowgate/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	for _, bad := range []string{"invalid", "trace", ""} {
		_, err := parseLevel(bad)
		assert.Error(t, err, "level %q", bad)
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closers, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Empty(t, closers)

	logger.Info("hidden")
	logger.Warn("arp resolution expired", "switch", "s1", "target", "10.2.1.50")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"arp resolution expired"`)
	assert.Contains(t, out, `"switch":"s1"`)
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(config.LogConfig{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("flow installed", "port", 2)
	assert.Contains(t, buf.String(), "port=2")
}

func TestNewWithFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgate.log")
	cfg := config.LogConfig{
		Level:  "debug",
		Format: "json",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{
			Enabled:  true,
			Path:     path,
			Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
		}},
	}
	var buf bytes.Buffer
	logger, closers, err := New(cfg, &buf)
	require.NoError(t, err)
	require.Len(t, closers, 1)

	logger.Debug("to both")
	closeAll(closers)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "invalid", Format: "json"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, _, err = New(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")

	_, _, err = New(config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestInitSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	require.NoError(t, Init(config.LogConfig{Level: "error", Format: "json"}))
	assert.Same(t, slog.Default(), Get())
	assert.False(t, Get().Enabled(context.Background(), slog.LevelInfo))
	Flush()
}
