package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "citidesk.log")
	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: "file", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("ticket created", "ticket_id", 7)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "ticket created", line["msg"])
	assert.Equal(t, float64(7), line["ticket_id"])
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)
}
