package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ragchat/internal/config"
)

func TestModuleField(t *testing.T) {
	var buf bytes.Buffer
	l := Module(zap.New(zapcore.NewCore(jsonEncoder(), zapcore.AddSync(&buf), zapcore.DebugLevel)), "engine")
	l.Info("answered", zap.Int("sources", 2))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "answered", entry["message"])
	assert.Equal(t, "engine", entry["module"])
	assert.EqualValues(t, 2, entry["sources"])
	assert.Contains(t, entry, "timestamp")
}

func TestModuleNil(t *testing.T) {
	assert.NotPanics(t, func() { Module(nil, "x").Info("dropped") })
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.log")
	l, err := New(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1}, false)
	require.NoError(t, err)
	l.Debug("filtered")
	l.Info("kept")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "filtered")
}

func TestNewRejectsLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
