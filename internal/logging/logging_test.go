package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prudhvinik1/locsync/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndFormat(t *testing.T) {
	logger, err := New(&config.Config{LogLevel: "debug", LogFormat: "json"})

	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNew_DefaultsToInfo(t *testing.T) {
	logger, err := New(&config.Config{})

	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(&config.Config{LogLevel: "loud"})

	assert.Error(t, err)
}

func TestNew_WritesLogFile(t *testing.T) {
	// ARRANGE
	path := filepath.Join(t.TempDir(), "sync.log")
	logger, err := New(&config.Config{LogFormat: "json", LogFile: path})
	require.NoError(t, err)

	// ACT
	logger.WithField("location_id", "loc-1").Info("Location synced")

	// ASSERT
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "Location synced", entry["msg"])
	assert.Equal(t, "loc-1", entry["location_id"])
}

func TestNewWithOutput_WritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOutput(&config.Config{}, &buf)
	require.NoError(t, err)

	logger.Warn("Cache get failed")

	assert.Contains(t, buf.String(), "Cache get failed")
}
