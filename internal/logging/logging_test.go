package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/config"
)

func TestNew_WritesToGateFile(t *testing.T) {
	stateDir := t.TempDir()
	cfg := config.LoggingConfig{Level: "info", Format: "json"}

	logger, err := New(cfg, stateDir, "token-budget")
	require.NoError(t, err)

	logger.Info("checked budget", zap.String("session", "s1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(stateDir, "logs", "token-budget.log"))
	require.NoError(t, err)

	line := string(data)
	assert.Contains(t, line, "checked budget")
	assert.Contains(t, line, `"gate":"token-budget"`)
	assert.Contains(t, line, `"session":"s1"`)
}

func TestNew_LevelFiltering(t *testing.T) {
	stateDir := t.TempDir()
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, stateDir, "g")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(stateDir, "logs", "g.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"}, t.TempDir(), "g")
	assert.Error(t, err)
}

func TestNewOrNop_FallsBackQuietly(t *testing.T) {
	// Unwritable state dir: NewOrNop must still hand back a logger.
	logger := NewOrNop(config.LoggingConfig{Level: "loud"}, t.TempDir(), "g")
	require.NotNil(t, logger)
	logger.Info("goes nowhere")
}

func TestNew_AppendsAcrossInvocations(t *testing.T) {
	stateDir := t.TempDir()
	cfg := config.LoggingConfig{Level: "info", Format: "json"}

	for i := 0; i < 2; i++ {
		logger, err := New(cfg, stateDir, "g")
		require.NoError(t, err)
		logger.Info("invocation")
		require.NoError(t, logger.Sync())
	}

	data, err := os.ReadFile(filepath.Join(stateDir, "logs", "g.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "invocation"))
}
