package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixflow.log")
	logger, closer, err := Setup(LogConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	logger.Debug().Str("passId", "p-1").Msg("sync pass finished")
	syncLogger := WithComponent("sync")
	syncLogger.Info().Msg("tagged")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"passId":"p-1"`)
	assert.Contains(t, string(data), `"component":"sync"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetupRejectsBadLevel(t *testing.T) {
	_, _, err := Setup(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "stderr", cfg.Output)
}
