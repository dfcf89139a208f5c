package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func resetGlobal(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = zap.NewNop()
		mu.Unlock()
	})
}

func TestInitConfiguresGlobalLogger(t *testing.T) {
	resetGlobal(t)

	require.NoError(t, Init("debug"))
	require.True(t, Logger().Core().Enabled(zap.DebugLevel))
}

func TestInitFallsBackToInfo(t *testing.T) {
	resetGlobal(t)

	require.NoError(t, Init("chatty"))
	require.False(t, Logger().Core().Enabled(zap.DebugLevel))
	require.True(t, Logger().Core().Enabled(zap.InfoLevel))
}

func TestInitWithFileSinkWritesRotatedFile(t *testing.T) {
	resetGlobal(t)

	path := filepath.Join(t.TempDir(), "campusgate.log")
	require.NoError(t, InitWithOptions(Options{Level: "info", File: FileOptions{Path: path}}))

	Info("written to file", zap.String("component", "test"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	resetGlobal(t)
	core, recorded := observer.New(zap.DebugLevel)
	globalLogger = zap.New(core)

	Info("info message", zap.String("k", "v"))
	Error("error message")
	Warn("warn message")
	Debug("debug message")

	entries := recorded.All()
	require.Len(t, entries, 4)
	want := []string{"info message", "error message", "warn message", "debug message"}
	for i, entry := range entries {
		require.Equal(t, want[i], entry.Message)
	}
	require.Equal(t, "v", entries[0].ContextMap()["k"])
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	resetGlobal(t)
	core, recorded := observer.New(zap.InfoLevel)
	globalLogger = zap.New(core)

	WithModule("gate").Info("module test")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "gate", entries[0].ContextMap()["module"])
}
