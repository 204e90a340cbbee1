package logx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCapturesEntries(t *testing.T) {
	logger := NewLogger("test-component")

	start := time.Now().UTC().Add(-time.Second)
	logger.Info("hello %s", "world")
	logger.Warn("watch out")

	entries := GetRecentLogEntries("test-component", start)
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "hello world", entries[0].Message)
	assert.Equal(t, "WARN", entries[1].Level)
}

func TestDebugSuppressedByDefault(t *testing.T) {
	SetDebug(false)
	logger := NewLogger("debug-component")

	start := time.Now().UTC().Add(-time.Second)
	logger.Debug("should not appear")

	entries := GetRecentLogEntries("debug-component", start)
	assert.Empty(t, entries)

	SetDebug(true)
	defer SetDebug(false)
	logger.Debug("now visible")

	entries = GetRecentLogEntries("debug-component", start)
	require.Len(t, entries, 1)
	assert.Equal(t, "DEBUG", entries[0].Level)
}

func TestComponentFilter(t *testing.T) {
	a := NewLogger("comp-a")
	b := NewLogger("comp-b")

	start := time.Now().UTC().Add(-time.Second)
	a.Info("from a")
	b.Info("from b")

	entries := GetRecentLogEntries("comp-a", start)
	require.Len(t, entries, 1)
	assert.Equal(t, "from a", entries[0].Message)
}
