package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", false)

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("catalog malformed", "session_id", "relation-1")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "catalog malformed", entry["msg"])
	assert.Equal(t, "relation-1", entry["session_id"])
}

func TestNewWithWriter_Dev(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", true)

	log.Debug("scan complete", "events", 2)
	assert.Contains(t, buf.String(), "scan complete")
	assert.Contains(t, buf.String(), "events")
	assert.False(t, json.Valid(buf.Bytes()))
}
