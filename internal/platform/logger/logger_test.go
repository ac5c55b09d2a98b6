package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentvault/internal/platform/config"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "info", Format: "json"}, &buf)

	log.Info("consent recorded", "request_id", "req-1")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "consent recorded", m["msg"])
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, log.Handler(), slog.Default().Handler())
}

func TestNew_TextFormatAddsSource(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "debug", Format: "text"}, &buf)

	log.Debug("source test")
	assert.Contains(t, buf.String(), "source=")
}

func TestNew_LevelFilters(t *testing.T) {
	tests := []struct {
		level   string
		logged  slog.Level
		visible bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"WARN", slog.LevelInfo, false},
		{"error", slog.LevelWarn, false},
		{"bogus", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(config.LogConfig{Level: tt.level, Format: "json"}, &buf)
			log.Log(t.Context(), tt.logged, "sample")
			assert.Equal(t, tt.visible, strings.Contains(buf.String(), "sample"))
		})
	}
}

func TestPseudonym(t *testing.T) {
	assert.Equal(t, "short", Pseudonym("short"))
	assert.Equal(t, "0123456789ab…", Pseudonym("0123456789abcdef0123"))
}
