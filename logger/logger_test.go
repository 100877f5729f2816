package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLoggerFrom(zap.New(core))

	log.Warn("confirmation header malformed", map[string]any{
		"attempt": "abc",
		"error":   errors.New("bad base64"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "abc", fields["attempt"])
	assert.Equal(t, "bad base64", fields["error"])
}

func TestWithMergesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := With(NewZapLoggerFrom(zap.New(core)), map[string]any{"attempt": "a1", "strategy": "manual"})

	log.Info("paid", map[string]any{"strategy": "delegated"})

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "a1", fields["attempt"])
	assert.Equal(t, "delegated", fields["strategy"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))

	_, err := NewZapLogger("warn")
	assert.NoError(t, err)
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopLogger{}, OrNoop(nil))
	OrNoop(nil).Error("ignored", nil)
}
