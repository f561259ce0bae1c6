package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestLogger_KeyValueFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewLogger(zap.New(core), "test")

	log.Info("transfer step finished", "step", "approve", "attempts", 3)

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "transfer step finished", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "approve", fields["step"])
	assert.EqualValues(t, 3, fields["attempts"])
}

func TestLogger_ForRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewLogger(zap.New(core), "test")

	log.ForRequest("req-1", "POST", "/api/v1/transfer/burn").Infow("HTTP Request", "status_code", 200)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, "/api/v1/transfer/burn", fields["path"])
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	assert.NotNil(t, log.Zap())
	log.Info("dropped")
}
