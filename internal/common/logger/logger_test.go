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

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestZapLogger_FieldsAndChildren(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core))

	child := log.With(map[string]interface{}{"component": "template-runner"}).
		WithError(errors.New("boom"))
	child.Warn("stage failed", map[string]interface{}{"stage": "brief", "exitCode": 1})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "stage failed", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	ctx := entry.ContextMap()
	assert.Equal(t, "template-runner", ctx["component"])
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, "brief", ctx["stage"])
	assert.EqualValues(t, 1, ctx["exitCode"])
}

func TestZapLogger_DebugRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapAdapter(zap.New(core))

	log.Debug("hidden", map[string]interface{}{"pid": 42})
	log.Info("shown", nil)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}

func TestToFields_SortedKeys(t *testing.T) {
	fields := toFields(map[string]interface{}{"b": 2, "a": "x", "c": errors.New("e")})

	require.Len(t, fields, 3)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "b", fields[1].Key)
	assert.Equal(t, "c", fields[2].Key)
	assert.Nil(t, toFields(nil))
}

func TestWithNilErrorReturnsSameLogger(t *testing.T) {
	log := NewNoOpLogger()
	assert.Same(t, log, log.WithError(nil))
	assert.Same(t, log, log.WithFields(nil))
}
