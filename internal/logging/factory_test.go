package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_JSONDefault(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("", "info", &buf)
	require.NoError(t, err)

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "visible", "certificate_id", "CERT-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), "exactly one JSON line expected: %s", buf.String())
	assert.Equal(t, "visible", line["msg"])
	assert.Equal(t, "CERT-1", line["certificate_id"])
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(FormatText, "debug", &buf)
	require.NoError(t, err)

	l.Debug(context.Background(), "dbg")
	assert.Contains(t, buf.String(), "level=DEBUG")
}

func TestNew_Zap(t *testing.T) {
	l, err := New(FormatZap, "warn", &bytes.Buffer{})
	require.NoError(t, err)
	_, ok := l.(*ZapLogger)
	assert.True(t, ok)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("xml", "info", &bytes.Buffer{})
	require.Error(t, err)
}

func TestZapLogger_WithAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core)).With("module", "verification")

	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	l.Warn(ctx, "w", "ip", "10.0.0.1")
	l.Error(ctx, "e")

	require.Equal(t, 4, logs.Len())
	entry := logs.All()[2]
	assert.Equal(t, "w", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "verification", entry.ContextMap()["module"])
	assert.Equal(t, "10.0.0.1", entry.ContextMap()["ip"])
}

func TestNop(t *testing.T) {
	l := Nop().With("a", 1)
	l.Info(context.Background(), "discarded")
}
