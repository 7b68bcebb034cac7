package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
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

func TestInit_FileOutput(t *testing.T) {
	prevBase, prevLog := base, Log
	t.Cleanup(func() { base, Log = prevBase, prevLog })

	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, Init(&Config{Level: "info", Format: "json", Output: "file", FilePath: path}))

	Debug("hidden")
	Named("signaling").Info("Call accepted", zap.String("room_id", "r1"))
	FromContext(WithRequestID(context.Background(), "req-1")).Warn("Control request")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"logger":"signaling"`)
	assert.Contains(t, out, `"room_id":"r1"`)
	assert.Contains(t, out, `"request_id":"req-1"`)
}
