package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoDataPipe/internal/ports"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"Error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
	assert.Equal(t, "WARN", LevelWarn.String())
}

func TestZerologLogger_LevelMapping(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewZerologLoggerTo(&bytes.Buffer{}, LevelDebug).Level())
	assert.Equal(t, zerolog.InfoLevel, NewZerologLoggerTo(&bytes.Buffer{}, ParseLevel("invalid")).Level())
}

func TestZerologLogger_WritesFieldsAndCorrelation(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLoggerTo(&buf, LevelInfo)

	ctx := ports.WithCorrelationID(context.Background(), "cycle-1")
	l.Debug(ctx, "dropped") // below threshold
	l.Error(ctx, errors.New("boom"), "fetch failed", map[string]interface{}{"symbol": "BTC/USDT"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "fetch failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "BTC/USDT", entry["symbol"])
	assert.Equal(t, "cycle-1", entry["cycle_id"])
}
