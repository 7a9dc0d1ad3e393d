package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "JSON format to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "Console format to stderr",
			config: Config{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:   "Invalid log level defaults to info",
			config: Config{Level: "invalid", Format: "json", Output: "stdout"},
		},
		{
			name:    "Unwritable file path",
			config:  Config{Level: "info", Format: "json", Output: "/nonexistent-dir/out.log"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.WithSessionID("s-1").WithVideoID("v-1").WithComponent("tracker").Info("hello")
	logger.WithField("key1", "value1").WithError(errors.New("boom")).Warn("fields")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "s-1", entries[0]["session_id"])
	assert.Equal(t, "v-1", entries[0]["video_id"])
	assert.Equal(t, "tracker", entries[0]["component"])
	assert.Equal(t, "value1", entries[1]["key1"])
	assert.Equal(t, "boom", entries[1]["error"])
	assert.Equal(t, "warn", entries[1]["level"])
}

func TestLogGatewayCall(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.LogGatewayCall("get_video", 503, 20*time.Millisecond, errors.New("unavailable"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "get_video", entries[0]["operation"])
	assert.Equal(t, "unavailable", entries[0]["error"])
}

func TestLogDomainEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.LogGateTransition("s-1", "WATCHING", "MILESTONE_PENDING", "m-1")
	logger.LogAnswer("s-1", "q-1", true, 1)
	logger.LogProgressSync("s-1", 12.5, 10, nil)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "MILESTONE_PENDING", entries[0]["to"])
	assert.Equal(t, true, entries[1]["is_correct"])
	assert.Equal(t, 12.5, entries[2]["position"])
}

func TestNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	Nop().Error("discarded")
}

func BenchmarkLogWithFields(b *testing.B) {
	logger := Nop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithField("key1", "value1").WithField("key2", 123).Info("benchmark message")
	}
}
