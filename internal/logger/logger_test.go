package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "debug", want: zerolog.DebugLevel},
		{in: "WARN", want: zerolog.WarnLevel},
		{in: "warning", want: zerolog.WarnLevel},
		{in: "trace", want: zerolog.TraceLevel},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Str("component", "test").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "test", entry["component"])
	assert.Contains(t, entry, "time")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Format: "console"}, &buf)
	require.NoError(t, err)

	l.Info().Msg("hello console")
	assert.Contains(t, buf.String(), "hello console")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInitAndWithComponent(t *testing.T) {
	prev := GetLogger()
	t.Cleanup(func() { globalLogger = prev })

	require.NoError(t, Init(Config{Level: "debug", Output: "stderr"}))
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetLevel(zerolog.ErrorLevel)
	assert.Equal(t, zerolog.ErrorLevel, GetLogger().GetLevel())

	c := WithComponent("coordinator")
	assert.Equal(t, zerolog.ErrorLevel, c.GetLevel())

	assert.Error(t, Init(Config{Level: "nope"}))
}

func TestDefaultConfigBuilds(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	assert.Equal(t, Config{Level: "info", Format: "json", Output: "stderr"}, cfg, "environment is applied by the config package")

	var buf bytes.Buffer
	l, err := New(cfg, &buf)
	require.NoError(t, err)
	l.Debug().Msg("hidden")
	l.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
