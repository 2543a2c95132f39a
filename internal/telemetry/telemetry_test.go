package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"omiebridge/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu      sync.Mutex
	level   slog.Level
	records []slog.Record
	attrs   []slog.Attr
}

func (c *captured) Enabled(_ context.Context, l slog.Level) bool { return l >= c.level }

func (c *captured) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}

func (c *captured) WithAttrs(attrs []slog.Attr) slog.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs = append(c.attrs, attrs...)
	return c
}

func (c *captured) WithGroup(string) slog.Handler { return c }

func TestNewLoggerFansOutByLevel(t *testing.T) {
	var out bytes.Buffer
	debug := &captured{level: slog.LevelDebug}
	logger := NewLogger(&out, slog.LevelInfo, debug).With("service", "omiebridge")

	logger.Debug("only the capture sees this")
	logger.Info("cycle done", "records", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &line))
	assert.Equal(t, "cycle done", line["msg"])
	assert.EqualValues(t, 3, line["records"])
	assert.Equal(t, "omiebridge", line["service"])

	require.Len(t, debug.records, 2)
	assert.Equal(t, "only the capture sees this", debug.records[0].Message)
	require.Len(t, debug.attrs, 1)
	assert.Equal(t, "service", debug.attrs[0].Key)
}

func TestSetupWithoutExporters(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{LogLevel: "warn", ServiceName: "omiebridge"}}
	tel, err := Setup(t.Context(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tel.Logger)
	assert.False(t, tel.Logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, tel.Logger.Enabled(t.Context(), slog.LevelWarn))
	assert.NoError(t, tel.Shutdown(t.Context()))
}
