package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitWritesComponentField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	logger := WithComponent("tracker")
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"tracker"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestCtxAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	ctx := ContextWithRequestID(context.Background(), "req-1")
	require.Equal(t, "req-1", RequestIDFromContext(ctx))

	Ctx(ctx).Info().Msg("handled")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(NewTestLogger(&buf))

	logger.WithGroup("svc").Warn("restarting", slog.String("name", "catalog"), slog.Int("attempt", 2))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"svc.name":"catalog"`)
	assert.Contains(t, out, `"svc.attempt":2`)
	assert.Contains(t, out, `"message":"restarting"`)
}

func TestSlogAdapterAttrsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(NewTestLogger(&buf)).With(slog.String("tree", "root"))

	logger.Error("service failed", slog.Any("error", errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, `"tree":"root"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"level":"error"`)
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(NewTestLogger(&buf).Level(zerolog.WarnLevel))

	logger.Info("dropped")
	assert.Empty(t, buf.String())
}
