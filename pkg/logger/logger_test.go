package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/logger"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestNew_JSONOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithFormat(logger.FormatJSON),
		logger.WithOutput(&buf),
		logger.WithAttr(slog.String("service", "billing")),
	)

	log.Info("invoice created", slog.String("number", "INV-202503-000001"))

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "invoice created", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "billing", rec["service"])
	assert.Equal(t, "INV-202503-000001", rec["number"])
}

func TestNew_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithFormat(logger.FormatJSON),
		logger.WithOutput(&buf),
		logger.WithLevel(slog.LevelWarn),
	)

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}

type requestIDKey struct{}

func TestNew_ContextValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithFormat(logger.FormatJSON),
		logger.WithOutput(&buf),
		logger.WithContextValue("request_id", requestIDKey{}),
	)

	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-42")
	log.InfoContext(ctx, "handled")

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "req-42", rec["request_id"])

	// No value in context, no attribute.
	buf.Reset()
	log.InfoContext(context.Background(), "handled")
	rec = decodeRecord(t, &buf)
	_, ok := rec["request_id"]
	assert.False(t, ok)
}

func TestNew_ContextValueSurvivesWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithFormat(logger.FormatJSON),
		logger.WithOutput(&buf),
		logger.WithContextValue("request_id", requestIDKey{}),
	)

	child := log.With(slog.String("component", "dunning"))
	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-7")
	child.InfoContext(ctx, "retry scheduled")

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "req-7", rec["request_id"])
	assert.Equal(t, "dunning", rec["component"])
}

func TestWithFormat_PanicsOnInvalid(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		logger.New(logger.WithFormat("xml"))
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithEnvironment("production", "billing"),
		logger.WithOutput(&buf),
	)

	log.Debug("dropped in production")
	assert.Zero(t, buf.Len())

	log.Info("kept")
	rec := decodeRecord(t, &buf)
	assert.Equal(t, "billing", rec["service"])
	assert.Equal(t, "production", rec["env"])
}
