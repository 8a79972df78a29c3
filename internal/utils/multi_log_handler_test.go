package utils

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	level   slog.Level
	err     error
	handled int
}

func (h *recordingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *recordingHandler) Handle(context.Context, slog.Record) error {
	h.handled++
	return h.err
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiLogHandlerFansOutByLevel(t *testing.T) {
	console := &recordingHandler{level: slog.LevelInfo}
	file := &recordingHandler{level: slog.LevelDebug}
	h := NewMultiLogHandler(console, file)

	ctx := context.Background()
	assert.True(t, h.Enabled(ctx, slog.LevelDebug), "enabled when any handler is")

	rec := slog.NewRecord(time.Now(), slog.LevelDebug, "tracing detail", 0)
	require.NoError(t, h.Handle(ctx, rec))
	assert.Equal(t, 0, console.handled, "debug filtered from the console handler")
	assert.Equal(t, 1, file.handled)
}

func TestMultiLogHandlerJoinsFailures(t *testing.T) {
	bad := &recordingHandler{level: slog.LevelInfo, err: errors.New("disk full")}
	good := &recordingHandler{level: slog.LevelInfo}
	h := NewMultiLogHandler(bad, good)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	err := h.Handle(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, 1, good.handled, "one failing handler does not starve the rest")
}
