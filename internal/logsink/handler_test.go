package logsink

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestHandler_Handle_WritesToSinkAndDelegates(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)
	defer sink.Close()

	wrapped := &recordingHandler{}
	handler := Wrap(sink, wrapped, "scheduler")
	logger := slog.New(handler)

	logger.Info("source scan complete")

	require.Len(t, wrapped.records, 1)
	assert.Equal(t, "source scan complete", wrapped.records[0].Message)

	data, err := os.ReadFile(filepath.Join(dir, "logs-all-"+sink.logID+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "source scan complete")
	assert.Contains(t, string(data), "scheduler")
}
