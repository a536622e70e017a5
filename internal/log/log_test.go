package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/folio-reader/folio/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextHandler(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(log.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := log.ContextAttrs(context.Background(), slog.String("job", "search"))
	sibling := log.ContextAttrs(ctx, slog.Int("page", 3))
	_ = log.ContextAttrs(ctx, slog.Int("page", 7))

	logger.InfoContext(sibling, "visited")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "search", rec["job"])
	require.EqualValues(t, 3, rec["page"])
}

func TestNew(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
	}{
		{"stderr", log.OutputStderr},
		{"stdout", log.OutputStdout},
		{"discard", log.OutputDiscard},
		{"default", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			logger, closer, err := log.New(true, tc.given)
			require.NoError(t, err)
			require.NotNil(t, logger)
			require.NoError(t, closer.Close())
		})
	}

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "folio.log")
		logger, closer, err := log.New(false, path)
		require.NoError(t, err)
		logger.Debug("hidden")
		logger.Info("shown")
		require.NoError(t, closer.Close())

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(b), "shown")
		require.NotContains(t, string(b), "hidden")
	})

	t.Run("bad path", func(t *testing.T) {
		_, _, err := log.New(false, filepath.Join(t.TempDir(), "missing", "folio.log"))
		require.Error(t, err)
	})
}
