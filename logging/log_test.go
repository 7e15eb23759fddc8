package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	logger := zap.NewNop()
	ctx := NewContext(context.Background(), logger)
	require.Same(t, logger, FromContext(ctx))
	require.NotNil(t, FromContext(context.Background()))
}

func TestNewPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.log")
	logger := New(zap.InfoLevel, File{Path: path}, true)
	logger.Debug("persisted at debug")
	// The file sink is unbuffered; syncing stdout fails when it is a pipe.
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "persisted at debug")
}
