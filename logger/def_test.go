package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("Test Invalid Level", func(t *testing.T) {
		err := Init(Options{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("Test File Output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scanner.log")
		require.NoError(t, Init(Options{Level: "info", File: path, MaxSizeMB: 1}))
		Log().Info("hello from test")
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello from test")
		assert.Contains(t, string(data), "timestamp")
	})

	t.Run("Test Accessors Never Nil", func(t *testing.T) {
		require.NoError(t, InitDevelopment())
		assert.NotNil(t, Log())
		assert.NotNil(t, S())
		assert.NotNil(t, Named("gate"))
	})
}
