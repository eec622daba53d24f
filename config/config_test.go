package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
RPCPort: 6000
HTTPPort: 6001
graceDelay: 250ms
camera:
  source: /data/walkthrough.mp4
  fps: 10
  headToCamera: [0.05, -0.02, 0.08]
inference:
  endpoint: http://infer:8081/api/infer
  workers: 0
  confidence: 0.4
  names: [cup, bottle]
info:
  endpoint: http://info:9000/describe
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("Test Defaults Without File", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, warnings, err := Load("missing.yaml")
		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("Test YAML", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		cfg, warnings, err := Load(writeFile(t, dir, "config.yaml", sample))
		require.NoError(t, err)
		assert.Equal(t, 6000, cfg.RPCPort)
		assert.Equal(t, 250*time.Millisecond, cfg.GraceDelay)
		assert.Equal(t, "/data/walkthrough.mp4", cfg.Camera.Source)
		assert.Equal(t, [3]float32{0.05, -0.02, 0.08}, cfg.Camera.HeadToCamera)
		assert.Equal(t, []string{"cup", "bottle"}, cfg.Inference.Names)
		assert.Equal(t, "http://info:9000/describe", cfg.Info.Endpoint)
		// 未设置的字段保留默认值
		assert.Equal(t, 9100, cfg.MetricsPort)
		assert.Equal(t, 1, cfg.Inference.Workers)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "inference.workers")
	})

	t.Run("Test Env Overrides", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		writeFile(t, dir, ".env", "SCANNER_HTTP_PORT=7001\nSCANNER_CAMERA_SOURCE=rtsp://cam/stream\n")
		t.Cleanup(func() { _ = os.Unsetenv("SCANNER_CAMERA_SOURCE") })
		t.Setenv("SCANNER_HTTP_PORT", "7002")
		t.Setenv("SCANNER_GRACE_DELAY", "1s")
		t.Setenv("SCANNER_AUTO_SCAN", "true")

		cfg, _, err := Load(writeFile(t, dir, "config.yaml", sample))
		require.NoError(t, err)
		assert.Equal(t, 7002, cfg.HTTPPort)
		assert.Equal(t, "rtsp://cam/stream", cfg.Camera.Source)
		assert.Equal(t, time.Second, cfg.GraceDelay)
		assert.True(t, cfg.AutoScan)
	})

	t.Run("Test Bad Env", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("SCANNER_RPC_PORT", "many")
		_, _, err := Load("")
		assert.ErrorContains(t, err, "SCANNER_RPC_PORT")
	})

	t.Run("Test Bad YAML", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		_, _, err := Load(writeFile(t, dir, "config.yaml", "RPCPort: [1"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.RPCPort = 0
	cfg.Inference.Endpoint = ""
	cfg.Inference.Confidence = 1.5
	cfg.Registry.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPCPort")
	assert.Contains(t, err.Error(), "inference.endpoint")
	assert.Contains(t, err.Error(), "confidence")
	assert.Contains(t, err.Error(), "registry.host")
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.Camera.FPS = -1
	cfg.GraceDelay = -time.Second
	cfg.Inference.QueueSize = 0
	warnings := cfg.Normalize()
	assert.Len(t, warnings, 3)
	assert.Equal(t, 15, cfg.Camera.FPS)
	assert.Equal(t, time.Duration(0), cfg.GraceDelay)
	assert.Equal(t, 1, cfg.Inference.QueueSize)
}
