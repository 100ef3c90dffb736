package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFileOnce lets each test load its own EYED_CONFIG_PATH, since loadFile
// is normally a process-wide singleton.
func resetFileOnce(t *testing.T) {
	t.Helper()
	fileOnce = sync.Once{}
	fileCfg = fileConfig{}
	t.Cleanup(func() {
		fileOnce = sync.Once{}
		fileCfg = fileConfig{}
	})
}

func writeConfigYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEngine_UsesYAMLFileDefaults(t *testing.T) {
	resetFileOnce(t)
	path := writeConfigYAML(t, "engine:\n  runtime: gpu\n  match_threshold: 0.21\n  rotation_shift: 7\n")
	t.Setenv("EYED_CONFIG_PATH", path)

	cfg := LoadEngine()
	assert.Equal(t, "gpu", cfg.Runtime)
	assert.InDelta(t, 0.21, cfg.MatchThreshold, 1e-9)
	assert.Equal(t, 7, cfg.RotationShift)
	// Fields absent from the file fall back to hardcoded defaults.
	assert.Equal(t, 0.24, cfg.DedupThreshold)
}

func TestLoadEngine_EnvVarOverridesYAMLFile(t *testing.T) {
	resetFileOnce(t)
	path := writeConfigYAML(t, "engine:\n  runtime: gpu\n")
	t.Setenv("EYED_CONFIG_PATH", path)
	t.Setenv("EYED_RUNTIME", "cpu")

	cfg := LoadEngine()
	assert.Equal(t, "cpu", cfg.Runtime)
}

func TestLoadEngine_MissingFileFallsBackToDefaults(t *testing.T) {
	resetFileOnce(t)
	t.Setenv("EYED_CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	cfg := LoadEngine()
	assert.Equal(t, "cpu", cfg.Runtime)
	assert.InDelta(t, 0.32, cfg.MatchThreshold, 1e-9)
}

func TestLoadGateway_AllowedOriginsFromYAMLFile(t *testing.T) {
	resetFileOnce(t)
	path := writeConfigYAML(t, "gateway:\n  allowed_origins:\n    - https://a.example\n    - https://b.example\n")
	t.Setenv("EYED_CONFIG_PATH", path)

	cfg := LoadGateway()
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadCapture_YAMLFileAndEnvTogether(t *testing.T) {
	resetFileOnce(t)
	path := writeConfigYAML(t, "capture:\n  device_id: cam-from-file\n  quality_threshold: 0.5\n")
	t.Setenv("EYED_CONFIG_PATH", path)
	t.Setenv("EYED_QUALITY_THRESHOLD", "0.9")

	cfg := LoadCapture()
	assert.Equal(t, "cam-from-file", cfg.DeviceID)
	assert.InDelta(t, 0.9, cfg.QualityThreshold, 1e-9)
}
