package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "lib", cfg.LibDir)
	assert.Equal(t, "build", cfg.BuildDir)
	assert.False(t, cfg.Verify)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Empty(t, cfg.Project.Name)
	assert.Empty(t, cfg.File)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
lib_dir: vendor
verify: true
workers: 3
log:
  level: debug
project:
  name: demo
  version: 1.2.0
properties:
  target: release
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compilo.yml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "vendor", cfg.LibDir)
	assert.Equal(t, "build", cfg.BuildDir)
	assert.True(t, cfg.Verify)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ProjectConfig{Name: "demo", Version: "1.2.0"}, cfg.Project)
	assert.Equal(t, map[string]string{"target": "release"}, cfg.Properties)
	assert.Equal(t, filepath.Join(dir, "compilo.yml"), cfg.File)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compilo.yaml"), []byte("build_dir: out\n"), 0644))
	t.Setenv("COMPILO_BUILD_DIR", "target")
	t.Setenv("COMPILO_LOG_LEVEL", "info")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "target", cfg.BuildDir)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"absolute lib dir", "lib_dir: /opt/lib\n", "lib_dir must be relative"},
		{"zero workers", "workers: 0\n", "workers must be at least 1"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"malformed yaml", "lib_dir: [\n", "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "compilo.yml"), []byte(tt.content), 0644))

			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
