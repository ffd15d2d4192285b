package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// FileName is the base name of the optional project configuration file.
const FileName = "compilo"

// EnvPrefix prefixes environment overrides, e.g. COMPILO_LIB_DIR.
const EnvPrefix = "COMPILO"

// Config represents the compilo configuration
type Config struct {
	LibDir     string            `mapstructure:"lib_dir"`
	BuildDir   string            `mapstructure:"build_dir"`
	Verify     bool              `mapstructure:"verify"`
	Workers    int               `mapstructure:"workers"`
	Log        LogConfig         `mapstructure:"log"`
	Project    ProjectConfig     `mapstructure:"project"`
	Properties map[string]string `mapstructure:"properties"`

	// File is the configuration file that was read, empty when defaults were used.
	File string `mapstructure:"-"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ProjectConfig names the artifact the convention build packages.
type ProjectConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Load loads the configuration from compilo.yml or compilo.yaml in root.
func Load(root string) (*Config, error) {
	v := viper.New()

	v.SetDefault("lib_dir", "lib")
	v.SetDefault("build_dir", "build")
	v.SetDefault("verify", false)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("log.level", "warn")
	v.SetDefault("project.name", "")
	v.SetDefault("project.version", "")

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(root)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return lvl, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func validateConfig(cfg *Config) error {
	for key, dir := range map[string]string{"lib_dir": cfg.LibDir, "build_dir": cfg.BuildDir} {
		if dir == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
		if filepath.IsAbs(dir) {
			return fmt.Errorf("%s must be relative to the project root, got: %s", key, dir)
		}
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got: %d", cfg.Workers)
	}
	if _, err := cfg.LogLevel(); err != nil {
		return err
	}
	return nil
}
