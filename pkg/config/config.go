// Package config loads the pipeline configuration from defaults, an optional
// config file and CRITTERS_PACK_* environment variables
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

const (
	// ConfigName is the config file base name searched for in the project root
	ConfigName = "critters-pack"
	// EnvPrefix prefixes environment variables that override config keys
	EnvPrefix = "CRITTERS_PACK"
)

// ConfigError reports a configuration that could not be loaded or is invalid
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Manager handles configuration loading
type Manager struct {
	v          *viper.Viper
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// ConfigFileUsed returns the config file read by the last Load, if any
func (m *Manager) ConfigFileUsed() string {
	return m.configPath
}

// Load resolves the configuration for the project at root. path names an
// explicit config file; when empty, critters-pack.{yaml,yml,json} in root is
// read if present. Environment variables with EnvPrefix override both.
func (m *Manager) Load(root, path string) (*types.PackConfig, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(utils.ResolvePath(absRoot, path))
	} else {
		v.AddConfigPath(absRoot)
		v.SetConfigName(ConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &ConfigError{Path: path, Err: err}
		}
	}

	var cfg types.PackConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Path: v.ConfigFileUsed(), Err: err}
	}

	if cfg.ProjectRoot == "" || cfg.ProjectRoot == "." {
		cfg.ProjectRoot = absRoot
	} else {
		cfg.ProjectRoot = utils.ResolvePath(absRoot, cfg.ProjectRoot)
	}
	if cfg.Cleanup, err = types.ParseCleanupPolicy(string(cfg.Cleanup)); err != nil {
		return nil, &ConfigError{Path: v.ConfigFileUsed(), Err: err}
	}

	m.v = v
	m.configPath = v.ConfigFileUsed()
	return &cfg, nil
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *types.PackConfig {
	return &types.PackConfig{
		ProjectRoot: ".",
		Paths: types.PathsConfig{
			Crate:     ".",
			Staging:   ".critters-pack/staging",
			Dist:      "dist",
			Artifacts: "artifacts",
			Logs:      ".critters-pack/logs",
			State:     ".critters-pack/state",
		},
		Toolchain: types.ToolchainConfig{
			Napi:         "napi",
			Cargo:        "cargo",
			ExportDirEnv: "TS_RS_EXPORT_DIR",
			HarnessArgs:  []string{"test", "export_bindings"},
			CargoArgs:    []string{},
		},
		Declarations: types.DeclarationConfig{
			File:        "index.d.ts",
			BindingsDir: "bindings",
			FullType:    "CrittersOptions",
			Alias:       "FullCrittersOptions",
			PartialType: "CrittersOptions",
			ImportPath:  "./bindings/CrittersOptions",
			ParamName:   "options",
		},
		Bundle: types.BundleConfig{
			BinaryName: "critters",
			OutFile:    "index.mjs",
			Target:     "node18",
		},
		Cleanup: types.CleanupOnSuccess,
		Watch: types.WatchConfig{
			Paths:      []string{"src", "Cargo.toml", "build.rs", "index.js"},
			DebounceMs: 500,
		},
		Notifications: types.NotificationConfig{Enabled: true},
		Logging:       types.LoggingConfig{Level: types.LogLevelInfo},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("root", d.ProjectRoot)

	v.SetDefault("paths.crate", d.Paths.Crate)
	v.SetDefault("paths.entry", d.Paths.Entry)
	v.SetDefault("paths.staging", d.Paths.Staging)
	v.SetDefault("paths.dist", d.Paths.Dist)
	v.SetDefault("paths.artifacts", d.Paths.Artifacts)
	v.SetDefault("paths.logs", d.Paths.Logs)
	v.SetDefault("paths.state", d.Paths.State)

	v.SetDefault("toolchain.napi", d.Toolchain.Napi)
	v.SetDefault("toolchain.cargo", d.Toolchain.Cargo)
	v.SetDefault("toolchain.export_dir_env", d.Toolchain.ExportDirEnv)
	v.SetDefault("toolchain.harness_args", d.Toolchain.HarnessArgs)
	v.SetDefault("toolchain.cargo_args", d.Toolchain.CargoArgs)

	v.SetDefault("declarations.file", d.Declarations.File)
	v.SetDefault("declarations.bindings_dir", d.Declarations.BindingsDir)
	v.SetDefault("declarations.full_type", d.Declarations.FullType)
	v.SetDefault("declarations.alias", d.Declarations.Alias)
	v.SetDefault("declarations.partial_type", d.Declarations.PartialType)
	v.SetDefault("declarations.import_path", d.Declarations.ImportPath)
	v.SetDefault("declarations.param_name", d.Declarations.ParamName)
	v.SetDefault("declarations.strict", d.Declarations.Strict)

	v.SetDefault("bundle.binary_name", d.Bundle.BinaryName)
	v.SetDefault("bundle.out_file", d.Bundle.OutFile)
	v.SetDefault("bundle.target", d.Bundle.Target)
	v.SetDefault("bundle.minify", d.Bundle.Minify)
	v.SetDefault("bundle.sourcemap", d.Bundle.Sourcemap)

	v.SetDefault("cleanup", string(d.Cleanup))
	v.SetDefault("watch.paths", d.Watch.Paths)
	v.SetDefault("watch.debounce_ms", d.Watch.DebounceMs)
	v.SetDefault("notifications.enabled", d.Notifications.Enabled)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", string(d.Logging.Level))
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored
// unless it was named explicitly.
func LoadDotEnv(root, file string) error {
	explicit := file != ""
	if !explicit {
		file = ".env"
	}
	path := utils.ResolvePath(root, file)

	if !utils.FileExists(path) {
		if explicit {
			return &ConfigError{Path: path, Err: os.ErrNotExist}
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

// Marshal renders cfg as YAML or JSON
func Marshal(cfg *types.PackConfig, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "", "yaml", "yml":
		return yaml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Write saves cfg to path; the format follows the file extension
func Write(cfg *types.PackConfig, path string) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	data, err := Marshal(cfg, format)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0644)
}
