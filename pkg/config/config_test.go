package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()

	m := config.NewManager()
	cfg, err := m.Load(root, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ProjectRoot != root {
		t.Errorf("ProjectRoot = %s, want %s", cfg.ProjectRoot, root)
	}
	if cfg.Cleanup != types.CleanupOnSuccess {
		t.Errorf("Cleanup = %s", cfg.Cleanup)
	}
	if cfg.Toolchain.Cargo != "cargo" || cfg.Toolchain.Napi != "napi" {
		t.Errorf("toolchain = %+v", cfg.Toolchain)
	}
	if strings.Join(cfg.Toolchain.HarnessArgs, " ") != "test export_bindings" {
		t.Errorf("HarnessArgs = %v", cfg.Toolchain.HarnessArgs)
	}
	if cfg.Declarations.Alias != "FullCrittersOptions" || cfg.Declarations.ImportPath != "./bindings/CrittersOptions" {
		t.Errorf("declarations = %+v", cfg.Declarations)
	}
	if m.ConfigFileUsed() != "" {
		t.Errorf("no config file expected, got %s", m.ConfigFileUsed())
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "critters-pack.yaml"), `
paths:
  crate: crates/critters-node
  dist: out
cleanup: always
bundle:
  minify: true
  target: node20
declarations:
  strict: true
`)

	m := config.NewManager()
	cfg, err := m.Load(root, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Paths.Crate != "crates/critters-node" || cfg.Paths.Dist != "out" {
		t.Errorf("paths = %+v", cfg.Paths)
	}
	if cfg.Paths.Staging != ".critters-pack/staging" {
		t.Errorf("unset key lost its default: %s", cfg.Paths.Staging)
	}
	if cfg.Cleanup != types.CleanupAlways {
		t.Errorf("Cleanup = %s", cfg.Cleanup)
	}
	if !cfg.Bundle.Minify || cfg.Bundle.Target != "node20" || !cfg.Declarations.Strict {
		t.Errorf("unexpected config %+v", cfg)
	}
	if filepath.Base(m.ConfigFileUsed()) != "critters-pack.yaml" {
		t.Errorf("ConfigFileUsed() = %s", m.ConfigFileUsed())
	}
}

func TestLoad_ExplicitJSONFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pack.json"), `{"toolchain": {"cargo_args": ["--locked", "--offline"]}, "watch": {"debounce_ms": 50}}`)

	cfg, err := config.NewManager().Load(root, "pack.json")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if strings.Join(cfg.Toolchain.CargoArgs, " ") != "--locked --offline" {
		t.Errorf("CargoArgs = %v", cfg.Toolchain.CargoArgs)
	}
	if cfg.Watch.Debounce() != 50*time.Millisecond {
		t.Errorf("Debounce() = %s", cfg.Watch.Debounce())
	}
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "broken.yaml"), "paths: [unclosed")
	writeFile(t, filepath.Join(root, "policy.yaml"), "cleanup: sometimes\n")

	tests := []struct {
		name string
		path string
	}{
		{"missing explicit file", "nope.yaml"},
		{"malformed file", "broken.yaml"},
		{"unknown cleanup policy", "policy.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewManager().Load(root, tt.path)
			var cfgErr *config.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "critters-pack.yaml"), "paths:\n  dist: from-file\n")
	t.Setenv("CRITTERS_PACK_PATHS_DIST", "from-env")
	t.Setenv("CRITTERS_PACK_CLEANUP", "never")

	cfg, err := config.NewManager().Load(root, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.Dist != "from-env" {
		t.Errorf("Paths.Dist = %s", cfg.Paths.Dist)
	}
	if cfg.Cleanup != types.CleanupNever {
		t.Errorf("Cleanup = %s", cfg.Cleanup)
	}
}

func TestApplyLegacyEnv(t *testing.T) {
	env := map[string]string{"CARGO": "/opt/cargo", "NAPI": "/opt/napi"}
	getenv := func(k string) string { return env[k] }

	cfg := config.Defaults()
	config.ApplyLegacyEnv(cfg, getenv)
	if cfg.Toolchain.Cargo != "/opt/cargo" || cfg.Toolchain.Napi != "/opt/napi" {
		t.Errorf("legacy env not applied: %+v", cfg.Toolchain)
	}

	cfg = config.Defaults()
	cfg.Toolchain.Cargo = "cross"
	config.ApplyLegacyEnv(cfg, getenv)
	if cfg.Toolchain.Cargo != "cross" {
		t.Errorf("explicit config overridden by CARGO: %s", cfg.Toolchain.Cargo)
	}
}

func TestRequestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantMode  types.ArtifactMode
		wantShape types.Shape
	}{
		{"nothing set", nil, types.ArtifactModeFresh, types.ShapeFull},
		{"use artifacts", map[string]string{"USE_ARTIFACTS": "1"}, types.ArtifactModePrestaged, types.ShapeFull},
		{"skip typegen", map[string]string{"SKIP_TYPEGEN": "true"}, types.ArtifactModeFresh, types.ShapeReuseDeclarations},
		{"explicit false", map[string]string{"USE_ARTIFACTS": "false", "SKIP_TYPEGEN": "0"}, types.ArtifactModeFresh, types.ShapeFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := config.RequestFromEnv(func(k string) string { return tt.env[k] })
			if req.Mode() != tt.wantMode || req.Shape() != tt.wantShape {
				t.Errorf("got mode %s shape %s", req.Mode(), req.Shape())
			}
		})
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), "CRITTERS_PACK_TEST_A=from-file\nCRITTERS_PACK_TEST_B=from-file\n")
	t.Setenv("CRITTERS_PACK_TEST_A", "from-shell")
	t.Setenv("CRITTERS_PACK_TEST_B", "")
	os.Unsetenv("CRITTERS_PACK_TEST_B")

	if err := config.LoadDotEnv(root, ""); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}
	if got := os.Getenv("CRITTERS_PACK_TEST_A"); got != "from-shell" {
		t.Errorf("existing variable overridden: %s", got)
	}
	if got := os.Getenv("CRITTERS_PACK_TEST_B"); got != "from-file" {
		t.Errorf("variable not loaded: %q", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	root := t.TempDir()
	if err := config.LoadDotEnv(root, ""); err != nil {
		t.Errorf("implicit .env should be optional: %v", err)
	}
	if err := config.LoadDotEnv(root, "ci.env"); err == nil {
		t.Error("explicit env file should be required")
	}
}

func TestMarshal_YAMLRoundTrip(t *testing.T) {
	data, err := config.Marshal(config.Defaults(), "yaml")
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if parsed["cleanup"] != "on-success" {
		t.Errorf("cleanup = %v", parsed["cleanup"])
	}

	if _, err := config.Marshal(config.Defaults(), "toml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestWrite_LoadsBack(t *testing.T) {
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.Paths.Dist = "packed"
	if err := config.Write(cfg, filepath.Join(root, "critters-pack.yaml")); err != nil {
		t.Fatal(err)
	}

	loaded, err := config.NewManager().Load(root, "")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Paths.Dist != "packed" {
		t.Errorf("Paths.Dist = %s", loaded.Paths.Dist)
	}
}

func TestReloader_DeliversNewConfig(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "critters-pack.yaml")
	writeFile(t, path, "paths:\n  dist: one\n")

	var mu sync.Mutex
	var events []config.ReloadEvent
	r := config.NewReloader(root, path, nil, func(ev config.ReloadEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	r.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(100 * time.Millisecond)
	future := time.Now().Add(2 * time.Second)
	writeFile(t, path, "paths:\n  dist: two\n")
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		var last config.ReloadEvent
		if n > 0 {
			last = events[n-1]
		}
		mu.Unlock()

		if n > 0 && last.Config != nil && last.Config.Paths.Dist == "two" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("config change was not delivered")
}

func TestReloader_ReloadReportsErrors(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "critters-pack.yaml")
	writeFile(t, path, "cleanup: sometimes\n")

	var got config.ReloadEvent
	config.NewReloader(root, path, nil, func(ev config.ReloadEvent) { got = ev }).Reload()

	if got.Type != config.ReloadEventError || got.Err == nil || got.Config != nil {
		t.Errorf("unexpected event %+v", got)
	}
}
