package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/critters-rs/critters-pack/pkg/bindings"
	"github.com/critters-rs/critters-pack/pkg/bundler"
	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/declaration"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/pipeline"
	"github.com/critters-rs/critters-pack/pkg/state"
	"github.com/critters-rs/critters-pack/pkg/toolchain"
	"github.com/critters-rs/critters-pack/pkg/types"
)

type harness struct {
	root   string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	env    map[string]string
}

func newHarness(t *testing.T, configYAML string) *harness {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte("[package]\nname = \"critters\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(root, "critters-pack.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &harness{root: root, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, env: map[string]string{}}
}

func (h *harness) run(args ...string) int {
	opts := NewOptions()
	opts.Version = "1.2.3"
	c := NewCLIWithOutput(opts, h.stdout, h.stderr)
	c.getenv = func(k string) string { return h.env[k] }
	c.notify = func(title, message, icon string) error { return nil }
	return c.Run(context.Background(), append([]string{"--root", h.root}, args...))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"config", &config.ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"toolchain", &pipeline.StageError{State: types.StateCompiling, Err: &toolchain.ToolchainError{ExitCode: 101, Err: errors.New("exit")}}, ExitToolchainError},
		{"regeneration", &pipeline.StageError{State: types.StateRegeneratingTypes, Err: &bindings.RegenerationError{ExitCode: 1, Err: errors.New("exit")}}, ExitRegenerationError},
		{"declaration", &pipeline.StageError{State: types.StatePatching, Err: fmt.Errorf("index.d.ts: %w", declaration.ErrNoConstructor)}, ExitDeclarationError},
		{"bundle", &pipeline.StageError{State: types.StateBundling, Err: &bundler.BundleError{Stage: bundler.StageResolve, Err: bundler.ErrUnresolved}}, ExitBundleError},
		{"untyped stage error", &pipeline.StageError{State: types.StateBundling, Err: errors.New("disk full")}, ExitBundleError},
		{"cleaning", &pipeline.StageError{State: types.StateCleaning, Err: errors.New("busy")}, ExitFailure},
		{"staging busy", fmt.Errorf("pipeline not started: %w", state.ErrStagingBusy), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestBuildFlags_Request(t *testing.T) {
	env := map[string]string{config.EnvUseArtifacts: "1", config.EnvSkipTypegen: "true"}
	getenv := func(k string) string { return env[k] }

	req := (&buildFlags{}).request(getenv)
	if req.ArtifactMode != types.ArtifactModePrestaged || !req.SkipDeclarationRegeneration {
		t.Errorf("environment not applied: %+v", req)
	}

	req = (&buildFlags{target: "aarch64-apple-darwin", cross: true}).request(func(string) string { return "" })
	want := types.BuildRequest{
		Target:                "aarch64-apple-darwin",
		UseCrossCompileHelper: true,
		ArtifactMode:          types.ArtifactModeFresh,
	}
	if req != want {
		t.Errorf("request = %+v, want %+v", req, want)
	}

	req = (&buildFlags{artifacts: true, skipTypegen: true}).request(func(string) string { return "" })
	if req.Mode() != types.ArtifactModePrestaged || req.Shape() != types.ShapeReuseDeclarations {
		t.Errorf("flags not applied: %+v", req)
	}
}

func TestBuildFlags_Cleanup(t *testing.T) {
	cfg := config.Defaults()
	if err := (&buildFlags{cleanup: "always"}).apply(cfg); err != nil || cfg.Cleanup != types.CleanupAlways {
		t.Errorf("apply() = %v, cleanup %s", err, cfg.Cleanup)
	}

	var cfgErr *config.ConfigError
	if err := (&buildFlags{cleanup: "sometimes"}).apply(cfg); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "")
	if code := h.run("version"); code != ExitSuccess {
		t.Fatalf("exit %d: %s", code, h.stderr)
	}
	if !strings.Contains(h.stdout.String(), "critters-pack v1.2.3") {
		t.Errorf("unexpected output %q", h.stdout)
	}
}

func TestValidate_Print(t *testing.T) {
	h := newHarness(t, "bundle:\n  target: node20\ncleanup: never\n")
	if code := h.run("validate", "--print"); code != ExitSuccess {
		t.Fatalf("exit %d: %s", code, h.stderr)
	}
	out := h.stdout.String()
	for _, want := range []string{"target: node20", "cleanup: never", "staging: .critters-pack/staging", "Configuration is valid"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate_Failures(t *testing.T) {
	h := newHarness(t, "paths:\n  crate: missing-crate\n")
	if code := h.run("validate"); code != ExitConfigError {
		t.Errorf("exit %d, want %d", code, ExitConfigError)
	}
	if !strings.Contains(h.stderr.String(), "paths.crate") {
		t.Errorf("expected failing field on stderr, got %q", h.stderr)
	}
}

func TestConfigError_ExitCode(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		args []string
	}{
		{"unknown cleanup policy in config", "cleanup: sometimes\n", []string{"validate"}},
		{"unknown cleanup flag", "", []string{"build", "--cleanup", "sometimes"}},
		{"missing explicit config", "", []string{"--config", "nope.yaml", "status"}},
		{"missing explicit env file", "", []string{"--env-file", "nope.env", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.yaml)
			if code := h.run(tt.args...); code != ExitConfigError {
				t.Errorf("exit %d, want %d (stderr %q)", code, ExitConfigError, h.stderr)
			}
		})
	}
}

func TestBuild_MissingToolchain(t *testing.T) {
	h := newHarness(t, "toolchain:\n  napi: /nonexistent/bin/napi\n")
	code := h.run("build")
	if code != ExitToolchainError {
		t.Fatalf("exit %d, want %d (stderr %q)", code, ExitToolchainError, h.stderr)
	}
	if !strings.Contains(h.stderr.String(), "compiling") {
		t.Errorf("expected failed stage in message, got %q", h.stderr)
	}

	store := state.NewStore(filepath.Join(h.root, ".critters-pack", "state"), logger.Discard())
	records, err := store.List()
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one run record, got %v (%v)", records, err)
	}
	if records[0].State != types.StateFailed || records[0].FailedStage != types.StateCompiling {
		t.Errorf("record = %+v", records[0])
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "")
	if code := h.run("status"); code != ExitSuccess {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(h.stdout.String(), "No runs recorded yet") {
		t.Errorf("unexpected output %q", h.stdout)
	}

	store := state.NewStore(filepath.Join(h.root, ".critters-pack", "state"), logger.Discard())
	rec, err := store.Begin("run-1", "linux-x64-gnu", filepath.Join(h.root, ".critters-pack", "staging"), types.BuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(rec, types.StateBundling, errors.New("module graph could not be resolved\ndetails")); err != nil {
		t.Fatal(err)
	}

	h.stdout.Reset()
	if code := h.run("status"); code != ExitSuccess {
		t.Fatalf("exit %d", code)
	}
	out := h.stdout.String()
	for _, want := range []string{"linux-x64-gnu", "failed", "bundling"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(h.stderr.String(), "module graph could not be resolved") || strings.Contains(h.stderr.String(), "details") {
		t.Errorf("expected first error line on stderr, got %q", h.stderr)
	}

	h.stdout.Reset()
	if code := h.run("status", "--json"); code != ExitSuccess {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(h.stdout.String(), `"platformTag": "linux-x64-gnu"`) {
		t.Errorf("unexpected JSON %s", h.stdout)
	}
}

func TestClean(t *testing.T) {
	h := newHarness(t, "")
	stagingDir := filepath.Join(h.root, ".critters-pack", "staging")
	dist := filepath.Join(h.root, "dist")
	for _, dir := range []string{stagingDir, dist} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "critters.linux-x64-gnu.node"), make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}
	store := state.NewStore(filepath.Join(h.root, ".critters-pack", "state"), logger.Discard())
	rec, err := store.Begin("run-1", "linux-x64-gnu", stagingDir, types.BuildRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(rec, types.StateCompiling, errors.New("exit 101")); err != nil {
		t.Fatal(err)
	}

	if code := h.run("clean"); code != ExitSuccess {
		t.Fatalf("exit %d: %s", code, h.stderr)
	}
	if !strings.Contains(h.stdout.String(), "(1 files, 2.0 KB)") {
		t.Errorf("expected staging usage in output, got:\n%s", h.stdout)
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Error("staging should be removed")
	}
	if _, err := os.Stat(dist); err != nil {
		t.Error("dist should be kept without --dist")
	}
	if records, _ := store.List(); len(records) != 0 {
		t.Errorf("run state should be removed, got %v", records)
	}

	if code := h.run("clean", "--dist"); code != ExitSuccess {
		t.Fatalf("exit %d", code)
	}
	if _, err := os.Stat(dist); !os.IsNotExist(err) {
		t.Error("dist should be removed with --dist")
	}
}

func TestInit(t *testing.T) {
	h := newHarness(t, "")

	if code := h.run("init"); code != ExitSuccess {
		t.Fatalf("exit %d: %s", code, h.stderr)
	}
	path := filepath.Join(h.root, "critters-pack.yaml")
	loaded, err := config.NewManager().Load(h.root, "")
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if loaded.Paths.Dist != "dist" || loaded.Cleanup != types.CleanupOnSuccess {
		t.Errorf("unexpected config %+v", loaded.Paths)
	}
	if loaded.ProjectRoot != h.root {
		t.Errorf("ProjectRoot = %s, want %s", loaded.ProjectRoot, h.root)
	}

	if code := h.run("init"); code != ExitFailure {
		t.Errorf("second init exited %d, want %d", code, ExitFailure)
	}
	if code := h.run("init", "--force"); code != ExitSuccess {
		t.Errorf("init --force exited %d: %s", code, h.stderr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	if code := h.run("init", "--format", "toml"); code != ExitConfigError {
		t.Errorf("unsupported format exited %d, want %d", code, ExitConfigError)
	}
}

func TestPatch(t *testing.T) {
	h := newHarness(t, "")
	path := filepath.Join(h.root, "index.d.ts")
	src := "export declare class Critters {\n  constructor(options: CrittersOptions)\n  process(html: string): string\n}\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	if code := h.run("patch", path); code != ExitSuccess {
		t.Fatalf("exit %d: %s", code, h.stderr)
	}
	out, _ := os.ReadFile(path)
	for _, want := range []string{
		"export type CrittersOptions = Partial<FullCrittersOptions>",
		"constructor(options?: CrittersOptions)",
	} {
		if !strings.Contains(string(out), want) {
			t.Errorf("patched declaration missing %q:\n%s", want, out)
		}
	}

	again := string(out)
	if code := h.run("patch", path); code != ExitSuccess {
		t.Fatalf("second patch exit %d", code)
	}
	if out, _ := os.ReadFile(path); string(out) != again {
		t.Error("patching twice must not change the file")
	}
}

func TestPatch_MissingFile(t *testing.T) {
	h := newHarness(t, "")
	if code := h.run("patch", filepath.Join(h.root, "missing.d.ts")); code != ExitFailure {
		t.Errorf("exit %d, want %d", code, ExitFailure)
	}
}

func TestLogs(t *testing.T) {
	h := newHarness(t, "")
	if code := h.run("logs"); code != ExitSuccess {
		t.Fatalf("exit %d", code)
	}

	logDir := filepath.Join(h.root, ".critters-pack", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatal(err)
	}
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	if err := os.WriteFile(filepath.Join(logDir, "compile.log"), []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	h.stdout.Reset()
	if code := h.run("logs", "compile", "-n", "3"); code != ExitSuccess {
		t.Fatalf("exit %d", code)
	}
	out := h.stdout.String()
	if !strings.Contains(out, "line 10") || !strings.Contains(out, "line 8") || strings.Contains(out, "line 7\n") {
		t.Errorf("expected last three lines, got:\n%s", out)
	}

	if code := h.run("logs", "regenerate"); code != ExitFailure {
		t.Errorf("missing log should fail, got exit %d", code)
	}
}
