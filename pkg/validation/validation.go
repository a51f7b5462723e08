// Package validation checks a resolved configuration and build request
// before any stage runs
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
)

// ValidationError is one finding
type ValidationError struct {
	Field   string
	Message string
	Level   ValidationLevel
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Level, e.Field, e.Message)
}

// ValidationResult collects findings. Valid is false once any error-level
// finding is added.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds a finding
func (r *ValidationResult) AddError(field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Level: level})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Merge appends other's findings
func (r *ValidationResult) Merge(other *ValidationResult) {
	for _, e := range other.Errors {
		r.AddError(e.Field, e.Message, e.Level)
	}
}

// Warnings returns the warning-level findings
func (r *ValidationResult) Warnings() []ValidationError {
	return r.filter(ValidationLevelWarning)
}

// Failures returns the error-level findings
func (r *ValidationResult) Failures() []ValidationError {
	return r.filter(ValidationLevelError)
}

func (r *ValidationResult) filter(level ValidationLevel) []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Err joins the error-level findings, or returns nil when the result is valid
func (r *ValidationResult) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	msgs := make([]string, len(failures))
	for i, f := range failures {
		msgs[i] = f.Field + ": " + f.Message
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	nodeTargetRe = regexp.MustCompile(`^(node\d+(\.\d+){0,2}|esnext|es20\d\d)$`)
)

// ConfigValidator validates a resolved PackConfig
type ConfigValidator struct {
	projectRoot string
}

// NewConfigValidator creates a validator resolving relative paths against projectRoot
func NewConfigValidator(projectRoot string) *ConfigValidator {
	return &ConfigValidator{projectRoot: projectRoot}
}

// Validate checks every section of cfg
func (v *ConfigValidator) Validate(cfg *types.PackConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validatePaths(cfg, result)
	v.validateToolchain(cfg.Toolchain, result)
	v.validateDeclarations(cfg.Declarations, result)
	v.validateBundle(cfg.Bundle, result)
	v.validateWatch(v.resolve(cfg.Paths.Crate), cfg.Watch, result)

	if _, err := types.ParseCleanupPolicy(string(cfg.Cleanup)); err != nil {
		result.AddError("cleanup", err.Error(), ValidationLevelError)
	}
	switch cfg.Logging.Level {
	case "", types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
	default:
		result.AddError("logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level), ValidationLevelError)
	}

	return result
}

// ValidateRequest checks a build request against cfg
func (v *ConfigValidator) ValidateRequest(cfg *types.PackConfig, req types.BuildRequest) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if req.Target != "" {
		if _, err := types.ParseTriple(req.Target); err != nil {
			result.AddError("target", err.Error(), ValidationLevelError)
		}
	} else if _, err := types.HostPlatformTag(); err != nil {
		result.AddError("target", err.Error(), ValidationLevelError)
	}

	if req.UseCrossCompileHelper && req.Target == "" {
		result.AddError("target", "cross-compile helper requested without a target triple", ValidationLevelWarning)
	}

	switch req.Mode() {
	case types.ArtifactModeFresh:
	case types.ArtifactModePrestaged:
		dir := v.resolve(cfg.Paths.Artifacts)
		if !utils.DirectoryExists(dir) {
			result.AddError("paths.artifacts", fmt.Sprintf("pre-staged artifacts directory does not exist: %s", dir), ValidationLevelError)
		}
	default:
		result.AddError("artifactMode", fmt.Sprintf("unknown artifact mode %q", req.ArtifactMode), ValidationLevelError)
	}

	if req.Shape() == types.ShapeReuseDeclarations {
		decl := filepath.Join(v.resolve(cfg.Paths.Staging), cfg.Declarations.File)
		if !utils.FileExists(decl) {
			result.AddError("skipTypegen", fmt.Sprintf("no declarations to reuse yet; napi will generate %s unpatched", decl), ValidationLevelWarning)
		}
	}

	return result
}

func (v *ConfigValidator) resolve(path string) string {
	return filepath.Clean(utils.ResolvePath(v.projectRoot, path))
}

func (v *ConfigValidator) validatePaths(cfg *types.PackConfig, result *ValidationResult) {
	required := map[string]string{
		"paths.crate":   cfg.Paths.Crate,
		"paths.staging": cfg.Paths.Staging,
		"paths.dist":    cfg.Paths.Dist,
	}
	for _, field := range []string{"paths.crate", "paths.staging", "paths.dist"} {
		if strings.TrimSpace(required[field]) == "" {
			result.AddError(field, "path is required", ValidationLevelError)
		}
	}
	if !result.Valid {
		return
	}

	root := filepath.Clean(v.projectRoot)
	crate := v.resolve(cfg.Paths.Crate)
	stagingDir := v.resolve(cfg.Paths.Staging)
	dist := v.resolve(cfg.Paths.Dist)

	if !utils.DirectoryExists(crate) {
		result.AddError("paths.crate", fmt.Sprintf("crate directory does not exist: %s", crate), ValidationLevelError)
	} else if !utils.FileExists(filepath.Join(crate, "Cargo.toml")) {
		result.AddError("paths.crate", fmt.Sprintf("no Cargo.toml in %s", crate), ValidationLevelWarning)
	}

	// Both directories are removed wholesale, so neither may contain the
	// project or the crate.
	for field, dir := range map[string]string{"paths.staging": stagingDir, "paths.dist": dist} {
		if contains(dir, root) || contains(dir, crate) {
			result.AddError(field, fmt.Sprintf("%s would delete the project or crate when cleared", dir), ValidationLevelError)
		}
	}
	if contains(stagingDir, dist) || contains(dist, stagingDir) {
		result.AddError("paths.dist", "staging and dist directories must not overlap", ValidationLevelError)
	}

	if cfg.Paths.Entry != "" {
		entry := v.resolve(cfg.Paths.Entry)
		if !contains(stagingDir, entry) && !utils.FileExists(entry) {
			result.AddError("paths.entry", fmt.Sprintf("entry module does not exist: %s", entry), ValidationLevelError)
		}
	}
}

func (v *ConfigValidator) validateToolchain(tc types.ToolchainConfig, result *ValidationResult) {
	if strings.TrimSpace(tc.Napi) == "" {
		result.AddError("toolchain.napi", "napi executable is required", ValidationLevelError)
	}
	if strings.TrimSpace(tc.Cargo) == "" {
		result.AddError("toolchain.cargo", "cargo executable is required", ValidationLevelError)
	}
	if tc.ExportDirEnv != "" && !identifierRe.MatchString(tc.ExportDirEnv) {
		result.AddError("toolchain.export_dir_env", fmt.Sprintf("invalid environment variable name %q", tc.ExportDirEnv), ValidationLevelError)
	}
}

func (v *ConfigValidator) validateDeclarations(d types.DeclarationConfig, result *ValidationResult) {
	idents := map[string]string{
		"declarations.full_type":    d.FullType,
		"declarations.alias":        d.Alias,
		"declarations.partial_type": d.PartialType,
		"declarations.param_name":   d.ParamName,
	}
	for _, field := range []string{"declarations.full_type", "declarations.alias", "declarations.partial_type", "declarations.param_name"} {
		if !identifierRe.MatchString(idents[field]) {
			result.AddError(field, fmt.Sprintf("not a valid identifier: %q", idents[field]), ValidationLevelError)
		}
	}
	if d.Alias != "" && (d.Alias == d.PartialType || d.Alias == d.FullType) {
		result.AddError("declarations.alias", "alias must differ from the full and partial type names", ValidationLevelError)
	}
	if d.ImportPath == "" {
		result.AddError("declarations.import_path", "import path is required", ValidationLevelError)
	}
	if !strings.HasSuffix(d.File, ".d.ts") {
		result.AddError("declarations.file", fmt.Sprintf("expected a .d.ts file, got %q", d.File), ValidationLevelWarning)
	}
}

func (v *ConfigValidator) validateBundle(b types.BundleConfig, result *ValidationResult) {
	if b.Target != "" && !nodeTargetRe.MatchString(b.Target) {
		result.AddError("bundle.target", fmt.Sprintf("unrecognised target %q", b.Target), ValidationLevelWarning)
	}
	if b.OutFile != "" && filepath.Ext(b.OutFile) != ".mjs" && filepath.Ext(b.OutFile) != ".js" {
		result.AddError("bundle.out_file", fmt.Sprintf("entry module should end in .mjs: %s", b.OutFile), ValidationLevelWarning)
	}
	if strings.ContainsAny(b.BinaryName, `/\`) {
		result.AddError("bundle.binary_name", "binary name must not contain a path separator", ValidationLevelError)
	}
}

// validateWatch checks watch paths, which are relative to the crate
func (v *ConfigValidator) validateWatch(crate string, w types.WatchConfig, result *ValidationResult) {
	if w.DebounceMs < 0 {
		result.AddError("watch.debounce_ms", "debounce must not be negative", ValidationLevelError)
	}
	for _, path := range w.Paths {
		if path == "" {
			result.AddError("watch.paths", "empty watch path", ValidationLevelError)
			continue
		}
		if filepath.IsAbs(path) {
			result.AddError("watch.paths", fmt.Sprintf("watch path should be relative: %s", path), ValidationLevelWarning)
			continue
		}
		if !utils.IsGlobPattern(path) {
			if _, err := os.Stat(filepath.Join(crate, path)); os.IsNotExist(err) {
				result.AddError("watch.paths", fmt.Sprintf("watch path does not exist: %s", path), ValidationLevelWarning)
			}
		}
	}
}

// contains reports whether path is dir or lies below it
func contains(dir, path string) bool {
	if dir == path {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
