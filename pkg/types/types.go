// Package types provides core types and configuration for critters-pack
package types

import (
	"fmt"
	"strings"
	"time"
)

// ArtifactMode selects where the native binary consumed by the bundler comes from
type ArtifactMode string

const (
	// ArtifactModeFresh uses the binary compiled in this run
	ArtifactModeFresh ArtifactMode = "fresh"
	// ArtifactModePrestaged uses a binary staged by an earlier, separate build job
	ArtifactModePrestaged ArtifactMode = "prestaged"
)

// Shape is the tagged pipeline configuration derived from a BuildRequest.
// It is the only input the orchestrator consults when deciding which
// optional stages run.
type Shape string

const (
	// ShapeFull regenerates and patches the declaration documents
	ShapeFull Shape = "full"
	// ShapeReuseDeclarations keeps whatever declarations already sit in staging
	ShapeReuseDeclarations Shape = "reuse-declarations"
)

// PipelineState represents a state of the pipeline state machine
type PipelineState string

const (
	StateCompiling         PipelineState = "compiling"
	StateRegeneratingTypes PipelineState = "regenerating_types"
	StatePatching          PipelineState = "patching"
	StateSkipped           PipelineState = "skipped"
	StateBundling          PipelineState = "bundling"
	StateCleaning          PipelineState = "cleaning"
	StateDone              PipelineState = "done"
	StateFailed            PipelineState = "failed"
)

// IsTerminal reports whether no further transitions are possible from s
func (s PipelineState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CleanupPolicy controls when the staging directory is removed
type CleanupPolicy string

const (
	// CleanupOnSuccess removes staging only after a fully successful bundle
	CleanupOnSuccess CleanupPolicy = "on-success"
	// CleanupAlways removes staging on every exit path
	CleanupAlways CleanupPolicy = "always"
	// CleanupNever keeps staging for inspection
	CleanupNever CleanupPolicy = "never"
)

// ParseCleanupPolicy parses a policy name
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch p := CleanupPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case CleanupOnSuccess, CleanupAlways, CleanupNever:
		return p, nil
	case "":
		return CleanupOnSuccess, nil
	default:
		return "", fmt.Errorf("unknown cleanup policy: %q", s)
	}
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// BuildRequest is constructed once from environment and CLI flags and is
// passed by value for the lifetime of a pipeline run.
type BuildRequest struct {
	Target                      string       `json:"target,omitempty"`
	UseCrossCompileHelper       bool         `json:"useCrossCompileHelper"`
	ArtifactMode                ArtifactMode `json:"artifactMode"`
	SkipDeclarationRegeneration bool         `json:"skipDeclarationRegeneration"`
}

// Shape derives the pipeline shape for this request
func (r BuildRequest) Shape() Shape {
	if r.SkipDeclarationRegeneration {
		return ShapeReuseDeclarations
	}
	return ShapeFull
}

// Mode returns the artifact mode, defaulting to fresh
func (r BuildRequest) Mode() ArtifactMode {
	if r.ArtifactMode == "" {
		return ArtifactModeFresh
	}
	return r.ArtifactMode
}

// PlatformTag resolves the napi platform tag for the requested target, or the
// host platform when no target triple is set.
func (r BuildRequest) PlatformTag() (string, error) {
	if r.Target == "" {
		return HostPlatformTag()
	}
	t, err := ParseTriple(r.Target)
	if err != nil {
		return "", err
	}
	return t.PlatformTag(), nil
}

// NativeArtifact is the compiled, platform-specific addon binary
type NativeArtifact struct {
	Path        string `json:"path"`
	PlatformTag string `json:"platformTag"`
}

// DistributionBundle describes the final output directory contents
type DistributionBundle struct {
	Dir          string   `json:"dir"`
	EntryModule  string   `json:"entryModule"`
	NativeBinary string   `json:"nativeBinary"`
	Declaration  string   `json:"declaration"`
	TypeFiles    []string `json:"typeFiles,omitempty"`
	Exports      []string `json:"exports,omitempty"`
}

// PathsConfig locates the crate, staging, output and pre-staged artifacts.
// Relative paths resolve against the project root.
type PathsConfig struct {
	Crate     string `mapstructure:"crate" json:"crate" yaml:"crate"`
	Entry     string `mapstructure:"entry" json:"entry" yaml:"entry"`
	Staging   string `mapstructure:"staging" json:"staging" yaml:"staging"`
	Dist      string `mapstructure:"dist" json:"dist" yaml:"dist"`
	Artifacts string `mapstructure:"artifacts" json:"artifacts" yaml:"artifacts"`
	Logs      string `mapstructure:"logs" json:"logs" yaml:"logs"`
	State     string `mapstructure:"state" json:"state" yaml:"state"`
}

// ToolchainConfig names the external executables the pipeline drives
type ToolchainConfig struct {
	Napi         string   `mapstructure:"napi" json:"napi" yaml:"napi"`
	Cargo        string   `mapstructure:"cargo" json:"cargo" yaml:"cargo"`
	ExportDirEnv string   `mapstructure:"export_dir_env" json:"exportDirEnv" yaml:"export_dir_env"`
	HarnessArgs  []string `mapstructure:"harness_args" json:"harnessArgs" yaml:"harness_args"`
	CargoArgs    []string `mapstructure:"cargo_args" json:"cargoArgs" yaml:"cargo_args"`
}

// DeclarationConfig describes the declaration documents and the patch applied to them
type DeclarationConfig struct {
	File        string `mapstructure:"file" json:"file" yaml:"file"`
	BindingsDir string `mapstructure:"bindings_dir" json:"bindingsDir" yaml:"bindings_dir"`
	FullType    string `mapstructure:"full_type" json:"fullType" yaml:"full_type"`
	Alias       string `mapstructure:"alias" json:"alias" yaml:"alias"`
	PartialType string `mapstructure:"partial_type" json:"partialType" yaml:"partial_type"`
	ImportPath  string `mapstructure:"import_path" json:"importPath" yaml:"import_path"`
	ParamName   string `mapstructure:"param_name" json:"paramName" yaml:"param_name"`
	Strict      bool   `mapstructure:"strict" json:"strict" yaml:"strict"`
}

// BundleConfig configures the ESM bundle
type BundleConfig struct {
	BinaryName string `mapstructure:"binary_name" json:"binaryName" yaml:"binary_name"`
	OutFile    string `mapstructure:"out_file" json:"outFile" yaml:"out_file"`
	Target     string `mapstructure:"target" json:"target" yaml:"target"`
	Minify     bool   `mapstructure:"minify" json:"minify" yaml:"minify"`
	Sourcemap  bool   `mapstructure:"sourcemap" json:"sourcemap" yaml:"sourcemap"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Paths      []string `mapstructure:"paths" json:"paths" yaml:"paths"`
	DebounceMs int      `mapstructure:"debounce_ms" json:"debounceMs" yaml:"debounce_ms"`
}

// Debounce returns the debounce interval
func (w WatchConfig) Debounce() time.Duration {
	if w.DebounceMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `mapstructure:"file" json:"file" yaml:"file"`
	Level LogLevel `mapstructure:"level" json:"level" yaml:"level"`
}

// PackConfig is the fully resolved pipeline configuration. Environment
// variables are read only at the entry point and folded into this struct;
// nothing below the CLI consults the process environment.
type PackConfig struct {
	ProjectRoot   string             `mapstructure:"root" json:"root" yaml:"root"`
	Paths         PathsConfig        `mapstructure:"paths" json:"paths" yaml:"paths"`
	Toolchain     ToolchainConfig    `mapstructure:"toolchain" json:"toolchain" yaml:"toolchain"`
	Declarations  DeclarationConfig  `mapstructure:"declarations" json:"declarations" yaml:"declarations"`
	Bundle        BundleConfig       `mapstructure:"bundle" json:"bundle" yaml:"bundle"`
	Cleanup       CleanupPolicy      `mapstructure:"cleanup" json:"cleanup" yaml:"cleanup"`
	Watch         WatchConfig        `mapstructure:"watch" json:"watch" yaml:"watch"`
	Notifications NotificationConfig `mapstructure:"notifications" json:"notifications" yaml:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging" json:"logging" yaml:"logging"`
}
