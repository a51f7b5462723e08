package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/critters-rs/critters-pack/pkg/bindings"
	"github.com/critters-rs/critters-pack/pkg/bundler"
	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/declaration"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/notifier"
	"github.com/critters-rs/critters-pack/pkg/pipeline"
	"github.com/critters-rs/critters-pack/pkg/process"
	"github.com/critters-rs/critters-pack/pkg/staging"
	"github.com/critters-rs/critters-pack/pkg/state"
	"github.com/critters-rs/critters-pack/pkg/toolchain"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
	"github.com/critters-rs/critters-pack/pkg/validation"
)

// Log files written under paths.logs
const (
	compileLog    = "compile.log"
	regenerateLog = "regenerate.log"
)

// buildFlags are the request flags shared by the root, build and watch commands
type buildFlags struct {
	target      string
	cross       bool
	artifacts   bool
	skipTypegen bool
	cleanup     string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.target, "target", "", "target triple to compile for (default: host)")
	flags.BoolVar(&f.cross, "use-napi-cross", false, "compile through the napi cross-compilation helper")
	flags.BoolVar(&f.artifacts, "artifacts", false, "bundle a pre-staged binary from paths.artifacts instead of the fresh one")
	flags.BoolVar(&f.skipTypegen, "skip-typegen", false, "reuse the declarations already in staging")
	flags.StringVar(&f.cleanup, "cleanup", "", "staging cleanup policy: on-success, always or never")
}

// request builds the BuildRequest from the legacy environment variables with
// the flags applied on top
func (f *buildFlags) request(getenv config.Getenv) types.BuildRequest {
	req := config.RequestFromEnv(getenv)
	if f.target != "" {
		req.Target = f.target
	}
	if f.cross {
		req.UseCrossCompileHelper = true
	}
	if f.artifacts {
		req.ArtifactMode = types.ArtifactModePrestaged
	}
	if f.skipTypegen {
		req.SkipDeclarationRegeneration = true
	}
	return req
}

// apply folds the cleanup flag into cfg
func (f *buildFlags) apply(cfg *types.PackConfig) error {
	if f.cleanup == "" {
		return nil
	}
	policy, err := types.ParseCleanupPolicy(f.cleanup)
	if err != nil {
		return &config.ConfigError{Err: err}
	}
	cfg.Cleanup = policy
	return nil
}

func (c *CLI) newBuildCmd() *cobra.Command {
	flags := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the pipeline once",
		Long: `Compile the native addon, regenerate and patch the declarations, bundle
the ESM entry module and clean up staging.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) runBuild(cmd *cobra.Command, flags *buildFlags) error {
	if err := flags.apply(c.cfg); err != nil {
		return err
	}
	req := flags.request(c.getenv)
	if err := c.validate(c.cfg, req); err != nil {
		return err
	}

	ctx, stop := c.signalContext(cmd.Context())
	defer stop()

	orch := c.newOrchestrator(c.cfg)
	result, err := orch.Run(ctx, req)
	if err != nil {
		return err
	}

	c.printSuccess(fmt.Sprintf("Bundle ready in %s (%s)",
		result.Bundle.Dir, notifier.FormatDuration(result.Duration)))
	return nil
}

// signalContext returns a context cancelled on SIGINT, SIGTERM or SIGHUP.
// Cancellation stops any running toolchain process.
func (c *CLI) signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	pm := process.NewManager(c.logger)
	return pm.Start(ctx), func() {
		cancel()
		pm.Wait()
	}
}

// validate checks cfg and req, logs warnings and turns failures into a
// ConfigError
func (c *CLI) validate(cfg *types.PackConfig, req types.BuildRequest) error {
	v := validation.NewConfigValidator(cfg.ProjectRoot)
	result := v.Validate(cfg)
	result.Merge(v.ValidateRequest(cfg, req))

	for _, w := range result.Warnings() {
		c.logger.Warn(w.Message, logger.WithField("field", w.Field))
	}
	if err := result.Err(); err != nil {
		return &config.ConfigError{Path: c.configUsed, Err: err}
	}
	return nil
}

// newOrchestrator wires the pipeline components for cfg
func (c *CLI) newOrchestrator(cfg *types.PackConfig) *pipeline.Orchestrator {
	log := c.logger
	crate := resolve(cfg, cfg.Paths.Crate)
	stagingDir := resolve(cfg, cfg.Paths.Staging)
	logs := resolve(cfg, cfg.Paths.Logs)
	if err := utils.EnsureDirectory(logs); err != nil {
		log.Warn("Failed to create log directory", logger.WithField("path", logs), logger.WithField("error", err))
	}

	entry := cfg.Paths.Entry
	if entry == "" {
		entry = filepath.Join(stagingDir, toolchain.GeneratedJS)
	}
	runner := process.NewExecRunner(log)
	b := bundler.NewBundler(cfg.ProjectRoot, entry, cfg.Paths.Dist, cfg.Bundle, log.WithStage("bundle"))
	b.Declaration = filepath.Join(stagingDir, cfg.Declarations.File)

	return &pipeline.Orchestrator{
		Compiler: &toolchain.Compiler{
			Runner:     runner,
			Napi:       cfg.Toolchain.Napi,
			CrateDir:   crate,
			StagingDir: stagingDir,
			CargoArgs:  cfg.Toolchain.CargoArgs,
			LogFile:    filepath.Join(logs, compileLog),
			Logger:     log.WithStage("compile"),
		},
		Regenerator: &bindings.Regenerator{
			Runner:       runner,
			Cargo:        cfg.Toolchain.Cargo,
			CrateDir:     crate,
			ExportDirEnv: cfg.Toolchain.ExportDirEnv,
			HarnessArgs:  cfg.Toolchain.HarnessArgs,
			LogFile:      filepath.Join(logs, regenerateLog),
			Logger:       log.WithStage("typegen"),
		},
		Patcher:      c.newPatcher(cfg),
		Bundler:      b,
		Staging:      staging.New(stagingDir, cfg.Declarations.File, cfg.Declarations.BindingsDir, log.WithStage("staging")),
		Store:        c.newStore(cfg),
		ArtifactsDir: resolve(cfg, cfg.Paths.Artifacts),
		BinaryName:   cfg.Bundle.BinaryName,
		DistDir:      resolve(cfg, cfg.Paths.Dist),
		Cleanup:      cfg.Cleanup,
		Logger:       log,
	}
}

func (c *CLI) newPatcher(cfg *types.PackConfig) *declaration.Patcher {
	return &declaration.Patcher{
		Options: declaration.OptionsFromConfig(cfg.Declarations),
		Strict:  cfg.Declarations.Strict,
		Logger:  c.logger.WithStage("patch"),
	}
}

func (c *CLI) newStore(cfg *types.PackConfig) *state.Store {
	return state.NewStore(resolve(cfg, cfg.Paths.State), c.logger)
}

func (c *CLI) newStaging(cfg *types.PackConfig) *staging.Directory {
	return staging.New(resolve(cfg, cfg.Paths.Staging), cfg.Declarations.File, cfg.Declarations.BindingsDir, c.logger)
}

// resolve makes a config path absolute against the project root; empty stays empty
func resolve(cfg *types.PackConfig, path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(utils.ResolvePath(cfg.ProjectRoot, path))
}
