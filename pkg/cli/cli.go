// Package cli provides the command-line interface for critters-pack
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/notifier"
	"github.com/critters-rs/critters-pack/pkg/types"
)

// Options holds the global flags
type Options struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	EnvFile     string
	Version     string
}

// NewOptions returns the global flag defaults
func NewOptions() *Options {
	return &Options{
		ProjectRoot: ".",
		Verbosity:   "",
	}
}

// CLI owns the command tree and everything resolved before a command runs
type CLI struct {
	opts     *Options
	rootCmd  *cobra.Command
	output   io.Writer
	errorOut io.Writer

	// logOut overrides the logger destination; nil logs to stderr
	logOut io.Writer
	getenv config.Getenv
	notify notifier.SendFunc

	cfg        *types.PackConfig
	configUsed string
	logger     logger.Logger
}

// NewCLI creates a CLI writing to stdout and stderr
func NewCLI(opts *Options) *CLI {
	if opts == nil {
		opts = NewOptions()
	}
	c := &CLI{
		opts:     opts,
		output:   os.Stdout,
		errorOut: os.Stderr,
		getenv:   os.Getenv,
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom writers; logs go to errorOut
func NewCLIWithOutput(opts *Options, output, errorOut io.Writer) *CLI {
	c := NewCLI(opts)
	c.output = output
	c.errorOut = errorOut
	c.logOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

// Run executes the CLI and returns the process exit code. Errors are printed
// to stderr.
func (c *CLI) Run(ctx context.Context, args []string) int {
	err := c.Execute(ctx, args)
	if err != nil {
		c.printError(err.Error())
	}
	return ExitCode(err)
}

func (c *CLI) setupCommands() {
	build := &buildFlags{}

	c.rootCmd = &cobra.Command{
		Use:   "critters-pack",
		Short: "Build and package the critters native addon",
		Long: `📦 critters-pack compiles the critters native addon, regenerates and
patches its TypeScript declarations, and bundles an ESM distribution next
to the platform binary.

Run without a subcommand it performs a single build.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd, build)
		},
	}

	c.setupFlags()
	build.register(c.rootCmd)

	c.rootCmd.Version = c.opts.Version
	c.rootCmd.SetVersionTemplate("📦 critters-pack v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newPatchCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newLogsCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.opts.ConfigFile, "config", c.opts.ConfigFile, "config file (default: critters-pack.{yaml,json} in the project root)")
	flags.StringVar(&c.opts.ProjectRoot, "root", c.opts.ProjectRoot, "project root directory")
	flags.StringVarP(&c.opts.Verbosity, "verbosity", "v", c.opts.Verbosity, "log level (debug, info, warn, error)")
	flags.StringVar(&c.opts.EnvFile, "env-file", c.opts.EnvFile, "dotenv file loaded before the environment is read (default: .env)")
}

// initializeConfig loads .env, the config file and the legacy variables, then
// creates the logger every command uses
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		c.logger = logger.Discard()
		return nil
	}

	if err := config.LoadDotEnv(c.opts.ProjectRoot, c.opts.EnvFile); err != nil {
		return err
	}

	manager := config.NewManager()
	cfg, err := manager.Load(c.opts.ProjectRoot, c.opts.ConfigFile)
	if err != nil {
		return err
	}
	config.ApplyLegacyEnv(cfg, c.getenv)
	if c.opts.Verbosity != "" {
		cfg.Logging.Level = types.LogLevel(c.opts.Verbosity)
	}

	c.cfg = cfg
	c.configUsed = manager.ConfigFileUsed()
	c.logger = c.newLogger(cfg)

	if c.configUsed != "" {
		c.logger.Debug("Using config file", logger.WithField("file", c.configUsed))
	}
	return nil
}

func (c *CLI) newLogger(cfg *types.PackConfig) logger.Logger {
	if c.logOut != nil {
		return logger.CreateLoggerWithOutput(string(cfg.Logging.Level), c.logOut)
	}
	return logger.CreateLogger(resolve(cfg, cfg.Logging.File), string(cfg.Logging.Level))
}

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "📦 %s %s\n", color.GreenString("[critters-pack]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "📦 %s %s\n", color.RedString("[critters-pack]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "📦 %s %s\n", color.CyanString("[critters-pack]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "📦 %s %s\n", color.YellowString("[critters-pack]"), message)
}
