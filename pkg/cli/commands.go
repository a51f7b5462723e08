package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/notifier"
	"github.com/critters-rs/critters-pack/pkg/staging"
	"github.com/critters-rs/critters-pack/pkg/state"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
	"github.com/critters-rs/critters-pack/pkg/validation"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var format string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Create critters-pack.yaml (or .json) in the project root with the
default settings, ready to be edited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(format, force)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "file format: yaml or json")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration")
	return cmd
}

func (c *CLI) runInit(format string, force bool) error {
	ext := strings.ToLower(format)
	if ext != "yaml" && ext != "json" {
		return &config.ConfigError{Err: fmt.Errorf("unsupported format: %s", format)}
	}
	path := filepath.Join(c.cfg.ProjectRoot, config.ConfigName+"."+ext)

	if !force {
		for _, existing := range []string{c.configUsed, path} {
			if existing != "" && utils.FileExists(existing) {
				return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", existing)
			}
		}
	}

	if !utils.FileExists(filepath.Join(c.cfg.ProjectRoot, "Cargo.toml")) {
		c.printWarning("No Cargo.toml in the project root; set paths.crate to the crate directory")
	}
	if err := config.Write(config.Defaults(), path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", path))
	c.printInfo("Edit the configuration to customize paths, toolchain and bundle settings")
	return nil
}

func (c *CLI) newPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <file>",
		Short: "Patch a declaration file in place",
		Long: `Widen the constructor parameter of a generated declaration file to the
partial options type and add the import and alias it needs. Running it again
on a patched file changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.newPatcher(c.cfg).PatchFile(args[0])
			if err != nil {
				return err
			}
			if !res.Rewritten {
				c.printWarning(fmt.Sprintf("No constructor found in %s; file left unchanged", args[0]))
				return nil
			}
			c.printSuccess(fmt.Sprintf("Patched %s: %s", args[0], res.Signature))
			return nil
		},
	}
}

func (c *CLI) newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run for each platform",
		Long:  `Display the recorded state of the latest run per platform tag, including the failed stage and whether the run is still in progress.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func (c *CLI) runStatus(asJSON bool) error {
	records, err := c.newStore(c.cfg).List()
	if err != nil {
		return fmt.Errorf("failed to read run state: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(c.output)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []*state.RunRecord{}
		}
		return enc.Encode(records)
	}

	if len(records) == 0 {
		c.printInfo("No runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tSTATE\tFAILED STAGE\tMODE\tSTARTED\tDURATION")
	fmt.Fprintln(w, "--------\t-----\t------------\t----\t-------\t--------")
	for _, rec := range records {
		status := string(rec.State)
		switch {
		case rec.State == types.StateDone:
			status = color.GreenString(status)
		case rec.State == types.StateFailed:
			status = color.RedString(status)
		case rec.Live():
			status = color.YellowString(status)
		default:
			status = color.WhiteString(status + " (stale)")
		}

		failed := "-"
		if rec.FailedStage != "" {
			failed = string(rec.FailedStage)
		}
		duration := "-"
		if rec.Duration > 0 {
			duration = notifier.FormatDuration(rec.Duration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.PlatformTag,
			status,
			failed,
			rec.ArtifactMode,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, rec := range records {
		if rec.Error != "" {
			c.printError(fmt.Sprintf("%s: %s", rec.PlatformTag, firstLine(rec.Error)))
		}
	}
	return nil
}

func (c *CLI) newCleanCmd() *cobra.Command {
	var dist bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove staging and recorded run state",
		Long:  `Remove the staging directory kept after failed runs along with the recorded run state. Refuses while another process is running the pipeline.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean(dist)
		},
	}
	cmd.Flags().BoolVar(&dist, "dist", false, "also remove the distribution directory")
	return cmd
}

func (c *CLI) runClean(dist bool) error {
	store := c.newStore(c.cfg)
	records, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to read run state: %w", err)
	}
	for _, rec := range records {
		if rec.Live() {
			return fmt.Errorf("%w: %s is held by process %d", state.ErrStagingBusy, rec.StagingDir, rec.ProcessID)
		}
	}

	stagingDir := c.newStaging(c.cfg)
	if stagingDir.Exists() {
		files, size, err := stagingUsage(stagingDir)
		if err != nil {
			c.logger.Warn("Failed to inspect staging", logger.WithField("error", err))
		} else {
			c.printInfo(fmt.Sprintf("Removing staging %s (%d files, %s)", stagingDir.Path, len(files), utils.FormatBytes(size)))
		}
	}
	if err := stagingDir.Remove(); err != nil {
		return fmt.Errorf("failed to remove staging: %w", err)
	}
	for _, rec := range records {
		if err := store.Remove(rec.PlatformTag); err != nil {
			return fmt.Errorf("failed to remove run state: %w", err)
		}
	}
	if dist {
		if err := os.RemoveAll(resolve(c.cfg, c.cfg.Paths.Dist)); err != nil {
			return fmt.Errorf("failed to remove dist: %w", err)
		}
	}

	c.printSuccess("Cleaned staging and run state")
	return nil
}

// stagingUsage lists the files kept in staging and their total size
func stagingUsage(d *staging.Directory) ([]string, int64, error) {
	files, err := d.Contents()
	if err != nil {
		return nil, 0, err
	}
	var size int64
	for _, f := range files {
		info, err := os.Stat(filepath.Join(d.Path, filepath.FromSlash(f)))
		if err != nil {
			return nil, 0, err
		}
		size += info.Size()
	}
	return files, size, nil
}

func (c *CLI) newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs [compile|regenerate]",
		Short: "Show toolchain logs",
		Long:  `Display the captured output of the last toolchain invocations.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return c.runLogs(name, lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

func (c *CLI) runLogs(name string, lines int) error {
	logDir := resolve(c.cfg, c.cfg.Paths.Logs)
	if !utils.DirectoryExists(logDir) {
		c.printWarning("No logs found. Run 'critters-pack build' first.")
		return nil
	}

	var logFiles []string
	if name != "" {
		path := filepath.Join(logDir, strings.TrimSuffix(name, ".log")+".log")
		if !utils.FileExists(path) {
			return fmt.Errorf("no log named %s", name)
		}
		logFiles = []string{path}
	} else {
		for _, f := range []string{compileLog, regenerateLog} {
			if path := filepath.Join(logDir, f); utils.FileExists(path) {
				logFiles = append(logFiles, path)
			}
		}
		if len(logFiles) == 0 {
			c.printWarning("No log files found")
			return nil
		}
	}

	for _, path := range logFiles {
		content, err := readLastNLines(path, lines)
		if err != nil {
			c.printError(fmt.Sprintf("Failed to read %s: %v", filepath.Base(path), err))
			continue
		}
		fmt.Fprintf(c.output, "\n=== %s ===\n", strings.TrimSuffix(filepath.Base(path), ".log"))
		fmt.Fprint(c.output, content)
	}
	return nil
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var ring []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(ring) == 0 {
		return "", nil
	}
	return strings.Join(ring, "\n") + "\n", nil
}

func (c *CLI) newValidateCmd() *cobra.Command {
	var printCfg bool
	var format string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long:  `Check the resolved configuration and the build request implied by the environment, and optionally print the resolved configuration.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate(printCfg, format)
		},
	}
	cmd.Flags().BoolVar(&printCfg, "print", false, "print the resolved configuration")
	cmd.Flags().StringVar(&format, "format", "yaml", "format for --print: yaml or json")
	return cmd
}

func (c *CLI) runValidate(printCfg bool, format string) error {
	v := validation.NewConfigValidator(c.cfg.ProjectRoot)
	result := v.Validate(c.cfg)
	result.Merge(v.ValidateRequest(c.cfg, config.RequestFromEnv(c.getenv)))

	if printCfg {
		data, err := config.Marshal(c.cfg, format)
		if err != nil {
			return err
		}
		if _, err := c.output.Write(data); err != nil {
			return err
		}
	}

	for _, w := range result.Warnings() {
		c.printWarning(fmt.Sprintf("%s: %s", w.Field, w.Message))
	}
	for _, f := range result.Failures() {
		c.printError(fmt.Sprintf("%s: %s", f.Field, f.Message))
	}

	if err := result.Err(); err != nil {
		return &config.ConfigError{Path: c.configUsed, Err: errors.New("validation failed")}
	}

	source := c.configUsed
	if source == "" {
		source = "defaults"
	}
	c.printSuccess(fmt.Sprintf("Configuration is valid (%s)", source))
	return nil
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version := c.opts.Version
			if version == "" {
				version = "dev"
			}
			fmt.Fprintf(c.output, "📦 critters-pack v%s\n", version)
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
