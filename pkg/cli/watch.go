package cli

import (
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/critters-rs/critters-pack/internal/safegroup"
	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/notifier"
	"github.com/critters-rs/critters-pack/pkg/pipeline"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/watch"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	flags := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild whenever the crate changes",
		Long: `Run the pipeline once, then again whenever a watched file changes.
Changes made while a run is in progress queue a single follow-up run. Edits
to the config file take effect from the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) runWatch(cmd *cobra.Command, flags *buildFlags) error {
	if err := flags.apply(c.cfg); err != nil {
		return err
	}
	req := flags.request(c.getenv)
	if err := c.validate(c.cfg, req); err != nil {
		return err
	}

	ctx, stop := c.signalContext(cmd.Context())
	defer stop()

	log := c.logger.WithStage("watch")
	notify := notifier.New(c.cfg.Notifications, c.notify, log)
	tag, _ := req.PlatformTag()

	w, err := watch.New(watch.Options{
		Root:     resolve(c.cfg, c.cfg.Paths.Crate),
		Paths:    c.cfg.Watch.Paths,
		Debounce: c.cfg.Watch.Debounce(),
	}, c.newOrchestrator(c.cfg), log, func(res *pipeline.Result, err error) {
		if err != nil {
			failed, _ := pipeline.FailedStage(err)
			notify.NotifyFailure(tag, failed, err)
			return
		}
		notify.NotifySuccess(tag, res.Duration)
	})
	if err != nil {
		return &config.ConfigError{Path: c.configUsed, Err: err}
	}

	c.printInfo("Watching for changes. Press Ctrl+C to stop.")

	g, gctx := safegroup.New(ctx, c.logger)
	if c.configUsed != "" {
		reloader := config.NewReloader(c.cfg.ProjectRoot, c.configUsed, log, c.onReload(w, flags, req))
		g.Go("config-reloader", func() error { return reloader.Run(gctx) })
	}
	g.Go("watcher", func() error { return w.Run(gctx, req) })

	err = g.Wait()
	if err == nil || errors.Is(err, ctx.Err()) {
		c.printInfo("Stopped watching")
		return nil
	}
	return err
}

// onReload swaps the watcher's orchestrator for one built from the reloaded
// configuration and schedules a run. Invalid configurations are reported and
// the previous one stays in effect.
func (c *CLI) onReload(w *watch.Watcher, flags *buildFlags, req types.BuildRequest) config.ReloadFunc {
	return func(ev config.ReloadEvent) {
		if ev.Err != nil {
			c.logger.Warn("Keeping previous configuration", logger.WithField("error", ev.Err))
			return
		}

		cfg := ev.Config
		config.ApplyLegacyEnv(cfg, c.getenv)
		if c.opts.Verbosity != "" {
			cfg.Logging.Level = types.LogLevel(c.opts.Verbosity)
		}
		if err := flags.apply(cfg); err != nil {
			c.logger.Warn("Keeping previous configuration", logger.WithField("error", err))
			return
		}
		if err := c.validate(cfg, req); err != nil {
			c.logger.Warn("Keeping previous configuration", logger.WithField("error", err))
			return
		}
		if !slices.Equal(cfg.Watch.Paths, c.cfg.Watch.Paths) {
			c.logger.Warn("Watch path changes take effect after a restart")
		}

		c.cfg = cfg
		w.SetRunner(c.newOrchestrator(cfg))
		w.Trigger()
	}
}
