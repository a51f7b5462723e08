// Package notifier sends desktop notifications when a watch-mode run finishes
package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/types"
)

const appName = "critters-pack"

// SendFunc delivers one notification; beeep.Notify satisfies it
type SendFunc func(title, message, icon string) error

// RunNotifier reports pipeline outcomes on the desktop
type RunNotifier struct {
	enabled bool
	send    SendFunc
	logger  logger.Logger
}

// New creates a notifier. A nil send uses beeep.
func New(cfg types.NotificationConfig, send SendFunc, log logger.Logger) *RunNotifier {
	if send == nil {
		send = beeep.Notify
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RunNotifier{enabled: cfg.Enabled, send: send, logger: log}
}

// Enabled reports whether notifications are sent
func (n *RunNotifier) Enabled() bool { return n.enabled }

// NotifySuccess reports a finished bundle
func (n *RunNotifier) NotifySuccess(platformTag string, duration time.Duration) {
	n.notify("✅ Bundle ready", fmt.Sprintf("%s packed in %s", platformTag, FormatDuration(duration)))
}

// NotifyFailure reports the stage that failed and its error. Only the first
// line of the error is shown.
func (n *RunNotifier) NotifyFailure(platformTag string, failed types.PipelineState, err error) {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	n.notify("❌ Build failed", fmt.Sprintf("%s (%s): %s", platformTag, failed, msg))
}

func (n *RunNotifier) notify(title, message string) {
	if !n.enabled {
		return
	}
	if err := n.send(appName+": "+title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}

// FormatDuration renders d the way run summaries show it
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
