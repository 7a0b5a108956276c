package cue

import (
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/alfredjeanlab/lastplay/internal/engine"
)

// DesktopNotifier shows notices as desktop notifications.
type DesktopNotifier struct {
	app    string
	logger *slog.Logger
	notify func(title, message, icon string) error
}

// NewDesktopNotifier titles notifications with app.
func NewDesktopNotifier(app string, logger *slog.Logger) *DesktopNotifier {
	return &DesktopNotifier{app: app, logger: logger, notify: beeepNotify}
}

func beeepNotify(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

// Notify implements engine.Notifier. The notification is shown from a
// goroutine; platform notifiers can take a while to return.
func (n *DesktopNotifier) Notify(x engine.Notice) {
	title := n.app + ": " + x.Title
	go func() {
		if err := n.notify(title, x.Message, ""); err != nil {
			n.logger.Debug("desktop notification failed", "err", err)
		}
	}()
}
