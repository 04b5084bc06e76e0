package alerting

import (
	"time"

	"github.com/liftmate/liftmate/internal/events"
)

// DefaultRules returns the built-in alert rules used when none are
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "Offline cache install failed",
			Event:    events.KindInstallFailed,
			Title:    "LiftMate offline cache install failed",
			Message:  "Version {{version}} could not be installed and the previous version keeps serving: {{error}}",
			Cooldown: 10 * time.Minute,
		},
		{
			Name:     "Stale cache cleanup failed",
			Event:    events.KindNamespaceDeleteFailed,
			Title:    "LiftMate stale cache cleanup failed",
			Message:  "Namespace {{namespace}} could not be deleted after {{version}} activated: {{error}}",
			Cooldown: time.Hour,
		},
	}
}
