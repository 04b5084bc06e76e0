package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/logger"
)

// defaultSendTimeout bounds delivery of a single alert.
const defaultSendTimeout = 30 * time.Second

// Sender delivers an alert to external targets.
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

// ActionDispatcher renders fired rules and hands them to a Sender.
type ActionDispatcher struct {
	sender  Sender
	timeout time.Duration
	log     logger.Logger
}

// NewActionDispatcher creates a new ActionDispatcher.
func NewActionDispatcher(sender Sender, log logger.Logger) *ActionDispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &ActionDispatcher{
		sender:  sender,
		timeout: defaultSendTimeout,
		log:     log.With(logger.String("component", "alerting")),
	}
}

// Dispatch is the ActionFunc called by the engine when a rule fires.
func (d *ActionDispatcher) Dispatch(rule *Rule, event *events.Event) {
	if d.sender == nil {
		return
	}
	title := renderTemplate(rule.Title, rule, event)
	if title == "" {
		title = defaultTitle(rule, event)
	}
	message := renderTemplate(rule.Message, rule, event)
	if message == "" {
		message = defaultMessage(event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, title, message); err != nil {
		d.log.Error("failed to send alert",
			logger.String("rule", rule.Name),
			logger.Error(err))
	}
}

// renderTemplate substitutes {{rule_name}}, {{event_name}}, {{version}} and
// {{<property>}} in tmpl.
func renderTemplate(tmpl string, rule *Rule, event *events.Event) string {
	if tmpl == "" {
		return ""
	}
	pairs := []string{
		"{{rule_name}}", rule.Name,
		"{{event_name}}", event.Kind,
		"{{version}}", event.Version,
	}
	for k, v := range event.Properties {
		pairs = append(pairs, fmt.Sprintf("{{%s}}", k), fmt.Sprintf("%v", v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func defaultTitle(rule *Rule, event *events.Event) string {
	if rule.Name != "" {
		return fmt.Sprintf("LiftMate: %s", rule.Name)
	}
	return fmt.Sprintf("LiftMate: %s", event.Kind)
}

func defaultMessage(event *events.Event) string {
	msg := fmt.Sprintf("Offline cache %s reported %s", event.Version, event.Kind)
	if cause, ok := event.Properties[events.PropertyError]; ok {
		msg += fmt.Sprintf(": %v", cause)
	}
	return msg
}
