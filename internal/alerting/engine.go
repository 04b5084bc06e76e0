package alerting

import (
	"sync"
	"time"

	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/logger"
)

// ActionFunc is called when a rule fires. Receives the rule and triggering event.
type ActionFunc func(rule *Rule, event *events.Event)

// Engine evaluates lifecycle events against configured rules. Its HandleEvent
// method subscribes to an events.Bus.
type Engine struct {
	rules      []Rule
	actionFunc ActionFunc
	log        logger.Logger
	now        func() time.Time

	// Cooldown tracking (in-memory, resets on restart), keyed by rule index.
	cooldowns   map[int]time.Time
	cooldownsMu sync.Mutex
}

// NewEngine creates a rules engine. Rules are evaluated in order and every
// matching rule fires.
func NewEngine(rules []Rule, actionFunc ActionFunc, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		rules:      append([]Rule(nil), rules...),
		actionFunc: actionFunc,
		log:        log.With(logger.String("component", "alerting")),
		now:        time.Now,
		cooldowns:  make(map[int]time.Time),
	}
}

// Rules returns the configured rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// HandleEvent evaluates an event against all rules.
func (e *Engine) HandleEvent(event *events.Event) {
	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Event != event.Kind || !EvaluateConditions(rule.Conditions, event.Properties) {
			continue
		}
		if !e.claimCooldown(i, rule.Cooldown) {
			e.log.Debug("alert rule in cooldown",
				logger.String("rule", rule.Name),
				logger.String("kind", event.Kind))
			continue
		}
		e.log.Info("alert rule fired",
			logger.String("rule", rule.Name),
			logger.String("kind", event.Kind),
			logger.String("version", event.Version))
		if e.actionFunc != nil {
			e.actionFunc(rule, event)
		}
	}
}

// claimCooldown records a firing of rule idx and reports whether it was
// allowed by the rule's cooldown.
func (e *Engine) claimCooldown(idx int, cooldown time.Duration) bool {
	now := e.now()
	e.cooldownsMu.Lock()
	defer e.cooldownsMu.Unlock()
	if last, ok := e.cooldowns[idx]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false
	}
	e.cooldowns[idx] = now
	return true
}
