package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/logger"
)

// Publisher forwards lifecycle events to the broker as JSON.
type Publisher struct {
	client    Client
	baseTopic string
	log       logger.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a publisher writing below baseTopic.
func NewPublisher(client Client, baseTopic string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Default()
	}
	return &Publisher{
		client:    client,
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
		log:       log.With(logger.String("component", "mqtt")),
	}
}

// Topic returns the topic of an event kind.
func (p *Publisher) Topic(kind string) string {
	return p.baseTopic + "/lifecycle/" + kind
}

// HandleEvent is an events.Handler. It runs on the bus goroutine, so a slow
// broker delays other subscribers by at most the publish timeout.
func (p *Publisher) HandleEvent(event *events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("failed to encode lifecycle event", logger.String("kind", event.Kind), logger.Error(err))
		return
	}
	topic := p.Topic(event.Kind)
	if err := p.client.Publish(context.Background(), topic, payload); err != nil {
		p.failed.Add(1)
		p.log.Warn("failed to publish lifecycle event",
			logger.String("topic", topic),
			logger.Error(err))
		return
	}
	p.published.Add(1)
}

// Stats returns the number of published and failed events.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
