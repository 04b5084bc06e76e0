// Package notification delivers alerts to external services through
// shoutrrr service URLs (ntfy, Telegram, Discord, SMTP and others).
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/liftmate/liftmate/internal/errors"
)

// DefaultTimeout bounds a single delivery when none is configured.
const DefaultTimeout = 30 * time.Second

// ShoutrrrProvider sends messages to every configured service URL.
type ShoutrrrProvider struct {
	name    string
	urls    []string
	timeout time.Duration
	sender  *router.ServiceRouter
}

// NewShoutrrrProvider parses urls and prepares a sender for them.
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("notification provider %q has no service URLs", name).
			Component("notification").
			Category(errors.CategoryConfig).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfig).
			Context("provider", name).
			Context("operation", "create_sender").
			Build()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ShoutrrrProvider{
		name:    name,
		urls:    append([]string(nil), urls...),
		timeout: timeout,
		sender:  sender,
	}, nil
}

// Name returns the provider name.
func (p *ShoutrrrProvider) Name() string {
	return p.name
}

// Services returns the URL schemes the provider delivers to.
func (p *ShoutrrrProvider) Services() []string {
	out := make([]string, 0, len(p.urls))
	for _, u := range p.urls {
		scheme, _, _ := strings.Cut(u, "://")
		out = append(out, scheme)
	}
	return out
}

// Send delivers message to all services. shoutrrr does not take a context,
// so the send runs in its own goroutine and is abandoned when ctx or the
// provider timeout ends first.
func (p *ShoutrrrProvider) Send(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := types.Params{}
	if title != "" {
		params["title"] = title
	}

	done := make(chan []error, 1)
	go func() {
		done <- p.sender.Send(message, &params)
	}()

	select {
	case errs := <-done:
		var failed []error
		for _, err := range errs {
			if err != nil {
				failed = append(failed, err)
			}
		}
		if len(failed) == 0 {
			return nil
		}
		return errors.New(errors.Join(failed...)).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", p.name).
			Context("failed", len(failed)).
			Build()
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", p.name).
			Context("operation", "send").
			Build()
	}
}
