// Package notify holds the platform-send capabilities the reminder engine
// dispatches through: a registry of per-platform senders behind one shared
// outbound rate limit.
package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"remindbot/pkg/logx"
)

// Sender delivers a message body to a pre-normalized platform address.
type Sender interface {
	Send(ctx context.Context, address, body string) error
}

// UnknownPlatformError reports a destination platform no sender is
// registered for.
type UnknownPlatformError struct {
	Platform string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("no sender registered for platform %q", e.Platform)
}

// Registry routes sends by platform name. All platforms share one token
// bucket so a burst of due reminders cannot flood any provider.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func NewRegistry(ratePerSec int, log logx.Logger) *Registry {
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		senders: map[string]Sender{},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

func (r *Registry) Register(platform string, s Sender) {
	r.mu.Lock()
	r.senders[platform] = s
	r.mu.Unlock()
	r.log.Debug("sender registered", logx.String("platform", platform))
}

// SetRate adjusts the shared outbound limit (live config reload).
func (r *Registry) SetRate(perSec int) {
	if perSec <= 0 {
		return
	}
	r.limiter.SetLimit(rate.Limit(perSec))
	r.limiter.SetBurst(perSec)
}

func (r *Registry) Send(ctx context.Context, platform, address, body string) error {
	r.mu.RLock()
	s, ok := r.senders[platform]
	r.mu.RUnlock()
	if !ok {
		return &UnknownPlatformError{Platform: platform}
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.Send(ctx, address, body)
}
