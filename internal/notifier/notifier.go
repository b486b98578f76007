// Package notifier delivers account and project lifecycle email.
package notifier

import (
	"context"
	"fmt"
	"sync"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To        []string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Mailer is the interface for a mail delivery channel.
type Mailer interface {
	// Name returns the mailer name (e.g., "smtp", "log").
	Name() string
	// Send delivers the message.
	Send(ctx context.Context, msg *Message) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a message is dropped due to rate limiting.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher fans a message out to every registered mailer, subject to a
// shared rate limit.
type Dispatcher struct {
	mu          sync.RWMutex
	mailers     map[string]Mailer
	rateLimiter *RateLimiter
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with a custom rate limit.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		mailers:     make(map[string]Mailer),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a mailer to the dispatcher.
func (d *Dispatcher) Register(m Mailer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mailers[m.Name()] = m
}

// Unregister removes a mailer from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mailers, name)
}

// HasMailers reports whether any mailer is registered.
func (d *Dispatcher) HasMailers() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.mailers) > 0
}

// Get returns a mailer by name.
func (d *Dispatcher) Get(name string) (Mailer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.mailers[name]
	return m, ok
}

// Dispatch delivers the message through every registered mailer. Returns
// ErrRateLimited if the message was dropped by the rate limiter.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	if len(msg.To) == 0 {
		return nil
	}

	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		return ErrRateLimited
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error
	for name, m := range d.mailers {
		if err := m.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("delivery errors: %v", errs)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered mailers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, m := range d.mailers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.mailers = make(map[string]Mailer)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
