package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// component pairs a start and stop function under one name so start
// failures and rollbacks can say which piece of the server they concern.
type component struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle starts components in registration order and stops them in
// reverse. A failed start stops the components already started before
// returning, so a half-started server never serves traffic.
type Lifecycle struct {
	mu         sync.Mutex
	components []component
	started    bool
	logger     *slog.Logger
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{logger: logger}
}

// Register adds a named component. Either function may be nil when the
// component has nothing to do in that phase.
func (l *Lifecycle) Register(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.components = append(l.components, component{name: name, start: start, stop: stop})
}

// RegisterCloser adds a component that only needs teardown.
func (l *Lifecycle) RegisterCloser(name string, close func() error) {
	l.Register(name, nil, func(context.Context) error { return close() })
}

// Start runs every component's start function in registration order.
// When one fails, the components already started are stopped again in
// reverse order and the start failure is returned.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("lifecycle already started")
	}

	for i, c := range l.components {
		if c.start == nil {
			continue
		}
		if err := c.start(ctx); err != nil {
			l.rollback(ctx, i)
			return fmt.Errorf("starting %s: %w", c.name, err)
		}
	}

	l.started = true
	return nil
}

// rollback stops components[0:failed] in reverse order. Stop errors
// during rollback are logged rather than returned; the start failure is
// the error the caller needs to see.
func (l *Lifecycle) rollback(ctx context.Context, failed int) {
	for i := failed - 1; i >= 0; i-- {
		c := l.components[i]
		if c.stop == nil {
			continue
		}
		if err := c.stop(ctx); err != nil {
			l.logger.Warn("lifecycle: rollback stop failed",
				"component", c.name,
				"error", err)
		}
	}
}

// Stop runs every component's stop function in reverse registration
// order. Every stop runs even when earlier ones fail; the failures are
// joined into the returned error. Stopping a lifecycle that is not
// started is a no-op.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	var errs []error
	for i := len(l.components) - 1; i >= 0; i-- {
		c := l.components[i]
		if c.stop == nil {
			continue
		}
		if err := c.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", c.name, err))
		}
	}

	l.started = false
	return errors.Join(errs...)
}

// Started reports whether Start completed and Stop has not run since.
func (l *Lifecycle) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}
