package gateway

import (
	"log/slog"

	"github.com/surfboard-io/surfboard/pkg/audit"
	"github.com/surfboard-io/surfboard/pkg/browser"
)

// Options holds the dependencies New consults. Anything left nil is
// built from the config.
type Options struct {
	Config   *Config
	Logger   *slog.Logger
	Factory  browser.Factory
	Recorder audit.Recorder
}

// Option configures the gateway.
type Option func(*Options)

// WithConfig sets the configuration. Required.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithFactory overrides the browser resource factory. Tests use this to
// run the full stack without launching real browsers.
func WithFactory(factory browser.Factory) Option {
	return func(o *Options) { o.Factory = factory }
}

// WithRecorder overrides the governance event recorder, bypassing the
// config-driven choice between the in-memory and Postgres recorders.
func WithRecorder(recorder audit.Recorder) Option {
	return func(o *Options) { o.Recorder = recorder }
}
