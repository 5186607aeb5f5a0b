package logging

import (
	"sync"
)

// Factory creates and manages named loggers that share one configuration
// and hook set.
type Factory struct {
	config  Config
	hooks   []Hook
	loggers sync.Map // map[string]Logger
}

// NewFactory creates a new Factory with the given config. Hooks are attached
// to every logger the factory hands out.
func NewFactory(config Config, hooks ...Hook) *Factory {
	config.applyDefaults()
	return &Factory{
		config: config,
		hooks:  hooks,
	}
}

// GetLogger returns a named logger, creating it if necessary.
func (f *Factory) GetLogger(name string) Logger {
	if v, ok := f.loggers.Load(name); ok {
		return v.(Logger)
	}

	logger := NewLogger(f.config, f.hooks...).Named(name)
	actual, loaded := f.loggers.LoadOrStore(name, logger)
	if loaded {
		return actual.(Logger)
	}
	return logger
}

// Config returns a copy of the factory's configuration.
func (f *Factory) Config() Config {
	return f.config
}
