package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Validator is implemented by configuration types that check themselves
// after binding.
type Validator interface {
	Validate() error
}

// Loader discovers, merges, and binds configuration files. Safe for
// concurrent use once constructed.
type Loader struct {
	instance *viper.Viper
	opts     Options
	logger   *zap.Logger

	mu       sync.RWMutex
	bindings []binding
	snapshot map[string]any

	watchOnce sync.Once
	watchDone chan struct{}
}

// binding is a bound target, re-unmarshalled on every watch reload.
type binding struct {
	key      string
	target   any
	defaults bool
}

// Options configures a Loader.
type Options struct {
	// BasePath is the directory scanned for configuration files. Defaults
	// to the CONFIG_PATH environment variable, then "config".
	BasePath string

	// FileName is the base file name without extension.
	FileName string

	// FileType is the file extension and viper config type.
	FileType string

	// EnvPrefix namespaces environment overrides (PREFIX_SECTION_KEY).
	EnvPrefix string

	// Watch re-reads and re-binds bound targets when a merged file changes.
	Watch bool

	// OnChange runs after each successful reload.
	OnChange func(e fsnotify.Event)

	// LoadAll merges every base name found under BasePath instead of just
	// FileName.
	LoadAll bool

	// Logger receives load and watch diagnostics. Defaults to the global
	// logger.
	Logger *zap.Logger
}
