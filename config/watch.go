package config

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	apperrors "github.com/leeforge/runtimekit/errors"
)

// startWatch watches BasePath and re-merges the ladder on changes. The
// directory is watched rather than the files so editor rename-and-replace
// saves keep triggering, and files added to the ladder later are picked up.
func (c *Loader) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindConfiguration, "create config watcher")
	}
	if err := watcher.Add(c.opts.BasePath); err != nil {
		watcher.Close()
		return apperrors.Wrap(err, apperrors.KindConfiguration, "watch "+c.opts.BasePath)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.watchDone = done
	c.mu.Unlock()

	go c.watchLoop(watcher, done)

	c.logger.Info("watching configuration", zap.String("path", c.opts.BasePath))
	return nil
}

func (c *Loader) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer watcher.Close()

	suffix := "." + c.opts.FileType
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, suffix) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.reload(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload re-merges the ladder and re-binds every bound target. A reload
// that fails leaves the previous configuration in place.
func (c *Loader) reload(event fsnotify.Event) {
	fresh, err := CreateViper(c.opts)
	if err != nil {
		c.logger.Warn("config reload failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.instance = fresh
	bindings := make([]binding, len(c.bindings))
	copy(bindings, c.bindings)
	for _, b := range bindings {
		if err := c.unmarshalLocked(b.key, b.target, b.defaults); err != nil {
			c.logger.Warn("config re-bind failed",
				zap.String("key", b.key), zap.Error(err))
		}
	}
	c.mu.Unlock()

	for _, b := range bindings {
		if v, ok := b.target.(Validator); ok {
			if err := v.Validate(); err != nil {
				c.logger.Warn("reloaded config failed validation",
					zap.String("key", b.key), zap.Error(err))
			}
		}
	}

	c.logger.Info("configuration reloaded", zap.String("file", filepath.Base(event.Name)))

	if onChange := c.opts.OnChange; onChange != nil {
		onChange(event)
	}
}

// Close stops the watcher. Loaders that never watched need no Close.
func (c *Loader) Close() error {
	c.mu.Lock()
	done := c.watchDone
	c.watchDone = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	return nil
}
