package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/env_mode"
	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/utils"
)

// DefaultOptions returns the standard loader options: yaml files named
// "config" under CONFIG_PATH (or ./config), no watching.
func DefaultOptions() Options {
	basePath := os.Getenv("CONFIG_PATH")
	if basePath == "" {
		basePath = "config"
	}

	return Options{
		BasePath: basePath,
		FileName: "config",
		FileType: "yaml",
	}
}

// DevOptions returns DefaultOptions with file watching enabled.
func DevOptions() Options {
	opts := DefaultOptions()
	opts.Watch = true
	return opts
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BasePath == "" {
		o.BasePath = def.BasePath
	}
	if o.FileName == "" {
		o.FileName = def.FileName
	}
	if o.FileType == "" {
		o.FileType = def.FileType
	}
	if o.Logger == nil {
		o.Logger = logging.Global().Named("config").Zap()
	}
	return o
}

// New discovers and merges the configuration files selected by opts and
// returns a Loader over the result. It fails when no file matches.
func New(optsArr ...Options) (*Loader, error) {
	var opts Options
	if len(optsArr) > 0 {
		opts = optsArr[0]
	}
	opts = opts.withDefaults()

	instance, err := CreateViper(opts)
	if err != nil {
		return nil, err
	}

	return &Loader{
		instance: instance,
		opts:     opts,
		logger:   opts.Logger,
	}, nil
}

// Bind unmarshals the named section into target and remembers the pair so a
// watching loader can re-bind it on reload. An empty key binds the whole
// tree. Targets implementing Validator are validated after each bind.
func (c *Loader) Bind(key string, target any) error {
	return c.bind(key, target, false)
}

// BindWithDefaults seeds target from its default tags, binds it, then fills
// any fields the files left at their zero value.
func (c *Loader) BindWithDefaults(key string, target any) error {
	return c.bind(key, target, true)
}

func (c *Loader) bind(key string, target any, withDefaults bool) error {
	if c == nil || c.instance == nil {
		return apperrors.Configuration("config loader is not initialized")
	}
	if target == nil {
		return apperrors.Configuration("bind target is nil")
	}

	c.mu.Lock()
	if err := c.unmarshalLocked(key, target, withDefaults); err != nil {
		c.mu.Unlock()
		return err
	}
	c.bindings = append(c.bindings, binding{key: key, target: target, defaults: withDefaults})
	c.mu.Unlock()

	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	if c.opts.Watch {
		c.watchOnce.Do(func() {
			if err := c.startWatch(); err != nil {
				c.logger.Warn("config watch unavailable", zap.Error(err))
			}
		})
	}

	return nil
}

// unmarshalLocked requires c.mu held.
func (c *Loader) unmarshalLocked(key string, target any, withDefaults bool) error {
	if withDefaults {
		if err := defaults.Set(target); err != nil {
			return apperrors.Wrap(err, apperrors.KindConfiguration, "apply config defaults")
		}
	}

	var err error
	if key == "" {
		err = c.instance.Unmarshal(target)
	} else {
		err = c.instance.UnmarshalKey(key, target)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindConfiguration,
			fmt.Sprintf("unmarshal config section %q (path: %s, file: %s.%s)",
				key, c.opts.BasePath, c.opts.FileName, c.opts.FileType))
	}

	// Absent keys leave fields zeroed; a second pass fills those from the
	// default tags.
	if withDefaults {
		if err := defaults.Set(target); err != nil {
			return apperrors.Wrap(err, apperrors.KindConfiguration, "apply config defaults")
		}
	}

	return nil
}

// Export writes the merged configuration to path, creating directories as
// needed.
func (c *Loader) Export(path string) error {
	if path == "" {
		return apperrors.Configuration("export path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return apperrors.Wrap(err, apperrors.KindConfiguration, "create export directory "+dir)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.instance.WriteConfigAs(path); err != nil {
		return apperrors.Wrap(err, apperrors.KindConfiguration, "write config to "+path)
	}

	return nil
}

// Snapshot captures the merged configuration as a map and remembers it for
// Restore.
func (c *Loader) Snapshot() (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]any)
	if err := c.instance.Unmarshal(&snapshot); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfiguration, "snapshot config")
	}

	c.snapshot = snapshot
	return snapshot, nil
}

// Restore re-applies the last snapshot.
func (c *Loader) Restore() error {
	c.mu.RLock()
	snapshot := c.snapshot
	c.mu.RUnlock()

	if snapshot == nil {
		return apperrors.Configuration("no config snapshot to restore")
	}
	return c.RestoreFrom(snapshot)
}

// RestoreFrom overlays the given snapshot onto the merged configuration.
func (c *Loader) RestoreFrom(snapshot map[string]any) error {
	if snapshot == nil {
		return apperrors.Configuration("config snapshot is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range snapshot {
		c.instance.Set(k, v)
	}

	c.snapshot = snapshot
	return nil
}

// Get returns the raw value at key from the merged configuration.
func (c *Loader) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.instance.Get(key)
}

// Set overrides key in the merged configuration. Overrides survive reloads.
func (c *Loader) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.instance.Set(key, value)
}

// CreateViper discovers the configuration files selected by opts, merges
// them lowest-precedence first, and applies environment overrides on top.
func CreateViper(opts Options) (*viper.Viper, error) {
	configPaths := getConfigFilePaths(opts)
	if opts.LoadAll {
		configPaths = getAllConfigFilePaths(opts)
	}
	if len(configPaths) == 0 {
		return nil, apperrors.Configuration("no configuration files found in " + opts.BasePath).
			WithContext("basePath", opts.BasePath).
			WithContext("fileName", opts.FileName)
	}

	v := viper.New()
	v.SetConfigType(opts.FileType)

	for _, configPath := range configPaths {
		tempV := viper.New()
		tempV.SetConfigFile(configPath)
		if err := tempV.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindConfiguration, "read config file "+configPath)
		}

		for _, key := range tempV.AllKeys() {
			v.Set(key, tempV.Get(key))
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.AutomaticEnv()

	// Environment variables outrank file values.
	applyEnvOverrides(v, opts.EnvPrefix)

	return v, nil
}

// applyEnvOverrides overrides every known key that has a matching
// environment variable (database.host -> DATABASE_HOST).
func applyEnvOverrides(v *viper.Viper, envPrefix string) {
	replacer := strings.NewReplacer(".", "_", "-", "_")

	for _, key := range v.AllKeys() {
		envKey := strings.ToUpper(replacer.Replace(key))
		if envPrefix != "" {
			envKey = envPrefix + "_" + envKey
		}

		if envValue := os.Getenv(envKey); envValue != "" {
			v.Set(key, envValue)
		}
	}
}

// getConfigFilePaths returns the merge ladder for one base name: base,
// base.local, base.{env}, base.{env}.local, plus the spelled-out aliases of
// the current mode. Later entries override earlier ones.
func getConfigFilePaths(opts Options) (configFiles []string) {
	env := env_mode.Mode()
	fileNames := []string{
		opts.FileName,
		fmt.Sprintf("%s.local", opts.FileName),
		fmt.Sprintf("%s.%s", opts.FileName, env),
		fmt.Sprintf("%s.%s.local", opts.FileName, env),
	}

	switch env {
	case env_mode.DevMode:
		fileNames = append(fileNames, fmt.Sprintf("%s.dev", opts.FileName))
		fileNames = append(fileNames, fmt.Sprintf("%s.dev.local", opts.FileName))
	case env_mode.ProMode:
		fileNames = append(fileNames, fmt.Sprintf("%s.pro", opts.FileName))
		fileNames = append(fileNames, fmt.Sprintf("%s.pro.local", opts.FileName))
		fileNames = append(fileNames, fmt.Sprintf("%s.prod", opts.FileName))
		fileNames = append(fileNames, fmt.Sprintf("%s.prod.local", opts.FileName))
	case env_mode.TestMode:
		fileNames = append(fileNames, fmt.Sprintf("%s.testing", opts.FileName))
		fileNames = append(fileNames, fmt.Sprintf("%s.testing.local", opts.FileName))
	}

	for _, fileName := range fileNames {
		file := filepath.Join(opts.BasePath, fmt.Sprintf("%s.%s", fileName, opts.FileType))
		if isDir, exists, _ := utils.Exists(file); exists && !isDir {
			configFiles = append(configFiles, file)
		}
	}

	return configFiles
}

// getAllConfigFilePaths expands the ladder across every base name found
// under BasePath, with "config" merged first.
func getAllConfigFilePaths(opts Options) (configFiles []string) {
	baseNames := getConfigBaseNames(opts.BasePath, opts.FileType)
	if len(baseNames) == 0 {
		return nil
	}

	sort.Strings(baseNames)
	baseNames = moveConfigFirst(baseNames)
	seen := make(map[string]struct{}, len(baseNames))
	for _, baseName := range baseNames {
		tempOpts := opts
		tempOpts.FileName = baseName
		tempOpts.LoadAll = false
		for _, path := range getConfigFilePaths(tempOpts) {
			if _, exists := seen[path]; exists {
				continue
			}
			seen[path] = struct{}{}
			configFiles = append(configFiles, path)
		}
	}

	return configFiles
}

func getConfigBaseNames(basePath, fileType string) []string {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil
	}

	suffix := "." + fileType
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		base := strings.TrimSuffix(name, suffix)
		base = stripConfigSuffix(base)
		if base == "" {
			continue
		}
		seen[base] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

func stripConfigSuffix(name string) string {
	name = strings.TrimSuffix(name, ".local")
	return trimEnvSuffix(name)
}

func trimEnvSuffix(name string) string {
	envSuffixes := []string{
		".dev",
		".development",
		".pro",
		".prod",
		".production",
		".test",
		".testing",
	}
	for _, suffix := range envSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

func moveConfigFirst(names []string) []string {
	configIndex := -1
	for i, name := range names {
		if name == "config" {
			configIndex = i
			break
		}
	}

	if configIndex <= 0 {
		return names
	}

	out := make([]string, 0, len(names))
	out = append(out, "config")
	out = append(out, names[:configIndex]...)
	out = append(out, names[configIndex+1:]...)
	return out
}
