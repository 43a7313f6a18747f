package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tliron/commonlog"
)

// configName is the config file name without extension.
const configName = "lsp-typescript"

// envPrefix is the environment variable prefix.
const envPrefix = "LSP_TYPESCRIPT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Loader reads the configuration and keeps it current.
type Loader struct {
	v    *viper.Viper
	path string
	log  commonlog.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader. If configPath is non-empty it is used as the
// explicit config file; otherwise the file is searched in the working
// directory and the user config directory. A missing file is not an error.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
	}

	return &Loader{
		v:    v,
		path: configPath,
		log:  commonlog.GetLogger("lsp-typescript.config"),
	}
}

// Load loads configuration from file, env vars, and defaults.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// BindFlag lets a command-line flag override key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	readErr := l.v.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper folds keys to lower case; the server expects its option names
	// verbatim, so they are read from the file again.
	if file := l.v.ConfigFileUsed(); file != "" {
		opts, err := readInitializationOptions(file)
		if err != nil {
			return nil, err
		}
		if opts != nil {
			cfg.InitializationOptions = opts
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the configuration whenever the config file changes. A
// reload that fails validation keeps the previous configuration and is
// reported with a nil *Config. Without a config file Watch does nothing.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.log.Warningf("reload %s: %s", e.Name, err)
			onChange(nil, err)
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		l.log.Infof("reloaded %s", e.Name)
		onChange(cfg, nil)
	})
	l.v.WatchConfig()
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("command", "")
	v.SetDefault("storage_dir", defaultStorageDir())
	v.SetDefault("server_path", "")
	v.SetDefault("minimum_node_version", DefaultMinimumNodeVersion)

	v.SetDefault("settings.updateImportsOnFileMove", DefaultUpdateImports)
	v.SetDefault("settings.statusText", DefaultStatusText)
	v.SetDefault("settings.inlayHints", true)

	v.SetDefault("rename.debounce", DefaultDebounce)
	v.SetDefault("rename.patterns", DefaultPatterns)
	v.SetDefault("rename.ignores", DefaultIgnores)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.addr", "")
}
