package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/nmt-proxy/")
	v.AddConfigPath("$HOME/.nmt-proxy/")

	// NMT_SERVER_PORT overrides server.port, and so on
	v.SetEnvPrefix("NMT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// a configured model list replaces the stock table instead of merging into it
	if v.IsSet("models") {
		config.Models = nil
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	active = v
	return config, nil
}

// active is the viper instance behind the last successful Load, used by Watch.
var active *viper.Viper

// bindEnv registers the scalar keys so AutomaticEnv can see them even when
// no config file mentions them.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.api_prefix", "server.enable_cors", "server.debug",
		"logging.level", "logging.format",
		"refresh.enabled", "refresh.interval", "refresh.watch",
		"cache.enabled", "cache.redis_url",
		"audit.enabled", "audit.database_url",
		"rate_limit.enabled", "rate_limit.requests_per_min",
		"queue.url",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.APIPrefix != "" && !strings.HasPrefix(config.Server.APIPrefix, "/") {
		return fmt.Errorf("invalid api prefix: %q (must start with /)", config.Server.APIPrefix)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	seen := make(map[int]bool, len(config.Models))
	for _, m := range config.Models {
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id: %d", m.ID)
		}
		seen[m.ID] = true

		if m.SourceLang == "" || m.TargetLang == "" {
			return fmt.Errorf("model %d: source_lang and target_lang are required", m.ID)
		}
		if m.Mode != "simple" && m.Mode != "constrained" {
			return fmt.Errorf("model %d: invalid mode %q (must be simple or constrained)", m.ID, m.Mode)
		}
		switch m.Backend {
		case "http":
			if m.Endpoint == "" {
				return fmt.Errorf("model %d: endpoint is required for http backend", m.ID)
			}
		case "onnx":
			if m.ModelDir == "" {
				return fmt.Errorf("model %d: model_dir is required for onnx backend", m.ID)
			}
		case "lambda":
			if m.Function == "" {
				return fmt.Errorf("model %d: function is required for lambda backend", m.ID)
			}
		default:
			return fmt.Errorf("model %d: invalid backend %q (must be http, onnx or lambda)", m.ID, m.Backend)
		}
	}

	if config.Refresh.Enabled && config.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive when refresh is enabled")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("rate_limit.requests_per_min must be positive")
	}

	if config.Queue.Prefetch < 0 {
		return fmt.Errorf("queue.prefetch must not be negative")
	}

	return nil
}

// Watch starts watching the configuration file for changes. The callback
// only sees configurations that pass validation.
func Watch(callback func(*Config)) error {
	if active == nil {
		return fmt.Errorf("config not loaded")
	}
	if active.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v := active
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if v.IsSet("models") {
			newConfig.Models = nil
		}
		if err := v.Unmarshal(newConfig); err != nil {
			return
		}
		if err := validateConfig(newConfig); err != nil {
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
