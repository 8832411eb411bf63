package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultMaxUploadBytes 单个附件默认上限 (10 MiB)
const DefaultMaxUploadBytes int64 = 10 << 20

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// 配置文件不存在，使用默认值和环境变量
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults 返回只包含默认值的配置，不读取文件和环境变量
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		return &Config{}
	}
	return cfg
}

// Watch 监听配置文件变化，变更且校验通过后回调 onChange。
// 没有找到配置文件时返回 false。
func Watch(configPath string, onChange func(*Config)) (bool, error) {
	v, err := newViper(configPath)
	if err != nil {
		return false, err
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			return
		}
		if err := Validate(cfg); err != nil {
			return
		}
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return true, nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认配置文件搜索路径（按优先级）
		home, err := ResolveUserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		// 1) 当前工作目录下 .tracker/config.json
		v.AddConfigPath(filepath.Join(".", ".tracker"))
		// 2) 当前工作目录 ./config.json
		v.AddConfigPath(".")
		// 3) 用户目录 ~/.tracker/config.json
		v.AddConfigPath(filepath.Join(home, ".tracker"))
		v.SetConfigName("config")
		v.SetConfigType("json")
	}

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Gateway 默认配置
	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 8080)
	// Use time.Duration defaults; plain integers would become nanoseconds when unmarshaled.
	v.SetDefault("gateway.read_timeout", 30*time.Second)
	v.SetDefault("gateway.write_timeout", 60*time.Second)
	v.SetDefault("gateway.websocket.enabled", true)
	v.SetDefault("gateway.websocket.path", "/ws")
	v.SetDefault("gateway.websocket.ping_interval", 30*time.Second)
	v.SetDefault("gateway.websocket.pong_timeout", 60*time.Second)
	v.SetDefault("gateway.websocket.max_message_size", 1<<20)

	// 存储默认配置
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.public_prefix", "/storage/tasks")
	v.SetDefault("storage.max_upload_bytes", DefaultMaxUploadBytes)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 30)
	v.SetDefault("log.max_age_days", 90)
}

// Save 保存配置到文件
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate 验证配置
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateGateway(cfg); err != nil {
		return fmt.Errorf("gateway config invalid: %w", err)
	}

	if err := validateStorage(cfg); err != nil {
		return fmt.Errorf("storage config invalid: %w", err)
	}

	if err := validateLog(cfg); err != nil {
		return fmt.Errorf("log config invalid: %w", err)
	}

	return nil
}

// validateGateway 验证网关配置
func validateGateway(cfg *Config) error {
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535")
	}

	if cfg.Gateway.ReadTimeout <= 0 {
		return fmt.Errorf("gateway read_timeout must be positive")
	}

	if cfg.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway write_timeout must be positive")
	}

	ws := cfg.Gateway.WebSocket
	if ws.Enabled {
		if !strings.HasPrefix(ws.Path, "/") {
			return fmt.Errorf("websocket path must start with '/'")
		}
		if ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
			return fmt.Errorf("websocket ping_interval and pong_timeout must be positive")
		}
		if ws.PongTimeout < ws.PingInterval {
			return fmt.Errorf("websocket pong_timeout must not be shorter than ping_interval")
		}
		if ws.MaxMessageSize <= 0 {
			return fmt.Errorf("websocket max_message_size must be positive")
		}
	}

	return nil
}

// validateStorage 验证存储配置
func validateStorage(cfg *Config) error {
	if strings.TrimSpace(cfg.Storage.DataDir) == "" && (strings.TrimSpace(cfg.Storage.DBPath) == "" || strings.TrimSpace(cfg.Storage.AttachmentsDir) == "") {
		return fmt.Errorf("data_dir is required unless db_path and attachments_dir are both set")
	}

	if !strings.HasPrefix(cfg.Storage.PublicPrefix, "/") {
		return fmt.Errorf("public_prefix must start with '/'")
	}
	if strings.HasSuffix(cfg.Storage.PublicPrefix, "/") {
		return fmt.Errorf("public_prefix must not end with '/'")
	}

	if cfg.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	return nil
}

// validateLog 验证日志配置
func validateLog(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", cfg.Log.Level)
	}

	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive when file logging is enabled")
	}

	return nil
}
