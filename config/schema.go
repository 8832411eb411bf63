package config

import (
	"time"
)

// Config 是主配置结构
type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway"`
	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
	Roadmap RoadmapConfig `mapstructure:"roadmap" json:"roadmap"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host         string          `mapstructure:"host" json:"host"`
	Port         int             `mapstructure:"port" json:"port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout" json:"write_timeout"`
	WebSocket    WebSocketConfig `mapstructure:"websocket" json:"websocket"`
}

// WebSocketConfig JSON-RPC over WebSocket 配置
type WebSocketConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	Path           string        `mapstructure:"path" json:"path"`
	PingInterval   time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout" json:"pong_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size" json:"max_message_size"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	// DataDir holds tracker.db and the attachments tree unless overridden below.
	DataDir        string `mapstructure:"data_dir" json:"data_dir"`
	DBPath         string `mapstructure:"db_path" json:"db_path"`
	AttachmentsDir string `mapstructure:"attachments_dir" json:"attachments_dir"`
	PublicPrefix   string `mapstructure:"public_prefix" json:"public_prefix"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
	File        string `mapstructure:"file" json:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" json:"max_age_days"`
}

// RoadmapConfig 路线图导入配置
type RoadmapConfig struct {
	SeedFile string `mapstructure:"seed_file" json:"seed_file"`
}
