package config

import (
	"fmt"
	"time"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Scaling      ScalingConfig      `mapstructure:"scaling"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	API          APIConfig          `mapstructure:"api"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket"`
	Prometheus   PrometheusConfig   `mapstructure:"prometheus"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// DatabaseConfig describes the relational store queried by SQL metric
// sources. The database is optional; when disabled, query-sourced metrics
// fail collection and surface as warning alerts.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode,
	)
}

type MetricsConfig struct {
	AnomalyDetection bool          `mapstructure:"anomaly_detection"`
	DefaultInterval  time.Duration `mapstructure:"default_interval"`
	RegisterDefaults bool          `mapstructure:"register_defaults"`
}

type AlertingConfig struct {
	WebhookURL        string        `mapstructure:"webhook_url"`
	WebhookTimeout    time.Duration `mapstructure:"webhook_timeout"`
	WebhookMaxRetries uint64        `mapstructure:"webhook_max_retries"`
}

type ScalingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Executor         string        `mapstructure:"executor"`
	ScaleCommand     []string      `mapstructure:"scale_command"`
	ReplicasCommand  []string      `mapstructure:"replicas_command"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	PrometheusURL    string        `mapstructure:"prometheus_url"`
	RegisterDefaults bool          `mapstructure:"register_defaults"`
}

// CoordinationConfig gates the advisory lock taken around collection and
// evaluation cycles. Single-instance deployments leave it disabled.
type CoordinationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type RetentionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type APIConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

type WebSocketConfig struct {
	MaxConnections  int           `mapstructure:"max_connections"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
	ClientBuffer    int           `mapstructure:"client_buffer"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}
