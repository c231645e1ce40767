package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Auth    AuthConfig     `mapstructure:"auth"`
	HMAC    HMACConfig     `mapstructure:"hmac"`
	Audit   AuditConfig    `mapstructure:"audit"`
	Edge    EdgeConfig     `mapstructure:"edge"`
	Redis   RedisConfig    `mapstructure:"redis"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Tenants []TenantConfig `mapstructure:"tenants"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Mode     string `mapstructure:"mode"` // production | staging | development
	ReadOnly bool   `mapstructure:"read_only"`
}

// IsProduction gates the HMAC dev bypass: the bypass flag is honored only
// when this returns false.
func (s ServerConfig) IsProduction() bool {
	return s.Mode == "" || s.Mode == "production"
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminKey      string `mapstructure:"admin_key"`
}

type HMACConfig struct {
	// Secret 为空时验签降级为直接放行 (启动时告警)
	Secret             string `mapstructure:"secret"`
	SignatureHeader    string `mapstructure:"signature_header"`
	TimestampHeader    string `mapstructure:"timestamp_header"`
	RequireTimestamp   bool   `mapstructure:"require_timestamp"`
	TimestampTolerance int    `mapstructure:"timestamp_tolerance"` // seconds
	Algorithm          string `mapstructure:"algorithm"`           // sha256 | sha512
	AllowDevBypass     bool   `mapstructure:"allow_dev_bypass"`
}

type AuditConfig struct {
	BatchSize      int      `mapstructure:"batch_size"`
	BatchInterval  int      `mapstructure:"batch_interval_seconds"`
	MaxRetries     int      `mapstructure:"max_retries"`
	BackoffBase    int      `mapstructure:"backoff_base_ms"`
	BackoffMax     int      `mapstructure:"backoff_max_ms"`
	PostgresDSN    string   `mapstructure:"postgres_dsn"`
	RetentionDays  int      `mapstructure:"retention_days"`
	SensitiveKeys  []string `mapstructure:"sensitive_keys"`
	MaxBodyCapture int      `mapstructure:"max_body_capture"`
}

func (a AuditConfig) Interval() time.Duration {
	return time.Duration(a.BatchInterval) * time.Second
}

type EdgeConfig struct {
	// BaseURL 为空时审计后端整体降级为 no-op 模式
	BaseURL        string `mapstructure:"base_url"`
	ServiceRoleKey string `mapstructure:"service_role_key"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	DeadLetterKey string `mapstructure:"dead_letter_key"`
	DeadLetterMax int    `mapstructure:"dead_letter_max"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TenantConfig struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	APIKey           string   `mapstructure:"api_key"`
	AllowedFunctions []string `mapstructure:"allowed_functions"`
	Environment      string   `mapstructure:"environment"`
	QPS              float64  `mapstructure:"qps"`
	Burst            int      `mapstructure:"burst"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. EDGEGATE_HMAC_SECRET, EDGEGATE_EDGE_BASE_URL
	viper.SetEnvPrefix("edgegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "production")
	viper.SetDefault("auth.require_api_key", true)
	viper.SetDefault("hmac.signature_header", "x-signature")
	viper.SetDefault("hmac.timestamp_header", "x-timestamp")
	viper.SetDefault("hmac.require_timestamp", true)
	viper.SetDefault("hmac.timestamp_tolerance", 300)
	viper.SetDefault("hmac.algorithm", "sha256")
	viper.SetDefault("audit.batch_size", 100)
	viper.SetDefault("audit.batch_interval_seconds", 5)
	viper.SetDefault("audit.max_retries", 5)
	viper.SetDefault("audit.backoff_base_ms", 500)
	viper.SetDefault("audit.backoff_max_ms", 30000)
	viper.SetDefault("audit.retention_days", 30)
	viper.SetDefault("audit.max_body_capture", 16384)
	viper.SetDefault("audit.sensitive_keys", []string{
		"password", "token", "secret", "apikey", "api_key",
		"authorization", "refresh_token", "access_token",
		"private_key", "service_role_key", "credit_card", "ssn",
	})
	viper.SetDefault("edge.timeout_ms", 10000)
	viper.SetDefault("redis.dead_letter_key", "audit:dead_letter")
	viper.SetDefault("redis.dead_letter_max", 10000)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
