package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"trainhub/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Booking       BookingConfig      `yaml:"booking"`
	Notifications NotificationConfig `yaml:"notifications"`
	AMQP          AMQPConfig         `yaml:"amqp"`
	Google        GoogleConfig       `yaml:"google"`
}

type BookingConfig struct {
	ConflictBufferMinutes  int     `yaml:"conflict_buffer_minutes"`
	SlotMinutes            int     `yaml:"slot_minutes"`
	DefaultDurationMinutes int     `yaml:"default_duration_minutes"`
	DefaultHourlyRate      float64 `yaml:"default_hourly_rate"`
	Currency               string  `yaml:"currency"`
	MaxBookingDays         int     `yaml:"max_booking_days"`
	EnforceSessionDetails  bool    `yaml:"enforce_session_details"`
	IdempotencyTTL         int     `yaml:"idempotency_ttl"` // seconds
	CreateQuota            int     `yaml:"create_quota"`
	CreateQuotaWindow      int     `yaml:"create_quota_window"` // seconds
}

type NotificationConfig struct {
	Enabled       bool        `yaml:"enabled"`
	TelegramToken string      `yaml:"telegram_token"`
	Retry         RetryConfig `yaml:"retry"`
	Channels      []string    `yaml:"channels"`
}

type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries"`
	InitialDelay  string  `yaml:"initial_delay"`
	MaxDelay      string  `yaml:"max_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	JWT       JWTConfig          `yaml:"jwt"`
	CORS      CORSConfig         `yaml:"cors"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// APIAuthConfig guards service-to-service endpoints (admin routes, gRPC).
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// JWTConfig verifies the bearer tokens that identify the acting user.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.API.HTTP.Enabled && strings.TrimSpace(c.API.JWT.Secret) == "" {
		return errors.New("api.jwt.secret is required when the HTTP API is enabled")
	}

	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return errors.New("amqp.url is required when amqp is enabled")
	}

	return ValidateBooking(c.Booking)
}

func ValidateBooking(b BookingConfig) error {
	if b.ConflictBufferMinutes < 0 {
		return fmt.Errorf("booking.conflict_buffer_minutes must not be negative, got %d", b.ConflictBufferMinutes)
	}
	if b.SlotMinutes <= 0 || b.SlotMinutes > 24*60 {
		return fmt.Errorf("booking.slot_minutes must be within 1..1440, got %d", b.SlotMinutes)
	}
	if b.DefaultDurationMinutes <= 0 {
		return fmt.Errorf("booking.default_duration_minutes must be positive, got %d", b.DefaultDurationMinutes)
	}
	if b.DefaultHourlyRate <= 0 {
		return fmt.Errorf("booking.default_hourly_rate must be positive, got %v", b.DefaultHourlyRate)
	}
	return nil
}

// ParseDuration reads a Go duration string, falling back to def when empty
// or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "trainhub"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.JWT.Issuer == "" {
		c.API.JWT.Issuer = c.App.Name
	}

	// Booking defaults
	if c.Booking.ConflictBufferMinutes == 0 {
		c.Booking.ConflictBufferMinutes = models.DefaultConflictBufferMinutes
	}
	if c.Booking.SlotMinutes == 0 {
		c.Booking.SlotMinutes = models.DefaultSlotMinutes
	}
	if c.Booking.DefaultDurationMinutes == 0 {
		c.Booking.DefaultDurationMinutes = models.DefaultDurationMinutes
	}
	if c.Booking.DefaultHourlyRate == 0 {
		c.Booking.DefaultHourlyRate = models.DefaultHourlyRate
	}
	if c.Booking.Currency == "" {
		c.Booking.Currency = models.DefaultCurrency
	}
	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if c.Booking.IdempotencyTTL == 0 {
		c.Booking.IdempotencyTTL = models.DefaultIdempotencyTTL
	}
	if c.Booking.CreateQuota == 0 {
		c.Booking.CreateQuota = models.CreateQuotaRequests
	}
	if c.Booking.CreateQuotaWindow == 0 {
		c.Booking.CreateQuotaWindow = models.CreateQuotaWindow
	}

	if c.Notifications.Retry.MaxRetries == 0 {
		c.Notifications.Retry.MaxRetries = 5
	}
	if len(c.Notifications.Channels) == 0 {
		c.Notifications.Channels = []string{"log"}
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "trainhub.bookings"
	}
}
