package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the NOC engine service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	OTP           OTPConfig           `mapstructure:"otp"`
	Certificates  CertificatesConfig  `mapstructure:"certificates"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration for the OTP store
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	ApplicationSubmitted     string `mapstructure:"application_submitted"`
	ApplicationStatusChanged string `mapstructure:"application_status_changed"`
	CertificateIssued        string `mapstructure:"certificate_issued"`
	NotificationSent         string `mapstructure:"notification_sent"`
}

// LedgerConfig contains ledger engine configuration
type LedgerConfig struct {
	DataFile            string `mapstructure:"data_file"`
	Difficulty          int    `mapstructure:"difficulty"`
	MaxMiningIterations int64  `mapstructure:"max_mining_iterations"`
}

// OTPConfig contains one-time password configuration
type OTPConfig struct {
	Length          int           `mapstructure:"length"`
	Validity        time.Duration `mapstructure:"validity"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MessageTemplate string        `mapstructure:"message_template"`
}

// CertificatesConfig contains certificate issuance configuration
type CertificatesConfig struct {
	ValidityDays     int           `mapstructure:"validity_days"`
	IssuingAuthority string        `mapstructure:"issuing_authority"`
	VerifyCacheTTL   time.Duration `mapstructure:"verify_cache_ttl"`
}

// NotificationsConfig contains notification configuration
type NotificationsConfig struct {
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
}

// EmailConfig contains email notification configuration
type EmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"` // sendgrid, smtp
	SendGridAPIKey  string        `mapstructure:"sendgrid_api_key"`
	SMTPHost        string        `mapstructure:"smtp_host"`
	SMTPPort        int           `mapstructure:"smtp_port"`
	SMTPUsername    string        `mapstructure:"smtp_username"`
	SMTPPassword    string        `mapstructure:"smtp_password"`
	FromAddress     string        `mapstructure:"from_address"`
	FromName        string        `mapstructure:"from_name"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS notification configuration. Providers are tried in
// the order listed in Providers until one succeeds.
type SMSConfig struct {
	Enabled           bool            `mapstructure:"enabled"`
	Providers         []string        `mapstructure:"providers"` // twilio, msg91, fast2sms, textlocal
	DefaultCountry    string          `mapstructure:"default_country"`
	FallbackToConsole bool            `mapstructure:"fallback_to_console"`
	Twilio            TwilioConfig    `mapstructure:"twilio"`
	MSG91             MSG91Config     `mapstructure:"msg91"`
	Fast2SMS          Fast2SMSConfig  `mapstructure:"fast2sms"`
	TextLocal         TextLocalConfig `mapstructure:"textlocal"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	RateLimitPerMin   int             `mapstructure:"rate_limit_per_min"`
}

// TwilioConfig contains Twilio SMS provider configuration
type TwilioConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

// MSG91Config contains MSG91 SMS provider configuration
type MSG91Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	AuthKey  string `mapstructure:"auth_key"`
	SenderID string `mapstructure:"sender_id"`
	Route    string `mapstructure:"route"`
}

// Fast2SMSConfig contains Fast2SMS provider configuration
type Fast2SMSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIKey   string `mapstructure:"api_key"`
	SenderID string `mapstructure:"sender_id"`
}

// TextLocalConfig contains TextLocal provider configuration
type TextLocalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Sender  string `mapstructure:"sender"`
}

// SchedulerConfig contains scheduler configuration
type SchedulerConfig struct {
	Enabled                     bool          `mapstructure:"enabled"`
	OTPSweepInterval            time.Duration `mapstructure:"otp_sweep_interval"`
	ChainAuditInterval          time.Duration `mapstructure:"chain_audit_interval"`
	ExpiryCheckInterval         time.Duration `mapstructure:"expiry_check_interval"`
	PendingNotificationInterval time.Duration `mapstructure:"pending_notification_interval"`
}

// SecurityConfig contains security configuration
type SecurityConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenValidity time.Duration `mapstructure:"token_validity"`
	TokenIssuer   string        `mapstructure:"token_issuer"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/noc-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NOC_ENGINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8080)

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "noc_engine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.application_submitted", "application-submitted")
	viper.SetDefault("kafka.topics.application_status_changed", "application-status-changed")
	viper.SetDefault("kafka.topics.certificate_issued", "certificate-issued")
	viper.SetDefault("kafka.topics.notification_sent", "notification-sent")

	// Ledger
	viper.SetDefault("ledger.data_file", "./data/ledger/chain.json")
	viper.SetDefault("ledger.difficulty", 2)
	viper.SetDefault("ledger.max_mining_iterations", 10000000)

	// OTP
	viper.SetDefault("otp.length", 6)
	viper.SetDefault("otp.validity", "5m")
	viper.SetDefault("otp.max_attempts", 3)
	viper.SetDefault("otp.sweep_interval", "10m")
	viper.SetDefault("otp.message_template", "Your Fire NOC System OTP is: %s. Valid for %d minutes. Do not share this OTP.")

	// Certificates
	viper.SetDefault("certificates.validity_days", 365)
	viper.SetDefault("certificates.issuing_authority", "Fire Safety Department")
	viper.SetDefault("certificates.verify_cache_ttl", "5m")

	// Notifications
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.provider", "sendgrid")
	viper.SetDefault("notifications.email.from_name", "Fire NOC System")
	viper.SetDefault("notifications.email.timeout", "30s")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)

	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.providers", []string{"twilio", "msg91", "fast2sms", "textlocal"})
	viper.SetDefault("notifications.sms.default_country", "+91")
	viper.SetDefault("notifications.sms.fallback_to_console", true)
	viper.SetDefault("notifications.sms.timeout", "30s")
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.otp_sweep_interval", "10m")
	viper.SetDefault("scheduler.chain_audit_interval", "1h")
	viper.SetDefault("scheduler.expiry_check_interval", "24h")
	viper.SetDefault("scheduler.pending_notification_interval", "1m")

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.token_validity", "24h")
	viper.SetDefault("security.token_issuer", "noc-engine")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
