package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// BaseDomain is the apex under which tenant subdomains are served,
	// e.g. "opencore.example" for acme.opencore.example.
	BaseDomain string

	// CredentialKey is the 32-byte hex key used to encrypt tenant database
	// passwords at rest. Empty disables encryption (development only).
	CredentialKey string

	OTLPEndpoint string
	OtelEnabled  bool

	RedisAddr     string
	RedisPassword string

	// Outbound notifications. Empty SMTPHost or AlertWebhookURL disables
	// the respective provider.
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	AlertWebhookURL string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Tenant provisioning admin connection. The admin user must be allowed
	// to CREATE DATABASE and CREATE ROLE on the tenant cluster.
	TenantDBHost      string
	TenantDBPort      string
	TenantDBAdminUser string
	TenantDBAdminPass string
	TenantDBSSLMode   string

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "tenantcore"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		BaseDomain:    getenv("BASE_DOMAIN", "localhost"),
		CredentialKey: strings.TrimSpace(getenv("CREDENTIAL_KEY", "")),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4318"),
		OtelEnabled:  getenvBool("OTEL_ENABLED", false),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		SMTPHost:        getenv("SMTP_HOST", ""),
		SMTPPort:        getenvInt("SMTP_PORT", 587),
		SMTPUsername:    getenv("SMTP_USERNAME", ""),
		SMTPPassword:    getenv("SMTP_PASSWORD", ""),
		SMTPFrom:        getenv("SMTP_FROM", "no-reply@tenantcore.local"),
		AlertWebhookURL: getenv("ALERT_WEBHOOK_URL", ""),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tenantcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		TenantDBHost:      getenv("TENANT_DATABASE_HOST", getenv("DATABASE_HOST", "localhost")),
		TenantDBPort:      getenv("TENANT_DATABASE_PORT", getenv("DATABASE_PORT", "5432")),
		TenantDBAdminUser: getenv("TENANT_DATABASE_ADMIN_USER", "postgres"),
		TenantDBAdminPass: getenv("TENANT_DATABASE_ADMIN_PASSWORD", ""),
		TenantDBSSLMode:   getenv("TENANT_DATABASE_SSLMODE", "disable"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Module wires process configuration for fx applications.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewLifecycleHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
