package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	LogLevel  string
	LogFormat string

	JWTSecret string

	CatalogDBPath         string
	CatalogMigrationsPath string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Postgres PostgresConfig

	KafkaBrokers     []string
	OrderEventsTopic string
	OutboxInterval   time.Duration

	Payment PaymentConfig

	ShippingFlat decimal.Decimal
	TaxRate      decimal.Decimal
}

type PostgresConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	MigrationsPath string
}

type PaymentConfig struct {
	BaseURL     string
	SecretKey   string
	Currency    string
	Timeout     time.Duration
	ReturnURL   string
	CallbackURL string
	Title       string
	Description string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []string
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	decVar := func(key string, def string) decimal.Decimal {
		v, err := decimal.NewFromString(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	clientURL := getEnv("CLIENT_URL", "http://localhost:3000")

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     durVar("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    durVar("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		CatalogDBPath:         getEnv("CATALOG_DB_PATH", "catalog.db"),
		CatalogMigrationsPath: getEnv("CATALOG_MIGRATIONS_PATH", "internal/catalog/migrations"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DATABASE", "storefront"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intVar("REDIS_DB", 0),

		Postgres: PostgresConfig{
			Host:           os.Getenv("POSTGRES_HOST"),
			Port:           intVar("POSTGRES_PORT", 5432),
			User:           getEnv("POSTGRES_USER", "postgres"),
			Password:       getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:         getEnv("POSTGRES_DB", "storefront"),
			MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "internal/repository/migrations"),
		},

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic: getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		OutboxInterval:   durVar("OUTBOX_INTERVAL", time.Second),

		Payment: PaymentConfig{
			BaseURL:     getEnv("CHAPA_BASE_URL", "https://api.chapa.co/v1"),
			SecretKey:   os.Getenv("CHAPA_SECRET_KEY"),
			Currency:    getEnv("PAYMENT_CURRENCY", "ETB"),
			Timeout:     durVar("PAYMENT_TIMEOUT", 15*time.Second),
			ReturnURL:   getEnv("PAYMENT_RETURN_URL", clientURL+"/payment/success"),
			CallbackURL: os.Getenv("PAYMENT_CALLBACK_URL"),
			Title:       getEnv("PAYMENT_TITLE", "Alora Lipgloss"),
			Description: getEnv("PAYMENT_DESCRIPTION", "Lipgloss Products"),
		},

		ShippingFlat: decVar("SHIPPING_FLAT", "5"),
		TaxRate:      decVar("TAX_RATE", "0.08"),
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
