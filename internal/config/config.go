package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full service configuration. Every key can be set in the YAML file or as an
// upper-cased environment variable (http_port -> HTTP_PORT).
type Config struct {
	HTTPPort        string        `mapstructure:"http_port"`
	GRPCPort        string        `mapstructure:"grpc_port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`

	StoreDriver    string `mapstructure:"store_driver"`
	DBHost         string `mapstructure:"db_host"`
	DBPort         int    `mapstructure:"db_port"`
	DBUser         string `mapstructure:"db_user"`
	DBPassword     string `mapstructure:"db_password"`
	DBName         string `mapstructure:"db_name"`
	MigrationsPath string `mapstructure:"migrations_path"`

	TaxDBPath         string          `mapstructure:"tax_db_path"`
	TaxMigrationsPath string          `mapstructure:"tax_migrations_path"`
	TaxDefaultRegion  string          `mapstructure:"tax_default_region"`
	TaxFallbackName   string          `mapstructure:"tax_fallback_name"`
	TaxFallbackRaw    string          `mapstructure:"tax_fallback_rate"`
	TaxFallbackRate   decimal.Decimal `mapstructure:"-"`
	Currency          string          `mapstructure:"currency"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	KafkaBrokers  []string      `mapstructure:"kafka_brokers"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`

	PaymentProviderName string        `mapstructure:"payment_provider_name"`
	PaymentProviderURL  string        `mapstructure:"payment_provider_url"`
	PaymentProviderKey  string        `mapstructure:"payment_provider_key"`
	WebhookSecret       string        `mapstructure:"payment_webhook_secret"`
	PaymentTimeout      time.Duration `mapstructure:"payment_timeout"`

	InvoiceDir    string `mapstructure:"invoice_dir"`
	InvoiceIssuer string `mapstructure:"invoice_issuer"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("grpc_port", "50057")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("health_interval", 15*time.Second)

	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "postgres")
	v.SetDefault("db_name", "billing")
	v.SetDefault("migrations_path", "./internal/repository/migrations")

	v.SetDefault("tax_db_path", "./data/taxrules.db")
	v.SetDefault("tax_migrations_path", "./internal/taxrules/migrations")
	v.SetDefault("tax_default_region", "ES")
	v.SetDefault("tax_fallback_name", "IVA General")
	v.SetDefault("tax_fallback_rate", "21.00")
	v.SetDefault("currency", "EUR")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")

	v.SetDefault("kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("kafka_topic", "order-events")
	v.SetDefault("relay_interval", 2*time.Second)

	v.SetDefault("payment_provider_name", "stripe")
	v.SetDefault("payment_provider_url", "https://api.stripe.com")
	v.SetDefault("payment_provider_key", "")
	v.SetDefault("payment_webhook_secret", "")
	v.SetDefault("payment_timeout", 10*time.Second)

	v.SetDefault("invoice_dir", "./data/invoices")
	v.SetDefault("invoice_issuer", "Billing Service")

	v.SetDefault("log_level", "info")
}

// Load resolves defaults, then the optional YAML file, then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	rate, err := decimal.NewFromString(c.TaxFallbackRaw)
	if err != nil {
		return fmt.Errorf("tax_fallback_rate %q: %w", c.TaxFallbackRaw, err)
	}
	if rate.IsNegative() {
		return errors.New("tax_fallback_rate must not be negative")
	}
	c.TaxFallbackRate = rate

	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("store_driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}

	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 || c.PaymentTimeout <= 0 || c.HealthInterval <= 0 {
		return errors.New("timeouts must be positive")
	}
	if strings.TrimSpace(c.Currency) == "" {
		return errors.New("currency is required")
	}
	c.Currency = strings.ToUpper(c.Currency)
	return nil
}
