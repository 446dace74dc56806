package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port      int
	LogLevel  string
	LogFormat string
	Env       string
	TaxRate   float64
	DB        DBConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	Routing   RoutingConfig
	Payment   PaymentConfig
	Invoice   InvoiceConfig
	RateLimit RateLimitConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

// KafkaConfig holds broker settings. Publishing is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers            []string
	ClientID           string
	ConsumerGroup      string
	OrdersTopic        string
	PaymentsTopic      string
	DeliveriesTopic    string
	NotificationsTopic string
	// CallbacksTopic carries payment gateway status callbacks into the service
	CallbacksTopic     string
}

// OutboxConfig tunes the outbox and dead-letter processors
type OutboxConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	DeadLetterRetries int
}

// RoutingConfig points at an OSRM-compatible routing service. Empty BaseURL disables routing.
type RoutingConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PaymentConfig selects the payment gateway
type PaymentConfig struct {
	Mode      string // mock or stripe
	BaseURL   string
	SecretKey string
	Currency  string
	Timeout   time.Duration
}

// InvoiceConfig controls where rendered invoices are written
type InvoiceConfig struct {
	Dir         string
	CompanyName string
}

// RateLimitConfig configures request throttling
type RateLimitConfig struct {
	GlobalMaxTokens   float64
	GlobalRefillRate  float64
	IPMaxTokens       float64
	IPRefillRate      float64
	TrustForwardedFor bool
}

// source resolves keys from the environment first, then an optional config file.
type source struct {
	v *viper.Viper
}

func newSource(file string) (*source, error) {
	v := viper.New()
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return &source{v: v}, nil
}

// getEnv retrieves the value of a key or returns a default value if not set.
func (s *source) getEnv(key, defaultValue string) string {
	if s.v.IsSet(key) {
		return s.v.GetString(key)
	}
	return defaultValue
}

func (s *source) getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(s.getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s *source) getFloat(key string, defaultValue float64) (float64, error) {
	v, err := strconv.ParseFloat(s.getEnv(key, strconv.FormatFloat(defaultValue, 'f', -1, 64)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s *source) getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(s.getEnv(key, defaultValue.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s *source) getList(key string) []string {
	raw := s.getEnv(key, "")
	if raw == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the configuration from environment variables and, when CONFIG_FILE
// is set, from that file (any format viper understands; keys are the env names).
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file path. Environment variables win.
func LoadFile(file string) (*Config, error) {
	src, err := newSource(file)
	if err != nil {
		return nil, err
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	port, err := src.getInt("PORT", 8080)
	collect(err)
	dbPort, err := src.getInt("DB_PORT", 5432)
	collect(err)
	taxRate, err := src.getFloat("TAX_RATE", 0.20)
	collect(err)
	pollInterval, err := src.getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second)
	collect(err)
	batchSize, err := src.getInt("OUTBOX_BATCH_SIZE", 10)
	collect(err)
	maxAttempts, err := src.getInt("OUTBOX_MAX_ATTEMPTS", 5)
	collect(err)
	dlqRetries, err := src.getInt("DLQ_MAX_RETRIES", 3)
	collect(err)
	routingTimeout, err := src.getDuration("ROUTING_TIMEOUT", 10*time.Second)
	collect(err)
	paymentTimeout, err := src.getDuration("PAYMENT_TIMEOUT", 10*time.Second)
	collect(err)
	globalTokens, err := src.getFloat("RATE_LIMIT_GLOBAL_TOKENS", 200)
	collect(err)
	globalRate, err := src.getFloat("RATE_LIMIT_GLOBAL_RATE", 100)
	collect(err)
	ipTokens, err := src.getFloat("RATE_LIMIT_IP_TOKENS", 20)
	collect(err)
	ipRate, err := src.getFloat("RATE_LIMIT_IP_RATE", 10)
	collect(err)

	if len(errs) > 0 {
		return nil, errs[0]
	}

	cfg := &Config{
		Port:      port,
		LogLevel:  src.getEnv("LOG_LEVEL", "info"),
		LogFormat: src.getEnv("LOG_FORMAT", "text"),
		Env:       src.getEnv("APP_ENV", "development"),
		TaxRate:   taxRate,
		DB: DBConfig{
			Driver:     strings.ToLower(src.getEnv("DB_DRIVER", "postgres")),
			Host:       src.getEnv("DB_HOST", "localhost"),
			Port:       dbPort,
			User:       src.getEnv("DB_USER", "postgres"),
			Password:   src.getEnv("DB_PASSWORD", "postgres"),
			Name:       src.getEnv("DB_NAME", "settlement"),
			SSLMode:    src.getEnv("DB_SSLMODE", "disable"),
			SQLitePath: src.getEnv("SQLITE_PATH", "settlement.db"),
		},
		Kafka: KafkaConfig{
			Brokers:            src.getList("KAFKA_BROKERS"),
			ClientID:           src.getEnv("KAFKA_CLIENT_ID", "order-settlement-api"),
			ConsumerGroup:      src.getEnv("KAFKA_CONSUMER_GROUP", "order-settlement-api"),
			OrdersTopic:        src.getEnv("KAFKA_TOPIC_ORDERS", "orders"),
			PaymentsTopic:      src.getEnv("KAFKA_TOPIC_PAYMENTS", "payments"),
			DeliveriesTopic:    src.getEnv("KAFKA_TOPIC_DELIVERIES", "deliveries"),
			NotificationsTopic: src.getEnv("KAFKA_TOPIC_NOTIFICATIONS", "notifications"),
			CallbacksTopic:     src.getEnv("KAFKA_TOPIC_PAYMENT_CALLBACKS", "payment-callbacks"),
		},
		Outbox: OutboxConfig{
			PollInterval:      pollInterval,
			BatchSize:         batchSize,
			MaxAttempts:       maxAttempts,
			DeadLetterRetries: dlqRetries,
		},
		Routing: RoutingConfig{
			BaseURL: strings.TrimRight(src.getEnv("ROUTING_URL", ""), "/"),
			Timeout: routingTimeout,
		},
		Payment: PaymentConfig{
			Mode:      strings.ToLower(src.getEnv("PAYMENT_MODE", "mock")),
			BaseURL:   strings.TrimRight(src.getEnv("PAYMENT_URL", "https://api.stripe.com"), "/"),
			SecretKey: src.getEnv("PAYMENT_SECRET_KEY", ""),
			Currency:  strings.ToLower(src.getEnv("PAYMENT_CURRENCY", "usd")),
			Timeout:   paymentTimeout,
		},
		Invoice: InvoiceConfig{
			Dir:         src.getEnv("INVOICE_DIR", "invoices"),
			CompanyName: src.getEnv("INVOICE_COMPANY_NAME", "Order Settlement"),
		},
		RateLimit: RateLimitConfig{
			GlobalMaxTokens:   globalTokens,
			GlobalRefillRate:  globalRate,
			IPMaxTokens:       ipTokens,
			IPRefillRate:      ipRate,
			TrustForwardedFor: src.getEnv("TRUST_FORWARDED_FOR", "false") == "true",
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", c.DB.Driver)
	}

	switch c.Payment.Mode {
	case "mock":
	case "stripe":
		if c.Payment.SecretKey == "" {
			return fmt.Errorf("PAYMENT_SECRET_KEY is required when PAYMENT_MODE=stripe")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_MODE %q: want mock or stripe", c.Payment.Mode)
	}

	if c.TaxRate < 0 || c.TaxRate >= 1 {
		return fmt.Errorf("invalid TAX_RATE %v: must be in [0, 1)", c.TaxRate)
	}
	return nil
}

// KafkaEnabled reports whether a broker is configured
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	if c.DB.Driver == "sqlite" {
		return c.DB.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
