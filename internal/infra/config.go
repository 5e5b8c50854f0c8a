package infra

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	PostgresURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueuePrefix   string

	JWTSecret string
	PIISecret string

	LogLevel  string
	LogFormat string

	GatewayTimeout time.Duration

	AsaasBaseURL      string
	AsaasAPIKey       string
	AsaasWebhookToken string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string

	BillingCron           string
	WebhookConcurrency    int
	GenerationConcurrency int
	FanoutConcurrency     int
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("QUEUE_PREFIX", "clubpay")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("GATEWAY_TIMEOUT", "20s")
	v.SetDefault("STRIPE_CURRENCY", "brl")
	v.SetDefault("BILLING_CRON", "0 6 1 * *")
	v.SetDefault("WEBHOOK_CONCURRENCY", 5)
	v.SetDefault("GENERATION_CONCURRENCY", 5)
	v.SetDefault("FANOUT_CONCURRENCY", 1)

	cfg := Config{
		Port:                  v.GetString("PORT"),
		PostgresURL:           v.GetString("POSTGRES_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		QueuePrefix:           v.GetString("QUEUE_PREFIX"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		PIISecret:             v.GetString("PII_ENCRYPTION_KEY"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		GatewayTimeout:        v.GetDuration("GATEWAY_TIMEOUT"),
		AsaasBaseURL:          v.GetString("ASAAS_BASE_URL"),
		AsaasAPIKey:           v.GetString("ASAAS_API_KEY"),
		AsaasWebhookToken:     v.GetString("ASAAS_WEBHOOK_TOKEN"),
		StripeSecretKey:       v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeCurrency:        v.GetString("STRIPE_CURRENCY"),
		BillingCron:           v.GetString("BILLING_CRON"),
		WebhookConcurrency:    v.GetInt("WEBHOOK_CONCURRENCY"),
		GenerationConcurrency: v.GetInt("GENERATION_CONCURRENCY"),
		FanoutConcurrency:     v.GetInt("FANOUT_CONCURRENCY"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.PostgresURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.PIISecret == "" {
		errs = append(errs, errors.New("PII_ENCRYPTION_KEY is required"))
	}
	return errors.Join(errs...)
}
