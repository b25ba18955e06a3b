// Package config содержит логику чтения конфигурации сервиса cargoflow.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса cargoflow.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	JWTSecret string `env:"JWT_SECRET"`
	// DefaultUserID > 0 отключает обязательную аутентификацию: запросы без
	// токена выполняются от имени этого пользователя. Только для разработки.
	DefaultUserID int64 `env:"DEFAULT_USER_ID"`

	StripeAPIKey        string `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSuccessURL    string `env:"STRIPE_SUCCESS_URL"`
	StripeCancelURL     string `env:"STRIPE_CANCEL_URL"`

	CryptoGatewayAddress string `env:"CRYPTO_GATEWAY_ADDRESS"`
	CryptoGatewayKey     string `env:"CRYPTO_GATEWAY_KEY"`
	CryptoWebhookSecret  string `env:"CRYPTO_WEBHOOK_SECRET"`

	SBPMerchantID    string `env:"SBP_MERCHANT_ID"`
	SBPWebhookSecret string `env:"SBP_WEBHOOK_SECRET"`

	// PendingTransactionTTL задаёт срок жизни неподтверждённых транзакций.
	// 0 отключает фоновую отмену.
	PendingTransactionTTL time.Duration `env:"PENDING_TRANSACTION_TTL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envCryptoAddress := cfg.CryptoGatewayAddress
	envPendingTTL := cfg.PendingTransactionTTL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.CryptoGatewayAddress, "c", "", "crypto invoice gateway address")
	flag.DurationVar(&cfg.PendingTransactionTTL, "t", 24*time.Hour, "pending transaction TTL (0 disables the reaper)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envCryptoAddress != "" {
		cfg.CryptoGatewayAddress = envCryptoAddress
	}
	if envPendingTTL != 0 {
		cfg.PendingTransactionTTL = envPendingTTL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
