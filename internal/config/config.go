// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`

	BitrixWebhookURL string `env:"BITRIX_WEBHOOK_URL"`
	WebhookToken     string `env:"BITRIX_WEBHOOK_TOKEN"`
	// EventHandlerURL — внешний адрес вебхука сделок. Если задан, сервис при
	// старте сам подписывается на события ONCRMDEALUPDATE в Битрикс24.
	EventHandlerURL string `env:"BITRIX_EVENT_HANDLER_URL"`

	TelegramToken       string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID int64  `env:"TELEGRAM_ADMIN_CHAT_ID"`
	MiniAppURL          string `env:"MINI_APP_URL"`

	FirstOrderCategoryID  string `env:"BITRIX_FIRST_ORDER_CATEGORY"`
	RepeatOrderCategoryID string `env:"BITRIX_REPEAT_ORDER_CATEGORY"`
	AssignedByID          int64  `env:"BITRIX_ASSIGNED_BY_ID"`
	CurrencyID            string `env:"BITRIX_CURRENCY_ID"`

	SyncInterval  time.Duration `env:"SYNC_INTERVAL"`
	SyncBatchSize int           `env:"SYNC_BATCH_SIZE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBitrixURL := cfg.BitrixWebhookURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BitrixWebhookURL, "b", "", "bitrix24 incoming webhook URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBitrixURL != "" {
		cfg.BitrixWebhookURL = envBitrixURL
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CurrencyID == "" {
		cfg.CurrencyID = "UZS"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.SyncBatchSize <= 0 {
		cfg.SyncBatchSize = 50
	}
}
