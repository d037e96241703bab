package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Istanbul"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Costing struct {
		DefaultCurrency string `envconfig:"DEFAULT_CURRENCY" default:"TRY"`
		BatchSize       int    `envconfig:"RECALC_BATCH_SIZE" default:"100"`
		StopKey         string `envconfig:"RECALC_STOP_KEY" default:"cost_recalc:stop"`
	} `envconfig:""`

	Queues struct {
		RecalcNudge string `envconfig:"RECALC_NUDGE_QUEUE" default:"cost_recalc_nudge"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
