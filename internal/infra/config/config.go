package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Хранилище: Redis в продакшене, Postgres как альтернатива.
	RedisAddr string `envconfig:"REDIS_ADDR"`
	PGDSN     string `envconfig:"PG_DSN"`

	AMQP struct {
		URL   string `envconfig:"AMQP_URL"`
		Queue string `envconfig:"SIGNAL_QUEUE" default:"seed_signals"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Persona string `envconfig:"SEED_PERSONA" default:"badseed"`

	X struct {
		ConsumerKey    string `envconfig:"X_CONSUMER_KEY"`
		ConsumerSecret string `envconfig:"X_CONSUMER_SECRET"`
		AccessToken    string `envconfig:"X_ACCESS_TOKEN"`
		AccessSecret   string `envconfig:"X_ACCESS_SECRET"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_CHANNEL_ID"`
	} `envconfig:""`

	Archive struct {
		NodeURL   string        `envconfig:"ARCHIVE_NODE_URL" default:"https://node1.irys.xyz"`
		Currency  string        `envconfig:"ARCHIVE_CURRENCY" default:"solana"`
		WalletKey string        `envconfig:"BADSEED_WALLET_PRIVATE_KEY"`
		Timeout   time.Duration `envconfig:"ARCHIVE_TIMEOUT" default:"30s"`
	} `envconfig:""`

	// Расписание в UTC, формат ЧЧ:ММ. Flush может содержать несколько
	// значений через запятую.
	Schedule struct {
		Reset    string `envconfig:"SCHEDULE_RESET" default:"00:00"`
		Generate string `envconfig:"SCHEDULE_GENERATE" default:"12:00"`
		Reveal   string `envconfig:"SCHEDULE_REVEAL" default:"18:00"`
		Flush    string `envconfig:"SCHEDULE_FLUSH" default:"00:00,12:00"`
		Archive  string `envconfig:"SCHEDULE_ARCHIVE" default:"23:55"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
