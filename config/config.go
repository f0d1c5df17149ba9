package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки сервера. Значения статичны:
// динамическая перезагрузка не требуется.
type Config struct {
	AppHost  string
	HTTPPort string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	JWTSecret string

	// Чат-транспорт
	TelegramToken  string
	StaffGroupID   string // супергруппа сотрудников, в которой создаются каналы тикетов
	OperatorChatID string // куда отправляются эскалации по неназначенным тикетам

	// Пороги планировщиков
	IdleThreshold       time.Duration // молчание сотрудников, после которого клиенту «должны» напоминание
	UnassignedThreshold time.Duration // сколько тикет может висеть без назначенного сотрудника
	PingInterval        time.Duration // период циклов планировщиков и минимальный интервал между уведомлениями
	ACLTTL              time.Duration // срок свежести кэша доступа

	// Kafka: события жизненного цикла тикетов (пусто — отключено)
	KafkaBrokers []string
	KafkaTopic   string

	// Redis: ограничение частоты вебхука (пусто — отключено)
	RedisAddr         string
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

// Load читает конфигурацию из .env и переменных окружения
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppHost:   getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET_KEY"),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		StaffGroupID:   os.Getenv("STAFF_GROUP_ID"),
		OperatorChatID: os.Getenv("OPERATOR_CHAT_ID"),

		IdleThreshold:       time.Duration(getEnvInt("IDLE_THRESHOLD_MINUTES", 30)) * time.Minute,
		UnassignedThreshold: time.Duration(getEnvInt("UNASSIGNED_THRESHOLD_MINUTES", 15)) * time.Minute,
		PingInterval:        time.Duration(getEnvInt("PING_INTERVAL_MINUTES", 10)) * time.Minute,
		ACLTTL:              time.Duration(getEnvInt("ACL_TTL_SECONDS", 300)) * time.Second,

		KafkaTopic: getEnv("KAFKA_TOPIC", "ticket-events"),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		WebhookRateLimit:  getEnvInt("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateWindow: time.Duration(getEnvInt("WEBHOOK_RATE_WINDOW_SECONDS", 60)) * time.Second,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.DB.Host = getEnv("PG_HOST", "localhost")
	cfg.DB.Port = getEnv("PG_PORT", "5432")
	cfg.DB.User = getEnv("PG_USER", "postgres")
	cfg.DB.Password = os.Getenv("PG_PASSWORD") // может быть пустым
	cfg.DB.Database = getEnv("PG_DATABASE", "supportdesk")
	cfg.DB.SSLMode = getEnv("PG_SSL_MODE", "disable")

	return cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: PG_HOST и PG_DATABASE обязательны")
	}
	if c.TelegramToken == "" {
		return errors.New("config: TELEGRAM_BOT_TOKEN обязателен")
	}
	if c.StaffGroupID == "" {
		return errors.New("config: STAFF_GROUP_ID обязателен")
	}
	if c.PingInterval <= 0 {
		return errors.New("config: PING_INTERVAL_MINUTES должен быть положительным")
	}
	return nil
}

// DSN возвращает строку подключения к PostgreSQL
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode,
	)
}

// Addr возвращает адрес HTTP сервера
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
