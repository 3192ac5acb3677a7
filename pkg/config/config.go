package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Gateway  GatewayConfig
	App      AppConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicReports  string
	TopicAlerts   string
	NumPartitions int
}

// GatewayConfig configures the email-to-SMS gateway used by the
// notification dispatcher.
type GatewayConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	EmailAddress string
	SenderName   string
}

type AppConfig struct {
	BaseURL          string
	FallbackLanguage string
	TemplateFile     string
	MetricsAddr      string
	LockTTL          time.Duration
	LogLevel         string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "outbreak_user"),
			Password: getEnv("DB_PASSWORD", "outbreak_pass"),
			DBName:   getEnv("DB_NAME", "outbreak_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReports:  getEnv("KAFKA_TOPIC_REPORTS", "outbreak.reports.events"),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "outbreak.alerts"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		Gateway: GatewayConfig{
			Host:         getEnv("GATEWAY_SMTP_HOST", "smtp.gmail.com"),
			Port:         getEnvAsInt("GATEWAY_SMTP_PORT", 587),
			Username:     getEnv("GATEWAY_SMTP_USERNAME", ""),
			Password:     getEnv("GATEWAY_SMTP_PASSWORD", ""),
			From:         getEnv("GATEWAY_SMTP_FROM", "outbreak-server@example.com"),
			EmailAddress: getEnv("GATEWAY_EMAIL_ADDRESS", "sms-gateway@example.com"),
			SenderName:   getEnv("GATEWAY_SENDER_NAME", "Outbreak Surveillance"),
		},
		App: AppConfig{
			BaseURL:          getEnv("APP_BASE_URL", "http://localhost:3000"),
			FallbackLanguage: getEnv("APP_FALLBACK_LANGUAGE", "en"),
			TemplateFile:     getEnv("APP_TEMPLATE_FILE", ""),
			MetricsAddr:      getEnv("APP_METRICS_ADDR", ":9091"),
			LockTTL:          getEnvAsDuration("APP_LOCK_TTL", 30*time.Second),
			LogLevel:         getEnv("APP_LOG_LEVEL", "info"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
