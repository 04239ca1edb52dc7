package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	LockTimeout   time.Duration
	TxMaxAttempts int

	MigrateOnStart bool

	RateLimitPerMinute      int
	RateLimitBurst          int
	QueueRateLimitPerMinute int
	QueueRateLimitBurst     int

	AMQPURL   string
	AMQPQueue string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RelayInterval  time.Duration
	RelayBatchSize int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	amqpQueue := os.Getenv("AMQP_QUEUE")
	if amqpQueue == "" {
		amqpQueue = "admission.events"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		LockTimeout:   readDurationMillis("LOCK_TIMEOUT_MS", 2000),
		TxMaxAttempts: readInt("TX_MAX_ATTEMPTS", 3),

		MigrateOnStart: readBool("MIGRATE_ON_START", false),

		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		QueueRateLimitPerMinute: readInt("QUEUE_RATE_LIMIT_PER_MIN", 600),
		QueueRateLimitBurst:     readInt("QUEUE_RATE_LIMIT_BURST", 120),

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: amqpQueue,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),

		RelayInterval:  readDurationSeconds("RELAY_POLL_INTERVAL_SECONDS", 2),
		RelayBatchSize: readInt("RELAY_BATCH_SIZE", 100),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
