package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config enumerates every recognized setting. There is no dynamic key-value
// settings store; anything the ledger or its collaborators need to tune must
// be a named field here.
type Config struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string

	Redis RedisConfig
	Kafka KafkaConfig

	Gateway GatewayConfig

	// VerifyAttempts bounds how many times a single verify call polls a
	// still-pending charge before surfacing "still pending" to the caller.
	VerifyAttempts int
	VerifyBackoff  time.Duration

	// AbandonAfter is the window a purchase order may stay pending before the
	// sweep moves it to abandoned.
	AbandonAfter  time.Duration
	SweepInterval time.Duration

	// ConsumeConflictRetries bounds retries of a slot debit that failed on a
	// genuine contention conflict. Insufficient balance is never retried.
	ConsumeConflictRetries int

	OutboxPollInterval time.Duration
	BalanceCacheTTL    time.Duration
}

// RedisConfig configures the realtime balance cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the notification outbox publisher. Empty brokers
// disable publishing; outbox rows then stay queued.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// GatewayConfig configures the payment gateway adapter.
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:          getenv("EXAMREG_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("EXAMREG_DATABASE_URL"),
		JWTSigningKey: getenv("EXAMREG_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Redis: RedisConfig{
			URL:          os.Getenv("EXAMREG_REDIS_URL"),
			DialTimeout:  getduration("EXAMREG_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("EXAMREG_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("EXAMREG_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: split(os.Getenv("EXAMREG_KAFKA_BROKERS")),
			Topic:   getenv("EXAMREG_KAFKA_TOPIC", "examreg.slot-purchases"),
		},
		Gateway: GatewayConfig{
			BaseURL:       getenv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey:     os.Getenv("PAYSTACK_SECRET_KEY"),
			WebhookSecret: os.Getenv("PAYSTACK_WEBHOOK_SECRET"),
			CallbackURL:   os.Getenv("EXAMREG_PAYMENT_CALLBACK_URL"),
			Timeout:       getduration("EXAMREG_GATEWAY_TIMEOUT", 10*time.Second),
		},
		VerifyAttempts:         getint("EXAMREG_VERIFY_ATTEMPTS", 3),
		VerifyBackoff:          getduration("EXAMREG_VERIFY_BACKOFF", 2*time.Second),
		AbandonAfter:           getduration("EXAMREG_ABANDON_AFTER", 24*time.Hour),
		SweepInterval:          getduration("EXAMREG_SWEEP_INTERVAL", 15*time.Minute),
		ConsumeConflictRetries: getint("EXAMREG_CONSUME_CONFLICT_RETRIES", 3),
		OutboxPollInterval:     getduration("EXAMREG_OUTBOX_POLL_INTERVAL", 5*time.Second),
		BalanceCacheTTL:        getduration("EXAMREG_BALANCE_CACHE_TTL", 30*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
