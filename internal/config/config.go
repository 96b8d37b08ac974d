package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	// BusinessTimezone is the fixed timezone every audit trail timestamp is
	// rendered in, regardless of the originating event's timezone.
	BusinessTimezone string

	FunnelFile string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Gateway   GatewayConfig
	Messenger MessengerConfig
	Drip      DripConfig
	Dispatch  DispatchConfig
}

// MessengerConfig points at the chat platform used for drip sends. An empty
// token selects the no-op provider.
type MessengerConfig struct {
	APIURL string
	Token  string
}

// GatewayConfig selects the ordered list of charge providers and their
// credentials. Order matters: charge creation falls through the list.
type GatewayConfig struct {
	Providers    []string
	PixnowAPIKey string
	PagoroToken  string
}

// DripConfig controls the drip scheduler.
type DripConfig struct {
	RunInterval time.Duration
	BatchSize   int
	LockTTL     time.Duration
}

// DispatchConfig controls conversion fan-out retries.
type DispatchConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:          getenv("APP_SERVICE", "dripflow"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),
		BusinessTimezone: getenv("BUSINESS_TIMEZONE", "America/Sao_Paulo"),
		FunnelFile:       getenv("FUNNEL_FILE", "funnel.yaml"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dripflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Gateway: GatewayConfig{
			Providers:    splitList(getenv("GATEWAY_PROVIDERS", "pixnow,pagoro")),
			PixnowAPIKey: strings.TrimSpace(getenv("PIXNOW_API_KEY", "")),
			PagoroToken:  strings.TrimSpace(getenv("PAGORO_TOKEN", "")),
		},
		Messenger: MessengerConfig{
			APIURL: getenv("MESSENGER_API_URL", "https://api.chatwire.example"),
			Token:  strings.TrimSpace(getenv("MESSENGER_TOKEN", "")),
		},
		Drip: DripConfig{
			RunInterval: getenvDuration("DRIP_RUN_INTERVAL", time.Minute),
			BatchSize:   getenvInt("DRIP_BATCH_SIZE", 50),
			LockTTL:     getenvDuration("DRIP_LOCK_TTL", 55*time.Second),
		},
		Dispatch: DispatchConfig{
			MaxAttempts: getenvInt("DISPATCH_MAX_ATTEMPTS", 5),
			BaseDelay:   getenvDuration("DISPATCH_BASE_DELAY", 2*time.Second),
			Multiplier:  getenvFloat("DISPATCH_MULTIPLIER", 2.0),
		},
	}
}

// BusinessLocation resolves the configured business timezone, falling back to
// UTC when the name is unknown so audit logging never fails on a bad deploy.
func (c Config) BusinessLocation() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.BusinessTimezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
