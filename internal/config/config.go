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

// StorageMode selects the remote backend implementation
type StorageMode string

const (
	StorageREST     StorageMode = "rest"
	StoragePostgres StorageMode = "postgres"
	StorageMemory   StorageMode = "memory"
)

// RealtimeMode selects where change notifications come from
type RealtimeMode string

const (
	RealtimeWebSocket RealtimeMode = "websocket"
	RealtimeWebhook   RealtimeMode = "webhook"
	RealtimeNone      RealtimeMode = "none"
)

var (
	// ErrMissingRemote is returned when the remote store URL or access key is absent
	ErrMissingRemote = errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required")
	// ErrMissingDatabaseURL is returned in postgres mode without DATABASE_URL
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required in postgres mode")
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Remote store
	StorageMode   StorageMode
	SupabaseURL   string
	SupabaseKey   string
	DatabaseURL   string
	AutoMigrate   bool
	HTTPTimeout   time.Duration
	RealtimeMode  RealtimeMode
	WebhookSecret string

	// Data sync
	PageSize         int
	StrictFetchOrder bool
	ReportInterval   time.Duration

	// Auth
	SkipAuth bool
	JWKSURL  string

	// WebSocket
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StorageMode:      StorageMode(getEnv("STORAGE_MODE", string(StorageREST))),
		SupabaseURL:      strings.TrimSuffix(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseKey:      os.Getenv("SUPABASE_ANON_KEY"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AutoMigrate:      getEnv("AUTO_MIGRATE", "false") == "true",
		RealtimeMode:     RealtimeMode(getEnv("REALTIME_MODE", string(RealtimeWebSocket))),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		StrictFetchOrder: getEnv("STRICT_FETCH_ORDER", "false") == "true",
		SkipAuth:         getEnv("SKIP_AUTH", "false") == "true",
	}

	switch config.StorageMode {
	case StorageREST:
		if config.SupabaseURL == "" || config.SupabaseKey == "" {
			return nil, ErrMissingRemote
		}
	case StoragePostgres:
		if config.DatabaseURL == "" {
			return nil, ErrMissingDatabaseURL
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("invalid STORAGE_MODE %q", config.StorageMode)
	}

	switch config.RealtimeMode {
	case RealtimeWebSocket, RealtimeWebhook, RealtimeNone:
	default:
		return nil, fmt.Errorf("invalid REALTIME_MODE %q", config.RealtimeMode)
	}

	config.JWKSURL = getEnv("JWKS_URL", "")
	if config.JWKSURL == "" && config.SupabaseURL != "" {
		config.JWKSURL = config.SupabaseURL + "/auth/v1/.well-known/jwks.json"
	}

	httpTimeout, err := strconv.Atoi(getEnv("HTTP_TIMEOUT", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	config.HTTPTimeout = time.Duration(httpTimeout) * time.Second

	pageSize, err := strconv.Atoi(getEnv("PAGE_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAGE_SIZE: %w", err)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid PAGE_SIZE: must be positive, got %d", pageSize)
	}
	config.PageSize = pageSize

	reportInterval, err := strconv.Atoi(getEnv("REPORT_INTERVAL", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_INTERVAL: %w", err)
	}
	config.ReportInterval = time.Duration(reportInterval) * time.Millisecond

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
