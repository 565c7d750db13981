// Package config loads process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreDynamo   = "dynamo"
	StoreSupabase = "supabase"
)

// Config holds every environment-derived setting used by the studio binaries.
type Config struct {
	// Server
	Port          string
	AllowedOrigin string

	// Models
	AnalysisModel string
	ImageModel    string
	GeminiAPIKey  string
	GeminiKeySSM  string
	GatewayRPS    float64

	// Accounts
	AdminID   string
	AdminName string

	// Rendering
	RenderConcurrency  int
	ElevatedCreditCost int

	// Persistence
	Store              string
	DynamoTable        string
	MediaBucket        string
	SupabaseURL        string
	SupabaseServiceKey string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool
}

// Load reads a .env file if one exists, then builds a Config from the
// environment. The returned Config has not been validated.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment variables")
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),

		AnalysisModel: getEnv("ANALYSIS_MODEL", "gemini-3-flash-preview"),
		ImageModel:    getEnv("IMAGE_MODEL", "nanobanana"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiKeySSM:  getEnv("GEMINI_API_KEY_SSM_PARAM", ""),
		GatewayRPS:    getEnvFloat("GATEWAY_RPS", 2),

		AdminID:   getEnv("STUDIO_ADMIN_ID", "admin-1"),
		AdminName: getEnv("STUDIO_ADMIN_NAME", "admin"),

		RenderConcurrency:  getEnvInt("RENDER_CONCURRENCY", 6),
		ElevatedCreditCost: getEnvInt("CREDIT_COST_ELEVATED", 1),

		Store:              strings.ToLower(getEnv("STUDIO_STORE", StoreMemory)),
		DynamoTable:        getEnv("DYNAMO_TABLE", ""),
		MediaBucket:        getEnv("MEDIA_BUCKET", ""),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", false),
	}
}

// Validate checks that the settings required by the selected backends are present.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreDynamo:
		if c.DynamoTable == "" {
			return fmt.Errorf("DYNAMO_TABLE is required when STUDIO_STORE=%s", StoreDynamo)
		}
	case StoreSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required when STUDIO_STORE=%s", StoreSupabase)
		}
		if c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required when STUDIO_STORE=%s", StoreSupabase)
		}
	default:
		return fmt.Errorf("unknown STUDIO_STORE %q (want memory, dynamo or supabase)", c.Store)
	}
	if c.RenderConcurrency < 1 {
		return fmt.Errorf("RENDER_CONCURRENCY must be at least 1, got %d", c.RenderConcurrency)
	}
	if c.ElevatedCreditCost < 1 {
		return fmt.Errorf("CREDIT_COST_ELEVATED must be at least 1, got %d", c.ElevatedCreditCost)
	}
	if c.GatewayRPS <= 0 {
		return fmt.Errorf("GATEWAY_RPS must be positive, got %v", c.GatewayRPS)
	}
	return nil
}

// QueueEnabled reports whether asynchronous render jobs can be enqueued.
func (c *Config) QueueEnabled() bool {
	return c.RedisHost != ""
}

// RedisHostPort is RedisAddr when the queue is enabled and empty otherwise.
func (c *Config) RedisHostPort() string {
	if !c.QueueEnabled() {
		return ""
	}
	return c.RedisAddr()
}

// ValidateWorker additionally requires the Redis queue and a store shared
// with the API, since the worker charges the same balances.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.QueueEnabled() {
		return fmt.Errorf("REDIS_HOST is required for the render worker")
	}
	if c.Store == StoreMemory {
		return fmt.Errorf("STUDIO_STORE=%s is private to one process; the render worker needs %s or %s", StoreMemory, StoreDynamo, StoreSupabase)
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		log.Warn().Str("key", key).Str("value", s).Msg("Ignoring non-integer environment value")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		log.Warn().Str("key", key).Str("value", s).Msg("Ignoring non-numeric environment value")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return defaultValue
}
