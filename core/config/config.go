package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Security   SecurityConfig
	RateLimit  RateLimitConfig
	AI         AIConfig
	Upload     UploadConfig
	Whatsapp   WhatsappConfig
	PublicChat PublicChatConfig
	WorkerPool WorkerPoolConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	BaseUrl            string
	TrustedProxies     []string
	CorsAllowedOrigins []string
}

type PathsConfig struct {
	Storages string
	Statics  string
	Uploads  string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB name for Postgres
}

type SecurityConfig struct {
	JWTSecret     string
	CookieName    string
	TokenLifetime time.Duration
}

type RateLimitConfig struct {
	GlobalMax int
	AuthMax   int
	Window    time.Duration
}

type AIConfig struct {
	Provider     string // "openai" or "gemini"
	Model        string
	MaxToolSteps int
	OpenAIKey    string
	GeminiKey    string
}

type UploadConfig struct {
	MaxSizeBytes int64
}

type WhatsappConfig struct {
	LogLevel             string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	MaxDownloadSize      int64
}

type PublicChatConfig struct {
	IdleTimeout time.Duration // 0 disables eviction
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// Global provides access to the loaded configuration process-wide.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	debug := false
	if v := os.Getenv("APP_DEBUG"); v == "true" || v == "1" || v == "on" {
		debug = true
	}

	corsOrigins := []string{"http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	storages := getEnv("APP_BASE_DIR", "storages")
	statics := getEnv("PATH_STATICS", "statics")
	pathsCfg := PathsConfig{
		Storages: storages,
		Statics:  statics,
		Uploads:  getEnv("PATH_UPLOADS", filepath.Join(statics, "uploads")),
	}

	dbCfg := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "sqlite"),
		Name:     getEnv("DB_NAME", filepath.Join(storages, "app.db")),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
	}

	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		if appCfg.Environment != "development" {
			return nil, fmt.Errorf("JWT_SECRET is required outside development")
		}
		secret = "dev-only-secret-do-not-use-in-prod"
	}
	secCfg := SecurityConfig{
		JWTSecret:     secret,
		CookieName:    getEnv("SESSION_COOKIE_NAME", "botgate_session"),
		TokenLifetime: getEnvDuration("SESSION_TOKEN_LIFETIME", 24*time.Hour),
	}

	cfg := &Config{
		App:      appCfg,
		Paths:    pathsCfg,
		Database: dbCfg,
		Security: secCfg,
		RateLimit: RateLimitConfig{
			GlobalMax: getEnvInt("RATE_LIMIT_GLOBAL_MAX", 100),
			AuthMax:   getEnvInt("RATE_LIMIT_AUTH_MAX", 20),
			Window:    getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		AI: AIConfig{
			Provider:     getEnv("LLM_PROVIDER", "openai"),
			Model:        getEnv("LLM_MODEL", ""),
			MaxToolSteps: getEnvInt("LLM_MAX_TOOL_STEPS", 10),
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			GeminiKey:    getEnv("GEMINI_API_KEY", ""),
		},
		Upload: UploadConfig{
			MaxSizeBytes: getEnvInt64("MAX_UPLOAD_SIZE_BYTES", 20*1024*1024),
		},
		Whatsapp: WhatsappConfig{
			LogLevel:             getEnv("WHATSAPP_LOG_LEVEL", "ERROR"),
			MaxReconnectAttempts: getEnvInt("WHATSAPP_MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectBaseDelay:   getEnvDuration("WHATSAPP_RECONNECT_BASE_DELAY", 5*time.Second),
			MaxDownloadSize:      getEnvInt64("WHATSAPP_MAX_DOWNLOAD_SIZE", 50000000),
		},
		PublicChat: PublicChatConfig{
			IdleTimeout: getEnvDuration("PUBLIC_CHAT_IDLE_TIMEOUT", 30*time.Minute),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      getEnvInt("MESSAGE_WORKER_POOL_SIZE", 20),
			QueueSize: getEnvInt("MESSAGE_WORKER_QUEUE_SIZE", 1000),
		},
	}

	Global = cfg
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
