package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort     string `yaml:"httpPort"`
	DatabaseURL  string `yaml:"databaseURL"`
	LogLevel     string `yaml:"logLevel"`
	LogFormat    string `yaml:"logFormat"`
	JWTSecret    string `yaml:"jwtSecret"`
	GeminiAPIKey string `yaml:"geminiAPIKey"`

	// RedisAddr selects the Redis key-value backend when set; otherwise
	// per-user state lives in the SQLite kv table.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// TutorServiceURL switches the chat collaborators to a remote tutor service.
	TutorServiceURL   string `yaml:"tutorServiceURL"`
	TutorServiceToken string `yaml:"tutorServiceToken"`

	CallTimeout        time.Duration `yaml:"callTimeout"`
	StudyFlushInterval time.Duration `yaml:"studyFlushInterval"`
	TipsFile           string        `yaml:"tipsFile"`
}

var AppConfig Config

// ErrMissingJWTSecret is the only fatal configuration error.
var ErrMissingJWTSecret = errors.New("JWT_SECRET environment variable is required")

func defaults() Config {
	return Config{
		HTTPPort:           "8080",
		DatabaseURL:        "lexi_tutor.db",
		LogLevel:           "info",
		LogFormat:          "json",
		CallTimeout:        15 * time.Second,
		StudyFlushInterval: 30 * time.Second,
		TipsFile:           "tips.md",
	}
}

// LoadConfig reads .env (if present), an optional YAML file named by
// LEXI_CONFIG, then environment overrides, and stores the result in AppConfig.
func LoadConfig() (Config, error) {
	// .env is optional; the environment may already be populated.
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("LEXI_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)

	if cfg.JWTSecret == "" {
		return cfg, ErrMissingJWTSecret
	}
	AppConfig = cfg
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.TutorServiceURL = getEnv("TUTOR_SERVICE_URL", cfg.TutorServiceURL)
	cfg.TutorServiceToken = getEnv("TUTOR_SERVICE_TOKEN", cfg.TutorServiceToken)
	cfg.TipsFile = getEnv("TIPS_FILE", cfg.TipsFile)
	cfg.CallTimeout = time.Duration(getEnvAsInt("CALL_TIMEOUT_SECONDS", int(cfg.CallTimeout/time.Second))) * time.Second
	cfg.StudyFlushInterval = time.Duration(getEnvAsInt("STUDY_FLUSH_SECONDS", int(cfg.StudyFlushInterval/time.Second))) * time.Second
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
