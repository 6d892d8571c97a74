package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds application configuration.
type Config struct {
	Port            string   `yaml:"port" validate:"required,numeric"`
	Env             string   `yaml:"env" validate:"oneof=dev local staging production"`
	CORSAllowOrigin []string `yaml:"cors_allow_origins"`

	DBDriver    string `yaml:"db_driver" validate:"oneof=sqlite postgres memory"`
	DatabaseURL string `yaml:"database_url" validate:"required_if=DBDriver postgres"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=DBDriver sqlite"`

	ObjectStoreType string `yaml:"object_store" validate:"oneof=local s3 minio"`
	LocalStoreDir   string `yaml:"local_store_dir" validate:"required_if=ObjectStoreType local"`
	AWSRegion       string `yaml:"aws_region"`
	S3Bucket        string `yaml:"s3_bucket" validate:"required_if=ObjectStoreType s3"`
	S3Prefix        string `yaml:"s3_prefix"`
	MinioEndpoint   string `yaml:"minio_endpoint" validate:"required_if=ObjectStoreType minio"`
	MinioAccessKey  string `yaml:"minio_access_key"`
	MinioSecretKey  string `yaml:"minio_secret_key"`
	MinioBucket     string `yaml:"minio_bucket" validate:"required_if=ObjectStoreType minio"`
	MinioUseSSL     bool   `yaml:"minio_use_ssl"`

	LLMProvider     string        `yaml:"llm_provider" validate:"oneof=gemini openai"`
	LLMModel        string        `yaml:"llm_model" validate:"required"`
	GeminiAPIKey    string        `yaml:"-"`
	OpenAIAPIKey    string        `yaml:"-"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" validate:"gt=0"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
}

// DefaultMaxUploadBytes is the upload ceiling used when MAX_UPLOAD_BYTES is unset.
const DefaultMaxUploadBytes int64 = 10 << 20

// Load reads configuration from env files, an optional YAML overlay and the
// process environment, in increasing order of precedence.
func Load() (Config, error) {
	if loaded := loadEnvFiles(envFiles()...); len(loaded) > 0 {
		log.Printf("config: loaded env files %v", loaded)
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if cfg.Env == "production" && cfg.DBDriver == "memory" {
		log.Printf("config: memory database selected in production; records will not survive a restart")
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func defaults() Config {
	return Config{
		Port:            "8080",
		Env:             "dev",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		DBDriver:        "sqlite",
		SQLitePath:      "./data/labels.db",
		ObjectStoreType: "local",
		LocalStoreDir:   "./data/uploads",
		LLMProvider:     "gemini",
		LLMModel:        "gemini-1.5-flash",
		AnalysisTimeout: 60 * time.Second,
		MaxUploadBytes:  DefaultMaxUploadBytes,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
	}
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = normalizeEnv(getEnv("ENV", cfg.Env))
	if raw := os.Getenv("CORS_ALLOW_ORIGINS"); raw != "" {
		cfg.CORSAllowOrigin = splitAndTrim(raw)
	}

	cfg.DBDriver = normalizeDBDriver(getEnv("DB_DRIVER", cfg.DBDriver))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)

	cfg.ObjectStoreType = normalizeStoreType(getEnv("OBJECT_STORE", cfg.ObjectStoreType))
	cfg.LocalStoreDir = getEnv("LOCAL_STORE_DIR", cfg.LocalStoreDir)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = getEnv("S3_PREFIX", cfg.S3Prefix)
	cfg.MinioEndpoint = getEnv("MINIO_ENDPOINT", cfg.MinioEndpoint)
	cfg.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getEnv("MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getEnv("MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioUseSSL = getBool("MINIO_USE_SSL", cfg.MinioUseSSL)

	cfg.LLMProvider = normalizeProvider(getEnv("LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	if cfg.LLMProvider == "openai" && os.Getenv("LLM_MODEL") == "" && cfg.LLMModel == "gemini-1.5-flash" {
		cfg.LLMModel = "gpt-4o-mini"
	}
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.AnalysisTimeout = getDuration("ANALYSIS_TIMEOUT", cfg.AnalysisTimeout)
	cfg.MaxUploadBytes = getInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)

	cfg.RateLimitRPS = getFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = int(getInt64("RATE_LIMIT_BURST", int64(cfg.RateLimitBurst)))
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config: ignoring invalid %s=%q", key, raw)
		return def
	}
	return v
}

func getInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("config: ignoring invalid %s=%q", key, raw)
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config: ignoring invalid %s=%q", key, raw)
		return def
	}
	return v
}

// getDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("config: ignoring invalid %s=%q", key, raw)
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeDBDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "memory", "mem":
		return "memory"
	default:
		return "sqlite"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai":
		return "openai"
	default:
		return "gemini"
	}
}
