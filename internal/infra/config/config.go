package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime settings, loaded from the environment.
type Config struct {
	Env    string
	Server ServerConfig
	DB     DBConfig
	Oracle OracleConfig
	Search SearchConfig
	Index  IndexConfig
	Cache  CacheConfig
}

type ServerConfig struct {
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int32
	MinConns int32
}

// DSN builds the Postgres connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// OracleConfig configures the inference oracle clients.
type OracleConfig struct {
	EmbedURL    string
	EmbedModel  string
	RerankURL   string
	RerankModel string
	Dimension   int
	BatchSize   int
	Timeout     int // seconds, per HTTP call
	RatePerSec  float64
}

type SearchConfig struct {
	TopK          int
	StageTimeout  int // seconds, per preparatory stage (embed, retrieve, join)
	RerankTimeout int // seconds, for the whole rerank stage
}

type IndexConfig struct {
	ScanBatchSize  int
	DedupTolerance int
	CursorFile     string
}

type CacheConfig struct {
	Size int
	TTL  int // minutes
}

func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("PORT", "9040"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "works-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "ao3_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "ao3_password"),
			Name:     getEnv("DB_NAME", "ao3_works"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Oracle: OracleConfig{
			EmbedURL:    getEnv("ORACLE_EMBED_URL", "http://inference:8089"),
			EmbedModel:  getEnv("ORACLE_EMBED_MODEL", "multi-qa-MiniLM-L6-cos-v1"),
			RerankURL:   getEnv("ORACLE_RERANK_URL", "http://inference:8089"),
			RerankModel: getEnv("ORACLE_RERANK_MODEL", "cross-encoder/ms-marco-MiniLM-L6-v2"),
			Dimension:   getEnvInt("ORACLE_DIMENSION", 384),
			BatchSize:   getEnvInt("ORACLE_BATCH_SIZE", 32),
			Timeout:     getEnvInt("ORACLE_TIMEOUT_SECONDS", 60),
			RatePerSec:  getEnvFloat64("ORACLE_RATE_PER_SEC", 10),
		},
		Search: SearchConfig{
			TopK:          getEnvInt("SEARCH_TOP_K", 32),
			StageTimeout:  getEnvInt("SEARCH_STAGE_TIMEOUT_SECONDS", 10),
			RerankTimeout: getEnvInt("SEARCH_RERANK_TIMEOUT_SECONDS", 30),
		},
		Index: IndexConfig{
			ScanBatchSize:  getEnvInt("INDEX_SCAN_BATCH_SIZE", 10000),
			DedupTolerance: getEnvInt("INDEX_DEDUP_TOLERANCE", 10),
			CursorFile:     getEnv("INDEX_CURSOR_FILE", "/tmp/ao3-indexer-cursor.json"),
		},
		Cache: CacheConfig{
			Size: getEnvInt("QUERY_CACHE_SIZE", 256),
			TTL:  getEnvInt("QUERY_CACHE_TTL_MINUTES", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
