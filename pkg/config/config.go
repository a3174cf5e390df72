package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + 解析LLM用）
	OpenAI OpenAIConfig

	// Git設定
	Git GitConfig

	// 解析パイプライン設定
	Analyzer AnalyzerConfig

	// ジョブ実行設定
	Runner RunnerConfig

	// 結果キャッシュ設定
	Cache CacheConfig

	// タスクキュー設定
	Queue QueueConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
}

// GitConfig はGit操作設定
type GitConfig struct {
	CloneDir      string
	SSHKeyPath    string
	SSHPassword   string // SSH秘密鍵のパスワード（パスフレーズ）
	DefaultBranch string // デフォルトブランチ名（例: main, master）
}

// AnalyzerConfig は解析パイプライン設定
type AnalyzerConfig struct {
	UnitTimeout      time.Duration
	WorkerCount      int
	MaxContentTokens int
}

// RunnerConfig はジョブ実行設定
type RunnerConfig struct {
	JobTimeout   time.Duration
	SoftTimeout  time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// CacheConfig は結果キャッシュ設定
type CacheConfig struct {
	SimilarityThreshold float64
	MaxAgeDays          int
}

// QueueConfig はタスクキュー設定
type QueueConfig struct {
	Workers  int
	Capacity int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "pranalyzer"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "pranalyzer"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		},
		Git: GitConfig{
			CloneDir:      getEnv("GIT_CLONE_DIR", "/var/lib/pr-analyzer/repos"),
			SSHKeyPath:    getEnv("GIT_SSH_KEY_PATH", "/etc/pr-analyzer/ssh/id_rsa"),
			SSHPassword:   getEnv("GIT_SSH_PASSWORD", ""),
			DefaultBranch: getEnv("GIT_DEFAULT_BRANCH", "main"),
		},
		Analyzer: AnalyzerConfig{
			UnitTimeout:      getEnvAsDuration("ANALYZER_UNIT_TIMEOUT", 2*time.Minute),
			WorkerCount:      getEnvAsInt("ANALYZER_WORKER_COUNT", 4),
			MaxContentTokens: getEnvAsInt("ANALYZER_MAX_CONTENT_TOKENS", 6000),
		},
		Runner: RunnerConfig{
			JobTimeout:   getEnvAsDuration("RUNNER_JOB_TIMEOUT", 30*time.Minute),
			SoftTimeout:  getEnvAsDuration("RUNNER_SOFT_TIMEOUT", 25*time.Minute),
			MaxAttempts:  getEnvAsInt("RUNNER_MAX_ATTEMPTS", 3),
			RetryBackoff: getEnvAsDuration("RUNNER_RETRY_BACKOFF", 60*time.Second),
		},
		Cache: CacheConfig{
			SimilarityThreshold: getEnvAsFloat("CACHE_SIMILARITY_THRESHOLD", 0.85),
			MaxAgeDays:          getEnvAsInt("CACHE_MAX_AGE_DAYS", 30),
		},
		Queue: QueueConfig{
			Workers:  getEnvAsInt("QUEUE_WORKERS", 2),
			Capacity: getEnvAsInt("QUEUE_CAPACITY", 100),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
