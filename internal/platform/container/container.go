package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/pr-analyzer/internal/core/cache"
	"github.com/jinford/pr-analyzer/internal/core/review"
	"github.com/jinford/pr-analyzer/internal/infra/git"
	"github.com/jinford/pr-analyzer/internal/infra/openai"
	"github.com/jinford/pr-analyzer/internal/infra/postgres"
	"github.com/jinford/pr-analyzer/internal/platform/queue"
	"github.com/jinford/pr-analyzer/pkg/config"
	"github.com/jinford/pr-analyzer/pkg/db"
)

// ServiceContainer はアプリケーション全体の依存関係を保持する
type ServiceContainer struct {
	ReviewService *review.Service
	Cache         *cache.SemanticCache
	JobRepository review.JobRepository
	Queue         *queue.Queue

	logger   *slog.Logger
	database *db.DB
}

type containerOptions struct {
	logger    *slog.Logger
	embedder  review.Embedder
	llmClient review.LLMClient
	source    review.ChangeSource
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder review.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は解析バックエンドを差し替える
func WithContainerLLMClient(client review.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerChangeSource は ChangeSource を差し替える
func WithContainerChangeSource(source review.ChangeSource) ContainerOption {
	return func(opts *containerOptions) {
		opts.source = source
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, database.Pool, cfg.OpenAI.EmbeddingDimension); err != nil {
		database.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗しました: %w", err)
	}

	container, err := NewContainerWithDB(ctx, cfg, database, opts...)
	if err != nil {
		database.Close()
		return nil, err
	}
	return container, nil
}

// NewContainerWithDB は既存の DB を受け取りコンテナを生成する。
func NewContainerWithDB(ctx context.Context, cfg *config.Config, database *db.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
	}

	// 解析バックエンド (OpenAI)
	llmClient := options.llmClient
	if llmClient == nil {
		client, err := openai.NewAnalyzerClient(cfg.OpenAI.APIKey, cfg.OpenAI.LLMModel)
		if err != nil {
			return nil, fmt.Errorf("OpenAIクライアント初期化に失敗しました: %w", err)
		}
		llmClient = client
	}

	analyzers, err := review.NewAnalyzerSet(
		llmClient,
		review.WithMaxContentTokens(cfg.Analyzer.MaxContentTokens),
		review.WithAnalyzerLogger(options.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("Analyzer初期化に失敗しました: %w", err)
	}

	// ChangeSource (Git)
	source := options.source
	if source == nil {
		gitClient := git.NewClient(cfg.Git.SSHKeyPath, cfg.Git.SSHPassword)
		source = git.NewSource(gitClient, cfg.Git.CloneDir, cfg.Git.DefaultBranch)
	}

	// SemanticCache (PostgreSQL + pgvector)
	cacheRepo := postgres.NewCacheRepository(database.Pool)
	semanticCache := cache.NewSemanticCache(
		cacheRepo,
		cache.WithSimilarityThreshold(cfg.Cache.SimilarityThreshold),
		cache.WithCacheLogger(options.logger),
	)

	fingerprinter := review.NewFingerprinter(embedder, review.WithFingerprinterLogger(options.logger))

	coordinator := review.NewCoordinator(
		analyzers,
		fingerprinter,
		review.WithResultCache(semanticCache),
		review.WithWorkerCount(cfg.Analyzer.WorkerCount),
		review.WithUnitTimeout(cfg.Analyzer.UnitTimeout),
		review.WithCoordinatorLogger(options.logger),
	)

	// JobRepository (PostgreSQL)
	jobRepo := postgres.NewJobRepository(database.Pool)

	runner := review.NewJobRunner(
		jobRepo,
		source,
		coordinator,
		review.WithJobTimeout(cfg.Runner.JobTimeout),
		review.WithSoftTimeout(cfg.Runner.SoftTimeout),
		review.WithMaxAttempts(cfg.Runner.MaxAttempts),
		review.WithRetryBackoff(cfg.Runner.RetryBackoff),
		review.WithRunnerLogger(options.logger),
	)

	// TaskQueue（プロセス内ワーカープール）
	taskQueue := queue.New(cfg.Queue.Workers, cfg.Queue.Capacity, queue.WithLogger(options.logger))
	taskQueue.Start(ctx)

	reviewService := review.NewService(jobRepo, runner, taskQueue, review.WithServiceLogger(options.logger))

	return &ServiceContainer{
		ReviewService: reviewService,
		Cache:         semanticCache,
		JobRepository: jobRepo,
		Queue:         taskQueue,
		logger:        options.logger,
		database:      database,
	}, nil
}

// Close は内部リソースを解放する。積まれたジョブの完了を待ってから閉じる
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.Queue != nil {
		c.Queue.Shutdown()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。
func (c *ServiceContainer) Database() *db.DB {
	if c == nil {
		return nil
	}
	return c.database
}
