package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/pr-analyzer/cmd/pr-analyzer/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "pr-analyzer",
		Usage: "プルリクエストの自動コードレビュー基盤",
		Commands: []*cli.Command{
			{
				Name:  "job",
				Usage: "解析ジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "submit",
						Usage: "解析ジョブを投入",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "repo",
								Usage:    "リポジトリURL",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "ref",
								Usage:    "PR番号・ブランチ名・コミットハッシュ",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "types",
								Usage: "解析種別（カンマ区切り: style,bug,security,performance）",
							},
						},
						Action: commands.JobSubmitAction,
					},
					{
						Name:  "status",
						Usage: "ジョブの進捗を表示",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ジョブID",
								Required: true,
							},
						},
						Action: commands.JobStatusAction,
					},
					{
						Name:  "results",
						Usage: "ジョブの集約結果を表示",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ジョブID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "export",
								Usage: "JSONエクスポート先ファイルパス",
							},
						},
						Action: commands.JobResultsAction,
					},
				},
			},
			{
				Name:  "cache",
				Usage: "結果キャッシュ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "キャッシュの利用統計を表示",
						Flags:  []cli.Flag{envFlag},
						Action: commands.CacheStatsAction,
					},
					{
						Name:  "cleanup",
						Usage: "古いキャッシュエントリを削除",
						Flags: []cli.Flag{
							envFlag,
							&cli.IntFlag{
								Name:  "max-age-days",
								Usage: "最終使用日時からの保持日数",
							},
						},
						Action: commands.CacheCleanupAction,
					},
				},
			},
			{
				Name:  "admin",
				Usage: "管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "ジョブ全体の統計を表示",
						Flags:  []cli.Flag{envFlag},
						Action: commands.AdminStatsAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
