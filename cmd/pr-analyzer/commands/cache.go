package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

// CacheStatsAction はキャッシュの利用統計を表示するコマンドのアクション
func CacheStatsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Cache.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("キャッシュ統計の取得に失敗: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "値")
	table.Append("エントリ数", fmt.Sprintf("%d", stats.Entries))
	table.Append("ヒット数", fmt.Sprintf("%d", stats.Hits))
	table.Append("ミス数", fmt.Sprintf("%d", stats.Misses))
	table.Append("ヒット率", fmt.Sprintf("%.1f%%", stats.HitRate*100))
	for _, analysisType := range review.AllAnalysisTypes() {
		if count, ok := stats.ByType[analysisType]; ok {
			table.Append(fmt.Sprintf("種別: %s", analysisType), fmt.Sprintf("%d", count))
		}
	}
	languages := make([]string, 0, len(stats.ByLanguage))
	for language := range stats.ByLanguage {
		languages = append(languages, language)
	}
	sort.Strings(languages)
	for _, language := range languages {
		table.Append(fmt.Sprintf("言語: %s", language), fmt.Sprintf("%d", stats.ByLanguage[language]))
	}
	table.Render()

	return nil
}

// CacheCleanupAction は古いキャッシュエントリを削除するコマンドのアクション
func CacheCleanupAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	maxAgeDays := cmd.Int("max-age-days")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if maxAgeDays <= 0 {
		maxAgeDays = appCtx.Config.Cache.MaxAgeDays
	}

	deleted, err := appCtx.Container.Cache.Cleanup(ctx, time.Duration(maxAgeDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("キャッシュのクリーンアップに失敗: %w", err)
	}

	fmt.Printf("✓ %d 件のエントリを削除しました\n", deleted)
	return nil
}
