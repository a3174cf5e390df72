package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

// AdminStatsAction はジョブ全体の統計を表示するコマンドのアクション
func AdminStatsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.JobRepository.Stats(ctx)
	if err != nil {
		return fmt.Errorf("ジョブ統計の取得に失敗: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "値")
	table.Append("総ジョブ数", fmt.Sprintf("%d", stats.TotalJobs))
	for _, status := range []review.JobStatus{
		review.JobStatusPending,
		review.JobStatusProcessing,
		review.JobStatusCompleted,
		review.JobStatusFailed,
	} {
		table.Append(fmt.Sprintf("状態: %s", status), fmt.Sprintf("%d", stats.CountsByStatus[status]))
	}
	table.Append("平均処理時間", stats.AvgProcessingTime.String())
	table.Render()

	return nil
}
