package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

// JobSubmitAction は解析ジョブを投入するコマンドのアクション。
// プロセス内キューで実行されるため、コマンドはジョブの完了を待って終了する
func JobSubmitAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	repo := cmd.String("repo")
	ref := cmd.String("ref")
	typesFlag := cmd.String("types")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var types []review.AnalysisType
	if typesFlag != "" {
		for _, s := range strings.Split(typesFlag, ",") {
			t, err := review.ParseAnalysisType(strings.TrimSpace(s))
			if err != nil {
				return err
			}
			types = append(types, t)
		}
	}

	job, err := appCtx.Container.ReviewService.Submit(ctx, review.SubmitRequest{
		Repository: repo,
		ChangeRef:  ref,
		Types:      types,
	})
	if err != nil {
		return fmt.Errorf("ジョブの投入に失敗: %w", err)
	}

	fmt.Printf("✓ ジョブを投入しました: %s\n", job.ID)
	return nil
}

// JobStatusAction はジョブの進捗を表示するコマンドのアクション
func JobStatusAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID := cmd.String("id")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	status, err := appCtx.Container.ReviewService.GetStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ステータスの取得に失敗: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "値")

	table.Append("ジョブID", status.JobID)
	table.Append("状態", string(status.Status))
	table.Append("進捗", fmt.Sprintf("%.1f%% (%d/%d)", status.ProgressPercent, status.ProcessedUnits, status.TotalUnits))
	if status.CurrentUnit != nil {
		table.Append("処理中ユニット", *status.CurrentUnit)
	}
	if status.EstimatedRemaining != "" {
		table.Append("残り時間（推定）", status.EstimatedRemaining)
	}
	table.Append("作成日時", status.CreatedAt.Format(time.RFC3339))
	if status.StartedAt != nil {
		table.Append("開始日時", status.StartedAt.Format(time.RFC3339))
	}
	if status.CompletedAt != nil {
		table.Append("完了日時", status.CompletedAt.Format(time.RFC3339))
	}
	if status.ErrorMessage != nil {
		table.Append("エラー", *status.ErrorMessage)
	}

	table.Render()
	return nil
}

// JobResultsAction はジョブの集約結果を表示するコマンドのアクション
func JobResultsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID := cmd.String("id")
	exportFile := cmd.String("export")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	results, err := appCtx.Container.ReviewService.GetResults(ctx, jobID)
	if err != nil {
		return fmt.Errorf("結果の取得に失敗: %w", err)
	}

	if exportFile != "" {
		return exportResultsToJSON(results, exportFile)
	}

	displayResults(results)
	return nil
}

// displayResults は集約結果をテーブル形式で表示します
func displayResults(results *review.JobResults) {
	fmt.Println("\n=== サマリ ===")
	summaryTable := tablewriter.NewWriter(os.Stdout)
	summaryTable.Header("項目", "値")
	summaryTable.Append("総ユニット数", fmt.Sprintf("%d", results.Summary.TotalUnits))
	summaryTable.Append("総指摘数", fmt.Sprintf("%d", results.Summary.TotalFindings))
	summaryTable.Append("キャッシュヒット数", fmt.Sprintf("%d", results.Summary.CacheHits))
	summaryTable.Render()

	if len(results.Summary.BySeverity) > 0 {
		fmt.Println("\n=== 深刻度別内訳 ===")
		severityTable := tablewriter.NewWriter(os.Stdout)
		severityTable.Header("深刻度", "件数")
		for _, sev := range []review.Severity{review.SeverityCritical, review.SeverityHigh, review.SeverityMedium, review.SeverityLow} {
			if count, ok := results.Summary.BySeverity[sev]; ok {
				severityTable.Append(string(sev), fmt.Sprintf("%d", count))
			}
		}
		severityTable.Render()
	}

	fmt.Println("\n=== 指摘一覧 ===")
	findingsTable := tablewriter.NewWriter(os.Stdout)
	findingsTable.Header("ファイル", "種別", "行", "深刻度", "内容")
	for _, unit := range results.Units {
		for _, f := range unit.Findings {
			line := "-"
			if f.Line != nil {
				line = fmt.Sprintf("%d", *f.Line)
			}
			findingsTable.Append(unit.FilePath, string(unit.Type), line, string(f.Severity), f.Description)
		}
	}
	findingsTable.Render()
}

// exportResultsToJSON は集約結果をJSON形式でエクスポートします
func exportResultsToJSON(results *review.JobResults, filename string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("JSONエンコードに失敗: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("ファイル書き込みに失敗: %w", err)
	}

	fmt.Printf("✓ 結果を %s にエクスポートしました\n", filename)
	return nil
}
