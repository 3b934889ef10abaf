// Package cleanup は削除リクエスト記録の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したdeletion_requestsを定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は削除リクエスト記録のデフォルト保持日数。
const DefaultRetentionDays = 90

// Purger は受付日時がcutoffより前の削除リクエスト記録を削除するインターフェース。
// repository.DeletionRequestRepositoryが満たす。
type Purger interface {
	DeleteRequestedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeRecorder は削除件数を記録するインターフェース（nil可）。
type PurgeRecorder interface {
	RecordDeletionRequestsPurged(count int64)
}

// CleanupJob は保持期間を超過した削除リクエスト記録の自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	purger        Purger
	recorder      PurgeRecorder
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 削除リクエスト記録の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(purger Purger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger:        purger,
		recorder:      recorder,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Cutoff は現在時刻から保持日数を差し引いた削除基準日時を返す。
func (j *CleanupJob) Cutoff() time.Time {
	return j.now().AddDate(0, 0, -j.RetentionDays)
}

// Run は保持期間を超過した削除リクエスト記録を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		return fmt.Errorf("保持日数が不正です: %d", j.RetentionDays)
	}

	start := time.Now()
	cutoff := j.Cutoff()

	deletedCount, err := j.purger.DeleteRequestedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("削除リクエストのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("削除リクエストのクリーンアップに失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordDeletionRequestsPurged(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("削除リクエストのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。個々の実行の失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("クリーンアップを次回に持ち越します", slog.String("error", err.Error()))
	}
}
