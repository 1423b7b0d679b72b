// Package cleanup は古い予約枠の自動削除ジョブを提供する。
// 予約日が保持期間（デフォルト7日）より前の予約枠を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/metrics"
)

// DefaultRetentionDays は予約枠の保持日数のデフォルト値。
const DefaultRetentionDays = 7

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CleanupJob は保持期間を過ぎた予約枠の削除ジョブ。
// 削除対象がなくてもエラーにならず、何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。mはnilでもよい。
func NewCleanupJob(db Executor, m metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		metrics:       m,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Cutoff は削除の境界日時を返す。予約日がこれより前の予約枠が削除対象になる。
func (j *CleanupJob) Cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(j.RetentionDays) * 24 * time.Hour)
}

// Run は予約日が now - RetentionDays より前の予約枠を削除し、削除件数を返す。
// 境界ちょうどの予約枠は残す。
func (j *CleanupJob) Run(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	cutoff := j.Cutoff(now)

	result, err := j.db.ExecContext(ctx, `DELETE FROM appointments WHERE appointment_date < $1`, cutoff)
	if err != nil {
		j.logger.Error("予約枠クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("予約枠クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordAppointmentsSwept(deletedCount)
	}

	j.logger.Info("予約枠クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deletedCount, nil
}

// Start はinterval間隔でクリーンアップを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case now := <-ticker.C:
			// エラーはRun内でログ出力済み
			_, _ = j.Run(ctx, now)
		}
	}
}
