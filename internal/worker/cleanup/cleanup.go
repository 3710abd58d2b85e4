// Package cleanup はリフレッシュ履歴の自動削除ジョブを提供する。
// 保持期間を超過したrefresh_runsの行を日次でバッチ削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	// DefaultRetentionDays は履歴の保持日数のデフォルト値。
	DefaultRetentionDays = 90
	// DefaultBatchSize は1回のDELETEで削除する最大行数。
	DefaultBatchSize = 1000
)

const deleteQuery = `
	DELETE FROM refresh_runs
	WHERE id IN (
		SELECT id FROM refresh_runs
		WHERE started_at < $1
		ORDER BY started_at
		LIMIT $2
	)`

// CleanupJob は保持期間を超過したリフレッシュ履歴の削除ジョブ。
// 削除処理は冪等。RetentionDaysが0以下の場合は何も削除しない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
	BatchSize     int
}

// NewCleanupJob は保持日数90日のCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
		BatchSize:     DefaultBatchSize,
	}
}

// Cutoff はこの時刻より前に開始した履歴を削除対象とする境界を返す。
func (j *CleanupJob) Cutoff() time.Time {
	return j.now().UTC().AddDate(0, 0, -j.RetentionDays)
}

// Run は保持期間を超過した履歴をBatchSize件ずつ削除し、削除件数を返す。
// 1バッチの削除件数がBatchSize未満になった時点で終了する。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	if j.RetentionDays <= 0 {
		return 0, nil
	}
	batch := j.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	start := time.Now()
	cutoff := j.Cutoff()

	var total int64
	for {
		result, err := j.db.ExecContext(ctx, deleteQuery, cutoff, batch)
		if err != nil {
			j.logger.Error("履歴クリーンアップに失敗しました",
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
				slog.Int64("deleted_count", total),
			)
			return total, fmt.Errorf("履歴クリーンアップの実行に失敗: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		total += n
		if n < int64(batch) {
			break
		}
	}

	j.logger.Info("履歴クリーンアップが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return total, nil
}

// Start は起動直後に1回実行し、以後intervalごとにRunを繰り返す。
// ctxがキャンセルされると終了する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
