// Package warmup は休業日キャッシュを定期的に温めるバックグラウンド処理を提供する。
// キャッシュ期限切れ後の最初の利用者がサイト取得を待たないようにする。
package warmup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/venuestatus/internal/model"
)

// StatusQuerier は営業状況の照会インターフェース。
type StatusQuerier interface {
	QueryStatus(ctx context.Context) model.StatusResult
}

// Warmer は一定間隔でステータスを照会し、キャッシュを最新に保つ。
type Warmer struct {
	status StatusQuerier
	logger *slog.Logger
}

// NewWarmer はWarmerの新しいインスタンスを生成する。
func NewWarmer(status StatusQuerier, logger *slog.Logger) *Warmer {
	return &Warmer{
		status: status,
		logger: logger,
	}
}

// Start は起動直後に1回照会し、以降interval間隔で照会を繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Warmer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("キャッシュウォームアップを開始しました",
		slog.Duration("interval", interval),
	)

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("キャッシュウォームアップを停止しました")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce はステータスを1回照会する。期限内のキャッシュがあれば取得は発生しない。
func (w *Warmer) RunOnce(ctx context.Context) model.StatusResult {
	start := time.Now()
	result := w.status.QueryStatus(ctx)

	w.logger.Info("キャッシュウォームアップが完了しました",
		slog.Bool("is_open", result.IsOpen),
		slog.Int("upcoming_count", len(result.UpcomingExceptions)),
		slog.Time("last_update", result.LastUpdate),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result
}
