// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/venuestatus/internal/model"
)

// RefreshRunRepository はリフレッシュ履歴の永続化インターフェース。
// DATABASE_URL未設定時はNopRefreshRunRepoを使用する。
type RefreshRunRepository interface {
	// Record はリフレッシュ実行結果を保存する。
	Record(ctx context.Context, run *model.RefreshRun) error

	// ListRecent は新しい順に最大limit件の履歴を取得する。
	ListRecent(ctx context.Context, limit int) ([]model.RefreshRun, error)
}

// NopRefreshRunRepo は何も保存しないリポジトリ。
type NopRefreshRunRepo struct{}

// Record は何もしない。
func (NopRefreshRunRepo) Record(ctx context.Context, run *model.RefreshRun) error {
	return nil
}

// ListRecent は常に空の履歴を返す。
func (NopRefreshRunRepo) ListRecent(ctx context.Context, limit int) ([]model.RefreshRun, error) {
	return []model.RefreshRun{}, nil
}
