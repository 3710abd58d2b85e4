package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/venuestatus/internal/model"
)

// DBTX はリポジトリが使用するSQL操作を抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// PostgresRefreshRunRepo はPostgreSQLを使用したリフレッシュ履歴リポジトリ。
type PostgresRefreshRunRepo struct {
	db DBTX
}

// NewPostgresRefreshRunRepo はPostgresRefreshRunRepoを生成する。
func NewPostgresRefreshRunRepo(db DBTX) *PostgresRefreshRunRepo {
	return &PostgresRefreshRunRepo{db: db}
}

// Record はリフレッシュ実行結果を1件保存する。IDが空の場合はUUIDを採番する。
func (r *PostgresRefreshRunRepo) Record(ctx context.Context, run *model.RefreshRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	var errorMessage sql.NullString
	if run.ErrorMessage != "" {
		errorMessage = sql.NullString{String: run.ErrorMessage, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_runs (id, started_at, duration_ms, trigger, success, date_count, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.StartedAt, run.Duration.Milliseconds(), string(run.Trigger),
		run.Success, run.DateCount, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("リフレッシュ履歴の保存に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件のリフレッシュ履歴を取得する。
func (r *PostgresRefreshRunRepo) ListRecent(ctx context.Context, limit int) ([]model.RefreshRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, trigger, success, date_count, error_message
		 FROM refresh_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("リフレッシュ履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	runs := make([]model.RefreshRun, 0, limit)
	for rows.Next() {
		var (
			run          model.RefreshRun
			durationMS   int64
			trigger      string
			errorMessage sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &durationMS, &trigger,
			&run.Success, &run.DateCount, &errorMessage); err != nil {
			return nil, fmt.Errorf("リフレッシュ履歴のスキャンに失敗しました: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.Trigger = model.RefreshTrigger(trigger)
		run.ErrorMessage = nullStringValue(errorMessage)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リフレッシュ履歴の読み込みに失敗しました: %w", err)
	}

	return runs, nil
}

// nullStringValue はsql.NullStringから文字列値を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
