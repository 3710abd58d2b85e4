package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, source, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRefreshFailed   = "REFRESH_FAILED"
	ErrCodeHistoryDisabled = "HISTORY_DISABLED"
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewRefreshFailedError はキャッシュ強制更新の失敗エラーを生成する。
func NewRefreshFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRefreshFailed,
		Message:  fmt.Sprintf("Fehler beim Aktualisieren: %s", reason),
		Category: "source",
		Action:   "Bitte später erneut versuchen.",
	}
}

// NewHistoryDisabledError はリフレッシュ履歴が無効な場合のエラーを生成する。
func NewHistoryDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeHistoryDisabled,
		Message:  "Der Aktualisierungsverlauf ist nicht aktiviert.",
		Category: "system",
		Action:   "DATABASE_URL setzen, um den Verlauf zu aktivieren.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Zu viele Anfragen.",
		Category: "system",
		Action:   "Bitte etwas warten und erneut versuchen.",
	}
}

// NewNotFoundError は存在しないパスへのアクセスエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Seite nicht gefunden.",
		Category: "validation",
		Action:   "Adresse prüfen.",
	}
}

// NewInternalError は内部エラーを生成する。詳細は利用者に返さない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Interner Serverfehler.",
		Category: "system",
		Action:   "Bitte später erneut versuchen.",
	}
}

// ErrorKind は外部データ取得エラーの分類。
type ErrorKind string

const (
	// ErrKindNetwork は通信失敗（接続不可、タイムアウト、5xxなど）。
	ErrKindNetwork ErrorKind = "network"
	// ErrKindParse はレスポンスやファイルの形式不正。
	ErrKindParse ErrorKind = "parse"
	// ErrKindConfig は設定不備。起動時のみ致命的に扱う。
	ErrKindConfig ErrorKind = "config"
)

// FetchError は分類付きのエラー。
// 各コンポーネントは境界でこれを劣化結果に変換する。
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError(op string, err error) *FetchError {
	return &FetchError{Kind: ErrKindNetwork, Op: op, Err: err}
}

// NewParseError はパースエラーを生成する。
func NewParseError(op string, err error) *FetchError {
	return &FetchError{Kind: ErrKindParse, Op: op, Err: err}
}

// NewConfigError は設定エラーを生成する。
func NewConfigError(op string, err error) *FetchError {
	return &FetchError{Kind: ErrKindConfig, Op: op, Err: err}
}

// KindOf はエラーの分類を返す。FetchErrorでない場合は空文字列を返す。
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
