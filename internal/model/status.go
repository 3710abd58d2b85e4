package model

import "time"

// StatusResult は営業状況の判定結果。
// クエリのたびに再計算され、永続化されない。
type StatusResult struct {
	IsOpen  bool
	Message string
	// Day は判定日の曜日ラベル（例: "Mittwoch"）。
	Day string
	// UpcomingExceptions は判定日以降の休業日（昇順、最大5件）。
	UpcomingExceptions []CalendarDate
	EvaluatedAt        time.Time
	// LastUpdate は例外日キャッシュの最終更新時刻。不明な場合はゼロ値。
	LastUpdate time.Time
}

// UpcomingStrings はUpcomingExceptionsをISO-8601文字列で返す。
func (r StatusResult) UpcomingStrings() []string {
	out := make([]string, len(r.UpcomingExceptions))
	for i, d := range r.UpcomingExceptions {
		out[i] = d.String()
	}
	return out
}

// RefreshTrigger はリフレッシュの契機を表す。
type RefreshTrigger string

const (
	// RefreshTriggerCacheMiss はキャッシュ期限切れによるリフレッシュ。
	RefreshTriggerCacheMiss RefreshTrigger = "cache_miss"
	// RefreshTriggerForced は /refresh などによる強制リフレッシュ。
	RefreshTriggerForced RefreshTrigger = "forced"
)

// RefreshRun は1回のリフレッシュ（取得・抽出）の記録。
type RefreshRun struct {
	ID           string
	StartedAt    time.Time
	Duration     time.Duration
	Trigger      RefreshTrigger
	Success      bool
	DateCount    int
	ErrorMessage string
}
