package scrape

import "time"

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultRetry は再試行で回復しうるステータス（429/5xx）。
	FetchResultRetry
	// FetchResultFail は再試行しても回復しないステータス（404/410/401/403 など）。
	FetchResultFail
)

const (
	// defaultMaxAttempts は1回の取得での最大試行回数。
	defaultMaxAttempts = 2
	// defaultRetryDelay は再試行までの待機時間の初期値。
	defaultRetryDelay = 2 * time.Second
	// maxRetryDelay は再試行までの待機時間の上限。
	maxRetryDelay = 30 * time.Second
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 429:
		return FetchResultRetry
	case statusCode >= 500:
		return FetchResultRetry
	default:
		return FetchResultFail
	}
}

// CalculateBackoff は試行回数に基づいて指数バックオフの待機時間を計算する。
// 初回はbase、以降2倍ずつ増加し、maxRetryDelayで頭打ちになる。
func CalculateBackoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
