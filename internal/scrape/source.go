// Package scrape は会場サイトを取得し、休業日を抽出する。
// 分類付きのエラーを返し、劣化判断は呼び出し元（キャッシュ）に委ねる。
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/venuestatus/internal/extract"
	"github.com/hitoshi/venuestatus/internal/model"
)

// userAgent は取得時に送信するUser-Agent。
const userAgent = "Mozilla/5.0 (compatible; venuestatus/1.0; +https://github.com/hitoshi/venuestatus)"

// Recorder は取得処理のメトリクス記録インターフェース。
type Recorder interface {
	RecordHTTPStatus(statusCode int)
	RecordScrapeLatency(duration time.Duration)
}

// SourceConfig はSourceの設定パラメータ。
type SourceConfig struct {
	URL         string
	MaxBodySize int64
	// MaxAttempts は429/5xx・通信エラー時を含む最大試行回数（デフォルト: 2）。
	MaxAttempts int
	// RetryDelay は再試行までの待機時間の初期値（デフォルト: 2秒）。
	RetryDelay time.Duration
}

// Source は会場サイトから休業日を取得する。
type Source struct {
	client   *http.Client
	config   SourceConfig
	logger   *slog.Logger
	recorder Recorder
}

// NewSource はSourceの新しいインスタンスを生成する。
// recorderはnilでもよい。
func NewSource(client *http.Client, config SourceConfig, logger *slog.Logger, recorder Recorder) *Source {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 * 1024 * 1024
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	return &Source{
		client:   client,
		config:   config,
		logger:   logger,
		recorder: recorder,
	}
}

// FetchClosedDates はページを取得して休業日を抽出する。
// cache.FetchFuncとして使用する。
func (s *Source) FetchClosedDates(ctx context.Context) (model.DateSet, error) {
	start := time.Now()

	body, contentType, err := s.fetchWithRetry(ctx)
	if s.recorder != nil {
		s.recorder.RecordScrapeLatency(time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	text, err := s.toText(contentType, body)
	if err != nil {
		return nil, err
	}

	dates := extract.Dates(text)

	s.logger.Info("会場サイトから休業日を抽出しました",
		slog.String("url", s.config.URL),
		slog.Int("date_count", dates.Len()),
		slog.Int("body_bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return dates, nil
}

// toText はレスポンスをテキストに変換する。
// フィードの場合はgofeedでパースし、それ以外はHTMLとして扱う。
func (s *Source) toText(contentType string, body []byte) (string, error) {
	if !IsFeed(contentType, body) {
		return extract.TextFromHTML(body), nil
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		s.logger.Error("フィードのパースに失敗しました",
			slog.String("url", s.config.URL),
			slog.String("error", err.Error()),
		)
		return "", model.NewParseError("parse source feed", err)
	}
	return extract.TextFromFeed(feed), nil
}

// errRetryable は再試行対象の失敗を表す内部エラー。
var errRetryable = errors.New("retryable")

// fetchWithRetry は429/5xxと通信エラーの場合にバックオフ付きで再試行する。
func (s *Source) fetchWithRetry(ctx context.Context) ([]byte, string, error) {
	var lastErr error

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(s.config.RetryDelay, attempt-1)
			s.logger.Warn("会場サイトの取得を再試行します",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, "", model.NewNetworkError("fetch source", ctx.Err())
			case <-time.After(delay):
			}
		}

		body, contentType, err := s.fetchOnce(ctx)
		if err == nil {
			return body, contentType, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) {
			break
		}
	}

	return nil, "", lastErr
}

// fetchOnce は1回分のHTTP GETを実行する。
func (s *Source) fetchOnce(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return nil, "", model.NewConfigError("build source request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, application/rss+xml, application/atom+xml, application/xml, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("HTTPリクエストに失敗しました",
			slog.String("url", s.config.URL),
			slog.String("error", err.Error()),
		)
		return nil, "", model.NewNetworkError("fetch source", fmt.Errorf("%w: %w", errRetryable, err))
	}
	defer resp.Body.Close()

	if s.recorder != nil {
		s.recorder.RecordHTTPStatus(resp.StatusCode)
	}

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultRetry:
		return nil, "", model.NewNetworkError("fetch source",
			fmt.Errorf("%w: HTTP status %d", errRetryable, resp.StatusCode))
	default:
		return nil, "", model.NewNetworkError("fetch source",
			fmt.Errorf("HTTP status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodySize))
	if err != nil {
		return nil, "", model.NewNetworkError("read source body", fmt.Errorf("%w: %w", errRetryable, err))
	}

	return body, resp.Header.Get("Content-Type"), nil
}
