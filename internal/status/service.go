// Package status は休業日キャッシュ・取得・判定を組み合わせ、営業状況の照会を提供する。
// QueryStatusは失敗を呼び出し元に返さず、劣化した結果に変換する唯一の境界となる。
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/venuestatus/internal/availability"
	"github.com/hitoshi/venuestatus/internal/cache"
	"github.com/hitoshi/venuestatus/internal/model"
	"github.com/hitoshi/venuestatus/internal/repository"
)

// UnavailableMessage は照会に失敗した場合のメッセージ。
const UnavailableMessage = "Status derzeit nicht verfügbar"

// Fetcher は休業日を外部から取得するインターフェース。
type Fetcher interface {
	FetchClosedDates(ctx context.Context) (model.DateSet, error)
}

// Recorder はステータス照会のメトリクス記録インターフェース。
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordScrapeSuccess()
	RecordScrapeFailure(kind string)
}

// Service は営業状況の照会サービス。
type Service struct {
	cache     *cache.Cache
	fetcher   Fetcher
	evaluator *availability.Evaluator
	location  *time.Location
	recorder  Recorder
	history   repository.RefreshRunRepository
	logger    *slog.Logger
	now       func() time.Time
}

// Config はServiceの依存関係。RecorderとHistoryは省略可能。
type Config struct {
	Cache     *cache.Cache
	Fetcher   Fetcher
	Evaluator *availability.Evaluator
	Location  *time.Location
	Recorder  Recorder
	History   repository.RefreshRunRepository
	Logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	history := cfg.History
	if history == nil {
		history = repository.NopRefreshRunRepo{}
	}
	return &Service{
		cache:     cfg.Cache,
		fetcher:   cfg.Fetcher,
		evaluator: cfg.Evaluator,
		location:  loc,
		recorder:  cfg.Recorder,
		history:   history,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。テスト用。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Today は設定されたタイムゾーンでの今日の日付を返す。
func (s *Service) Today() model.CalendarDate {
	return model.DateOf(s.now().In(s.location))
}

// QueryStatus は今日の営業状況を返す。
// キャッシュが有効ならそれを使い、無効なら取得・抽出してキャッシュする。
// 下位層の失敗やpanicは「休業・ステータス不明」として返し、エラーにはしない。
func (s *Service) QueryStatus(ctx context.Context) (result model.StatusResult) {
	evaluatedAt := s.now()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("ステータス照会中にpanicが発生しました",
				slog.Any("panic", rec),
			)
			result = s.unavailable(evaluatedAt)
		}
	}()

	fetched := false
	dates, fetchedAt := s.cache.GetOrRefresh(ctx, func(ctx context.Context) (model.DateSet, error) {
		fetched = true
		return s.fetchAndRecord(ctx, model.RefreshTriggerCacheMiss)
	})

	if s.recorder != nil {
		if fetched {
			s.recorder.RecordCacheMiss()
		} else {
			s.recorder.RecordCacheHit()
		}
	}

	result = s.evaluator.Evaluate(model.DateOf(evaluatedAt.In(s.location)), dates)
	result.EvaluatedAt = evaluatedAt
	result.LastUpdate = fetchedAt
	return result
}

// ForceRefresh はキャッシュを破棄して即座に再取得する。
// QueryStatusと異なり、失敗した場合はエラーを返す。
func (s *Service) ForceRefresh(ctx context.Context) (model.DateSet, time.Time, error) {
	dates, fetchedAt, err := s.cache.Refresh(ctx, func(ctx context.Context) (model.DateSet, error) {
		return s.fetchAndRecord(ctx, model.RefreshTriggerForced)
	})
	if err != nil {
		s.logger.Error("キャッシュの強制更新に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, time.Time{}, fmt.Errorf("休業日の強制更新に失敗: %w", err)
	}

	s.logger.Info("キャッシュを強制更新しました",
		slog.Int("date_count", dates.Len()),
	)
	return dates, fetchedAt, nil
}

// RecentRefreshes は直近のリフレッシュ履歴を返す。
func (s *Service) RecentRefreshes(ctx context.Context, limit int) ([]model.RefreshRun, error) {
	return s.history.ListRecent(ctx, limit)
}

// fetchAndRecord は取得を実行し、結果をメトリクスと履歴に記録する。
// 履歴の保存失敗はログのみで、取得結果には影響しない。
func (s *Service) fetchAndRecord(ctx context.Context, trigger model.RefreshTrigger) (model.DateSet, error) {
	start := s.now()
	dates, err := s.fetcher.FetchClosedDates(ctx)

	run := &model.RefreshRun{
		StartedAt: start,
		Duration:  s.now().Sub(start),
		Trigger:   trigger,
		Success:   err == nil,
	}
	if err != nil {
		run.ErrorMessage = err.Error()
		if s.recorder != nil {
			s.recorder.RecordScrapeFailure(string(model.KindOf(err)))
		}
	} else {
		run.DateCount = dates.Len()
		if s.recorder != nil {
			s.recorder.RecordScrapeSuccess()
		}
	}

	if recErr := s.history.Record(ctx, run); recErr != nil {
		s.logger.Warn("リフレッシュ履歴の保存に失敗しました",
			slog.String("error", recErr.Error()),
			slog.String("trigger", string(trigger)),
		)
	}

	return dates, err
}

// unavailable は照会不能時の劣化結果を返す。
func (s *Service) unavailable(at time.Time) model.StatusResult {
	return model.StatusResult{
		IsOpen:             false,
		Message:            UnavailableMessage,
		Day:                availability.WeekdayLabel(at.In(s.location).Weekday()),
		UpcomingExceptions: []model.CalendarDate{},
		EvaluatedAt:        at,
	}
}
