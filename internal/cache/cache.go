// Package cache は休業日集合のファイルキャッシュを提供する。
// 鮮度判定（デフォルト24時間）と、同時リフレッシュを1件に抑える排他制御を持つ。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hitoshi/venuestatus/internal/model"
)

// DefaultDuration はキャッシュの有効期間のデフォルト値。
const DefaultDuration = 24 * time.Hour

// FetchFunc は休業日集合を外部から取得する関数。
// ネットワーク取得と抽出を含む。
type FetchFunc func(ctx context.Context) (model.DateSet, error)

// Entry はキャッシュエントリ。生成後は読み取り専用として扱う。
type Entry struct {
	FetchedAt time.Time
	Dates     model.DateSet
}

// IsFresh はnow時点でエントリが有効期間内かを返す。
func (e *Entry) IsFresh(now time.Time, duration time.Duration) bool {
	if e == nil || e.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.FetchedAt) < duration
}

// fileFormat はキャッシュファイルのJSON形式。
type fileFormat struct {
	Timestamp string   `json:"timestamp"`
	Dates     []string `json:"dates"`
}

// Cache は休業日集合のファイルキャッシュ。
// 1つのミューテックスでチェックとリフレッシュの一連の処理を保護し、
// 外部取得が同時に2件以上走らないことを保証する。
type Cache struct {
	path     string
	duration time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	memory *Entry
}

// New はCacheの新しいインスタンスを生成する。
// durationが0以下の場合はDefaultDurationを使用する。
func New(path string, duration time.Duration, logger *slog.Logger) *Cache {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Cache{
		path:     path,
		duration: duration,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。テスト用。
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Duration はキャッシュの有効期間を返す。
func (c *Cache) Duration() time.Duration {
	return c.duration
}

// Load は永続化されたエントリを読み込む。
// ファイルが存在しない、読めない、形式不正、または期限切れの場合はfalseを返す。
// 読み込みエラーを呼び出し元に返すことはない。
func (c *Cache) Load() (*Entry, bool) {
	entry, err := c.readFile()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("キャッシュファイルの読み込みに失敗しました",
				slog.String("path", c.path),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	if !entry.IsFresh(c.now(), c.duration) {
		c.logger.Info("キャッシュの有効期限が切れています",
			slog.Time("fetched_at", entry.FetchedAt),
			slog.Duration("duration", c.duration),
		)
		return nil, false
	}

	return entry, true
}

// Save は休業日集合を現在時刻付きで永続化し、既存の内容を上書きする。
// 書き込み失敗はログに記録して握りつぶす。
func (c *Cache) Save(dates model.DateSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.save(&Entry{FetchedAt: c.now(), Dates: dates})
}

// GetOrRefresh は有効なキャッシュがあればそれを返し、なければfetchで取得して保存する。
// 永続化されたエントリを毎回読み直すため、他のインスタンスによる更新も反映される。
// 排他ロックを保持したままチェックとリフレッシュを行うため、
// 同時に呼び出されてもfetchは1回しか実行されない。
// fetchの失敗は空集合として扱い、その空集合もキャッシュする。
func (c *Cache) GetOrRefresh(ctx context.Context, fetch FetchFunc) (model.DateSet, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// 別プロセスが書き換えたファイルを反映するため、毎回ファイルを読む。
	// メモリ上のエントリはファイルより新しい場合（書き込み失敗時など）にだけ使う。
	entry, ok := c.Load()
	if c.memory.IsFresh(now, c.duration) && (!ok || c.memory.FetchedAt.After(entry.FetchedAt)) {
		return c.memory.Dates.Clone(), c.memory.FetchedAt
	}

	if ok {
		c.memory = entry
		c.logger.Info("キャッシュ済みの休業日を使用します",
			slog.Time("fetched_at", entry.FetchedAt),
			slog.Int("date_count", entry.Dates.Len()),
		)
		return entry.Dates.Clone(), entry.FetchedAt
	}

	c.logger.Info("キャッシュが無効なため休業日を再取得します")

	dates, err := fetch(ctx)
	if err != nil {
		c.logger.Error("休業日の取得に失敗しました。空の集合をキャッシュします",
			slog.String("error", err.Error()),
			slog.String("error_kind", string(model.KindOf(err))),
		)
		dates = model.NewDateSet()
	}
	if dates == nil {
		dates = model.NewDateSet()
	}

	entry = &Entry{FetchedAt: c.now(), Dates: dates}
	c.save(entry)

	c.logger.Info("休業日を再取得しました",
		slog.Int("date_count", dates.Len()),
	)

	return dates.Clone(), entry.FetchedAt
}

// Refresh はキャッシュを破棄してから即座にfetchを実行し、成功した場合のみ保存する。
// GetOrRefreshと同じロックを使用する。失敗時はエラーを返す。
func (c *Cache) Refresh(ctx context.Context, fetch FetchFunc) (model.DateSet, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked()

	dates, err := fetch(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if dates == nil {
		dates = model.NewDateSet()
	}

	entry := &Entry{FetchedAt: c.now(), Dates: dates}
	c.save(entry)

	return dates.Clone(), entry.FetchedAt, nil
}

// Invalidate は永続化されたエントリとメモリ上のエントリを破棄する。
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Cache) invalidateLocked() {
	c.memory = nil
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("キャッシュファイルの削除に失敗しました",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
	}
}

// save はエントリをメモリに保持し、ファイルに書き込む。
func (c *Cache) save(entry *Entry) {
	c.memory = entry
	if err := c.writeFile(entry); err != nil {
		c.logger.Error("キャッシュファイルの保存に失敗しました",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
	}
}

// readFile はキャッシュファイルを読み込んでパースする。
func (c *Cache) readFile() (*Entry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, model.NewParseError("decode cache file", err)
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		return nil, model.NewParseError("parse cache timestamp", err)
	}

	dates := model.NewDateSet()
	for _, s := range f.Dates {
		d, err := model.ParseCalendarDate(s)
		if err != nil {
			return nil, model.NewParseError("parse cache date", err)
		}
		dates.Add(d)
	}

	return &Entry{FetchedAt: fetchedAt, Dates: dates}, nil
}

// writeFile はエントリを一時ファイルに書き込み、リネームで置き換える。
func (c *Cache) writeFile(entry *Entry) error {
	data, err := json.Marshal(fileFormat{
		Timestamp: entry.FetchedAt.Format(time.RFC3339Nano),
		Dates:     entry.Dates.Strings(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	return nil
}
