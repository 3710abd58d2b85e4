package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/hitoshi/venuestatus/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string
	RefreshRatePerMin int
	WarmupInterval    time.Duration

	// Venue
	VenueName string
	SourceURL string
	Timezone  string

	// Fetch
	FetchTimeout      time.Duration
	FetchMaxSize      int64
	FetchAllowPrivate bool

	// Cache
	CacheFile     string
	CacheDuration time.Duration

	// Database（空の場合はリフレッシュ履歴を無効化）
	DatabaseURL          string
	HistoryRetentionDays int

	// Bot
	NextcloudURL  string
	BotUsername   string
	BotPassword   string
	StatusAPIURL  string
	StatusTimeout time.Duration
	// TalkTimeout はチャットサーバー呼び出しのタイムアウト。0はトランスポートのデフォルトに任せる。
	TalkTimeout          time.Duration
	TriggerWords         []string
	PollInterval         time.Duration
	ConversationInterval time.Duration
	EmptyBackoff         time.Duration
	MaxConsecutiveErrors int
	DedupCapacity        int
	ReplyRatePerMin      int
	// BotMetricsPort が空でなければボットプロセスも/metricsを公開する。
	BotMetricsPort string

	// Logging
	LogLevel string
}

// defaultTriggerWords はTRIGGER_WORDS未設定時のトリガー語。
const defaultTriggerWords = "nippes,ist das nippes offen,nippes status,ist das nippes geöffnet,nippes heute"

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, model.NewConfigError("load .env", err)
	}

	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "5001")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.RefreshRatePerMin = getEnvInt("REFRESH_RATE_PER_MIN", 6)
	cfg.WarmupInterval = getEnvDuration("WARMUP_INTERVAL", time.Hour)

	cfg.VenueName = getEnvString("VENUE_NAME", "Nippes")
	cfg.SourceURL = getEnvString("SOURCE_URL", "https://www.nippes-muenster.de/")
	cfg.Timezone = getEnvString("TIMEZONE", "Europe/Berlin")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchAllowPrivate = getEnvBool("FETCH_ALLOW_PRIVATE", false)

	cfg.CacheFile = getEnvString("CACHE_FILE", "closed_dates_cache.json")
	cfg.CacheDuration = getEnvDuration("CACHE_DURATION", 24*time.Hour)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", 90)

	cfg.NextcloudURL = strings.TrimRight(os.Getenv("NEXTCLOUD_URL"), "/")
	cfg.BotUsername = getEnvString("BOT_USERNAME", "nippes-bot")
	cfg.BotPassword = os.Getenv("BOT_PASSWORD")
	cfg.StatusAPIURL = getEnvString("STATUS_API_URL", "http://localhost:5001/api/status")
	cfg.StatusTimeout = getEnvDuration("STATUS_TIMEOUT", 5*time.Second)
	cfg.TalkTimeout = getEnvDuration("TALK_TIMEOUT", 15*time.Second)
	cfg.TriggerWords = splitList(getEnvString("TRIGGER_WORDS", defaultTriggerWords))
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 5*time.Second)
	cfg.ConversationInterval = getEnvDuration("CONVERSATION_INTERVAL", 10*time.Second)
	cfg.EmptyBackoff = getEnvDuration("EMPTY_BACKOFF", 30*time.Second)
	cfg.MaxConsecutiveErrors = getEnvInt("MAX_CONSECUTIVE_ERRORS", 10)
	cfg.DedupCapacity = getEnvInt("DEDUP_CAPACITY", 1000)
	cfg.ReplyRatePerMin = getEnvInt("REPLY_RATE_PER_MIN", 6)
	cfg.BotMetricsPort = os.Getenv("BOT_METRICS_PORT")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateBot はボットの起動に必要な設定が揃っているかを検証する。
func (c *Config) ValidateBot() error {
	var missing []string
	if c.NextcloudURL == "" {
		missing = append(missing, "NEXTCLOUD_URL")
	}
	if c.BotPassword == "" {
		missing = append(missing, "BOT_PASSWORD")
	}
	if len(missing) > 0 {
		return model.NewConfigError("validate bot config",
			fmt.Errorf("required environment variables are not set: %v", missing))
	}
	return nil
}

// HistoryEnabled はリフレッシュ履歴を記録するかを返す。
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}

// Location は判定に使うタイムゾーンを返す。
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, model.NewConfigError("load timezone", fmt.Errorf("%q: %w", c.Timezone, err))
	}
	return loc, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// splitList はカンマ区切りの値を分割し、空要素を除いて返す。
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
