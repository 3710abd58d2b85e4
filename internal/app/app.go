// Package app は設定の読み込みと依存関係のワイヤリングを行い、各サブコマンドの実体を提供する。
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/venuestatus/internal/availability"
	"github.com/hitoshi/venuestatus/internal/bot"
	"github.com/hitoshi/venuestatus/internal/cache"
	"github.com/hitoshi/venuestatus/internal/config"
	"github.com/hitoshi/venuestatus/internal/database"
	"github.com/hitoshi/venuestatus/internal/handler"
	"github.com/hitoshi/venuestatus/internal/logger"
	"github.com/hitoshi/venuestatus/internal/metrics"
	"github.com/hitoshi/venuestatus/internal/middleware"
	"github.com/hitoshi/venuestatus/internal/model"
	"github.com/hitoshi/venuestatus/internal/repository"
	"github.com/hitoshi/venuestatus/internal/scrape"
	"github.com/hitoshi/venuestatus/internal/security"
	"github.com/hitoshi/venuestatus/internal/status"
	"github.com/hitoshi/venuestatus/internal/talk"
	"github.com/hitoshi/venuestatus/internal/worker/cleanup"
	"github.com/hitoshi/venuestatus/internal/worker/warmup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// statusDeps はステータスサービスとその付随リソース。
type statusDeps struct {
	service *status.Service
	db      *sql.DB
}

// Close はDB接続を閉じる。
func (d *statusDeps) Close() {
	if d.db != nil {
		d.db.Close()
	}
}

// buildStatusService は取得・キャッシュ・判定・履歴を組み立てたステータスサービスを返す。
// DATABASE_URLが設定されている場合は接続してマイグレーションを適用する。
func buildStatusService(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector) (*statusDeps, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	guard := security.NewSourceGuard(cfg.FetchAllowPrivate)
	if err := guard.ValidateURL(cfg.SourceURL); err != nil {
		return nil, model.NewConfigError("validate SOURCE_URL", err)
	}

	source := scrape.NewSource(
		guard.NewClient(cfg.FetchTimeout),
		scrape.SourceConfig{URL: cfg.SourceURL, MaxBodySize: cfg.FetchMaxSize},
		slog.Default(),
		collector,
	)

	rule := availability.DefaultWeeklyRule()
	evaluator := availability.NewEvaluator(rule, availability.DefaultMessages(cfg.VenueName, rule))

	deps := &statusDeps{}
	var history repository.RefreshRunRepository = repository.NopRefreshRunRepo{}
	if cfg.HistoryEnabled() {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		deps.db = db
		history = repository.NewPostgresRefreshRunRepo(db)
	}

	deps.service = status.NewService(status.Config{
		Cache:     cache.New(cfg.CacheFile, cfg.CacheDuration, slog.Default()),
		Fetcher:   source,
		Evaluator: evaluator,
		Location:  loc,
		Recorder:  collector,
		History:   history,
		Logger:    slog.Default(),
	})
	return deps, nil
}

// openDatabase は履歴用のDBに接続し、マイグレーションを適用する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(databaseURL)),
	)
	return db, nil
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// RunServe はステータスWebサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func RunServe(ctx context.Context, cfg *config.Config) error {
	reg, collector := newRegistry()

	deps, err := buildStatusService(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer deps.Close()

	loc, _ := cfg.Location()
	rule := availability.DefaultWeeklyRule()

	refreshLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RefreshRatePerMin), slog.Default())
	defer refreshLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		StatusService: deps.service,
		StatusConfig: handler.StatusHandlerConfig{
			VenueName:      cfg.VenueName,
			OpeningDays:    rule.Describe(),
			Location:       loc,
			HistoryEnabled: cfg.HistoryEnabled(),
			Logger:         slog.Default(),
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RefreshLimiter:    refreshLimiter,
		Gatherer:          reg,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	go warmup.NewWarmer(deps.service, slog.Default()).Start(workerCtx, cfg.WarmupInterval)

	if deps.db != nil {
		job := cleanup.NewCleanupJob(deps.db, slog.Default())
		job.RetentionDays = cfg.HistoryRetentionDays
		go job.Start(workerCtx, 24*time.Hour)
	}

	return serveUntilDone(ctx, server)
}

// serveUntilDone はctxがキャンセルされるまでserverを実行し、その後シャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// RunBot はチャットボットを起動する。
// ctxがキャンセルされると処理中の会話を終えてから停止する。
// SIGHUPを受信すると停止中の会話をすべて再開する。
func RunBot(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateBot(); err != nil {
		return err
	}

	reg, collector := newRegistry()

	talkClient := talk.NewClient(
		&http.Client{Timeout: cfg.TalkTimeout},
		talk.Config{
			BaseURL:  cfg.NextcloudURL,
			Username: cfg.BotUsername,
			Password: cfg.BotPassword,
		},
		slog.Default(),
	)
	talkClient.SetRecorder(collector)

	statusClient := bot.NewStatusClient(&http.Client{}, cfg.StatusAPIURL, cfg.StatusTimeout)

	poller := bot.NewPoller(
		talkClient,
		statusClient,
		security.NewChatSanitizer(),
		collector,
		slog.Default(),
		bot.Config{
			BotUsername:          cfg.BotUsername,
			TriggerWords:         cfg.TriggerWords,
			PassInterval:         cfg.PollInterval,
			ConversationInterval: cfg.ConversationInterval,
			EmptyBackoff:         cfg.EmptyBackoff,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
			DedupCapacity:        cfg.DedupCapacity,
			ReplyRatePerMin:      cfg.ReplyRatePerMin,
		},
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				slog.Info("SIGHUP received, resuming suspended conversations")
				poller.ResumeAll()
			}
		}
	}()

	if cfg.BotMetricsPort != "" {
		server := &http.Server{
			Addr:              ":" + cfg.BotMetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, server); err != nil {
				slog.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	return poller.Run(ctx)
}

// refreshOutput はrefreshコマンドの出力。
type refreshOutput struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp,omitempty"`
	Dates     []string `json:"dates,omitempty"`
}

// RunRefresh はキャッシュを強制更新し、結果をJSONでoutに出力する。
// 更新に失敗した場合もJSONを出力したうえでエラーを返す。
func RunRefresh(ctx context.Context, cfg *config.Config, out io.Writer) error {
	_, collector := newRegistry()

	deps, err := buildStatusService(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer deps.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	dates, fetchedAt, err := deps.service.ForceRefresh(ctx)
	if err != nil {
		enc.Encode(refreshOutput{
			Status:  "error",
			Message: model.NewRefreshFailedError(err.Error()).Message,
		})
		return err
	}

	loc, _ := cfg.Location()
	return enc.Encode(refreshOutput{
		Status:    "success",
		Message:   fmt.Sprintf("Cache aktualisiert. %d geschlossene Termine gefunden.", dates.Len()),
		Timestamp: fetchedAt.In(loc).Format(time.RFC3339),
		Dates:     dates.Strings(),
	})
}

// RunStatus はステータスAPIに問い合わせ、チャットと同じ形式の文面をoutに出力する。
// 照会に失敗した場合はエラーメッセージを出力する。
func RunStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	client := bot.NewStatusClient(&http.Client{}, cfg.StatusAPIURL, cfg.StatusTimeout)

	st, err := client.Query(ctx)
	if err != nil {
		slog.Warn("status query failed", slog.String("error", err.Error()))
		_, werr := fmt.Fprintf(out, "Fehler beim Abrufen des Status: %v\n", err)
		return werr
	}

	_, err = fmt.Fprintln(out, bot.FormatReply(st, security.NewChatSanitizer()))
	return err
}

// RunMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func RunMigrate(cfg *config.Config) error {
	if !cfg.HistoryEnabled() {
		return model.NewConfigError("migrate", errors.New("DATABASE_URL is not set"))
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.MigrateUp(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// RunHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func RunHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
