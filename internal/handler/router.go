package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/venuestatus/internal/metrics"
	"github.com/hitoshi/venuestatus/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	StatusService StatusServiceInterface
	StatusConfig  StatusHandlerConfig

	CORSAllowedOrigin string
	// RefreshLimiter は/refreshに適用するレート制限。nilの場合は制限しない。
	RefreshLimiter *middleware.RateLimiter
	// Gatherer は/metricsで公開するレジストリ。nilの場合は/metricsを登録しない。
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → SecurityHeadersMiddleware
//
// /api/status にはCORS、/refresh にはクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	statusHandler := NewStatusHandler(deps.StatusService, deps.StatusConfig)
	logger := statusHandler.config.Logger

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.NotFound(middleware.NotFoundHandler())

	r.Get("/", statusHandler.Index)
	r.Get("/health", Health)

	if deps.RefreshLimiter != nil {
		r.With(deps.RefreshLimiter.Middleware()).Get("/refresh", statusHandler.Refresh)
	} else {
		r.Get("/refresh", statusHandler.Refresh)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Get("/status", statusHandler.APIStatus)
			// プリフライトはCORSミドルウェアが204で応答する
			r.Options("/status", func(w http.ResponseWriter, r *http.Request) {})
		})
		r.Get("/refreshes", statusHandler.ListRefreshes)
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
