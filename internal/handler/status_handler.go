package handler

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/venuestatus/internal/middleware"
	"github.com/hitoshi/venuestatus/internal/model"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// RecentRefreshLimit は/api/refreshesが返す履歴の件数。
const RecentRefreshLimit = 20

// StatusServiceInterface はステータスハンドラーが必要とするサービスインターフェース。
type StatusServiceInterface interface {
	// QueryStatus は今日の営業状況を返す。失敗しない。
	QueryStatus(ctx context.Context) model.StatusResult
	// ForceRefresh はキャッシュを破棄して再取得する。
	ForceRefresh(ctx context.Context) (model.DateSet, time.Time, error)
	// RecentRefreshes は直近のリフレッシュ履歴を返す。
	RecentRefreshes(ctx context.Context, limit int) ([]model.RefreshRun, error)
}

// StatusHandlerConfig はStatusHandlerの表示設定。
type StatusHandlerConfig struct {
	VenueName string
	// OpeningDays は定休日以外の営業曜日の説明（例: "Mittwoch bis Samstag"）。
	OpeningDays    string
	Location       *time.Location
	HistoryEnabled bool
	Logger         *slog.Logger
}

// StatusHandler は営業状況のHTTPハンドラー。
type StatusHandler struct {
	service StatusServiceInterface
	config  StatusHandlerConfig
	now     func() time.Time
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(service StatusServiceInterface, config StatusHandlerConfig) *StatusHandler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &StatusHandler{
		service: service,
		config:  config,
		now:     time.Now,
	}
}

// indexPage はステータスページのテンプレート変数。
type indexPage struct {
	VenueName   string
	OpeningDays string
	IsOpen      bool
	Message     string
	Day         string
	Upcoming    []string
	LastUpdate  string
}

// statusResponse は/api/statusのレスポンス。
type statusResponse struct {
	IsOpen         bool     `json:"is_open"`
	Message        string   `json:"message"`
	Day            string   `json:"day"`
	UpcomingClosed []string `json:"upcoming_closed"`
	LastUpdate     string   `json:"last_update,omitempty"`
}

// refreshResponse は/refreshのレスポンス。
type refreshResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// refreshRunResponse はリフレッシュ履歴1件のレスポンス。
type refreshRunResponse struct {
	ID           string `json:"id"`
	StartedAt    string `json:"started_at"`
	DurationMs   int64  `json:"duration_ms"`
	Trigger      string `json:"trigger"`
	Success      bool   `json:"success"`
	DateCount    int    `json:"date_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Index はステータスページを表示する。
// GET /
func (h *StatusHandler) Index(w http.ResponseWriter, r *http.Request) {
	result := h.service.QueryStatus(r.Context())

	page := indexPage{
		VenueName:   h.config.VenueName,
		OpeningDays: h.config.OpeningDays,
		IsOpen:      result.IsOpen,
		Message:     result.Message,
		Day:         result.Day,
		Upcoming:    make([]string, 0, len(result.UpcomingExceptions)),
	}
	for _, d := range result.UpcomingExceptions {
		page.Upcoming = append(page.Upcoming, d.Time().Format("02.01.2006"))
	}
	if !result.LastUpdate.IsZero() {
		page.LastUpdate = result.LastUpdate.In(h.config.Location).Format("02.01.2006 15:04")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, page); err != nil {
		h.config.Logger.Error("ステータスページの描画に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Refresh はキャッシュを破棄して休業日を即座に再取得する。
// GET /refresh
func (h *StatusHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	dates, _, err := h.service.ForceRefresh(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, refreshResponse{
			Status:  "error",
			Message: model.NewRefreshFailedError(err.Error()).Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Status:    "success",
		Message:   fmt.Sprintf("Cache aktualisiert. %d geschlossene Termine gefunden.", dates.Len()),
		Timestamp: h.now().In(h.config.Location).Format(time.RFC3339),
	})
}

// APIStatus は営業状況をJSONで返す。ボットの照会先。
// GET /api/status
func (h *StatusHandler) APIStatus(w http.ResponseWriter, r *http.Request) {
	result := h.service.QueryStatus(r.Context())

	resp := statusResponse{
		IsOpen:         result.IsOpen,
		Message:        result.Message,
		Day:            result.Day,
		UpcomingClosed: result.UpcomingStrings(),
	}
	if !result.LastUpdate.IsZero() {
		resp.LastUpdate = result.LastUpdate.In(h.config.Location).Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListRefreshes は直近のリフレッシュ履歴を返す。
// GET /api/refreshes
func (h *StatusHandler) ListRefreshes(w http.ResponseWriter, r *http.Request) {
	if !h.config.HistoryEnabled {
		middleware.WriteAPIError(w, model.NewHistoryDisabledError())
		return
	}

	runs, err := h.service.RecentRefreshes(r.Context(), RecentRefreshLimit)
	if err != nil {
		h.config.Logger.Error("リフレッシュ履歴の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]refreshRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, refreshRunResponse{
			ID:           run.ID,
			StartedAt:    run.StartedAt.In(h.config.Location).Format(time.RFC3339),
			DurationMs:   run.Duration.Milliseconds(),
			Trigger:      string(run.Trigger),
			Success:      run.Success,
			DateCount:    run.DateCount,
			ErrorMessage: run.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health はプロセスの死活確認に応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
