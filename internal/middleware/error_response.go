package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/venuestatus/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// statusは/refreshの応答と同じく常に"error"。
type ErrorResponseBody struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとのHTTPステータス。
var statusByCode = map[string]int{
	model.ErrCodeRefreshFailed:   http.StatusInternalServerError,
	model.ErrCodeHistoryDisabled: http.StatusServiceUnavailable,
	model.ErrCodeRateLimited:     http.StatusTooManyRequests,
	model.ErrCodeNotFound:        http.StatusNotFound,
	model.ErrCodeInternal:        http.StatusInternalServerError,
}

// StatusCodeFor はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusCodeFor(code string) int {
	if sc, ok := statusByCode[code]; ok {
		return sc
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーコードから決まるHTTPステータスで統一エラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusCodeFor(apiErr.Code), apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Status:   "error",
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録する。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}

// NotFoundHandler は存在しないパスに統一フォーマットの404を返す。
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteAPIError(w, model.NewNotFoundError())
	}
}
