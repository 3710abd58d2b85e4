package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// startTracker はレスポンスヘッダーが送信済みかを記録する。
type startTracker struct {
	http.ResponseWriter
	started bool
}

func (t *startTracker) WriteHeader(code int) {
	t.started = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *startTracker) Write(b []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(b)
}

// NewRecoveryMiddleware はハンドラーのpanicを回収して500を返すミドルウェアを生成する。
// 応答を書き始めた後のpanicはログのみ記録する。
// http.ErrAbortHandlerはnet/httpの接続中断に使われるため再送出する。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &startTracker{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("client_ip", ClientIP(r)),
					slog.Bool("response_started", tw.started),
					slog.String("stack", string(debug.Stack())),
				)
				if !tw.started {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
