// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取得処理・ステータスサービス・ボットから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordScrapeLatency(duration time.Duration)
	RecordScrapeSuccess()
	RecordScrapeFailure(kind string)
	RecordCacheHit()
	RecordCacheMiss()
	RecordBotReply(outcome string)
	RecordMessageCandidate(candidate string)
	SetSuspendedConversations(n int)
}

// ボット返信の結果ラベル
const (
	ReplyOutcomeSent        = "sent"
	ReplyOutcomeSendFailed  = "send_failed"
	ReplyOutcomeProbeFailed = "probe_failed"
	ReplyOutcomeThrottled   = "throttled"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	scrapeLatency    prometheus.Histogram
	scrapeSuccess    prometheus.Counter
	scrapeFail       *prometheus.CounterVec
	cacheHit         prometheus.Counter
	cacheMiss        prometheus.Counter
	botReplies       *prometheus.CounterVec
	messageCandidate *prometheus.CounterVec
	suspended        prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuestatus_http_status_total",
			Help: "会場サイト取得時のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		scrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "venuestatus_scrape_latency_seconds",
			Help:    "会場サイト取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		scrapeSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venuestatus_scrape_success_total",
			Help: "休業日抽出成功の合計数",
		}),
		scrapeFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuestatus_scrape_fail_total",
			Help: "休業日抽出失敗の合計数（エラー分類別）",
		}, []string{"kind"}),
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venuestatus_cache_hit_total",
			Help: "キャッシュから応答したステータス照会数",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venuestatus_cache_miss_total",
			Help: "再取得が発生したステータス照会数",
		}),
		botReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuestatus_bot_replies_total",
			Help: "ボットのトリガー処理結果別の件数",
		}, []string{"outcome"}),
		messageCandidate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuestatus_message_candidate_total",
			Help: "メッセージ取得に成功したエンドポイント候補別の件数",
		}, []string{"candidate"}),
		suspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "venuestatus_suspended_conversations",
			Help: "連続エラーにより停止中の会話数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.scrapeLatency,
		c.scrapeSuccess,
		c.scrapeFail,
		c.cacheHit,
		c.cacheMiss,
		c.botReplies,
		c.messageCandidate,
		c.suspended,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordScrapeLatency は取得のレイテンシを記録する。
func (c *Collector) RecordScrapeLatency(duration time.Duration) {
	c.scrapeLatency.Observe(duration.Seconds())
}

// RecordScrapeSuccess は抽出成功を記録する。
func (c *Collector) RecordScrapeSuccess() {
	c.scrapeSuccess.Inc()
}

// RecordScrapeFailure は抽出失敗を記録する。
func (c *Collector) RecordScrapeFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	c.scrapeFail.WithLabelValues(kind).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHit.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMiss.Inc()
}

// RecordBotReply はトリガー処理の結果を記録する。
func (c *Collector) RecordBotReply(outcome string) {
	c.botReplies.WithLabelValues(outcome).Inc()
}

// RecordMessageCandidate は使用したメッセージ取得候補を記録する。
func (c *Collector) RecordMessageCandidate(candidate string) {
	c.messageCandidate.WithLabelValues(candidate).Inc()
}

// SetSuspendedConversations は停止中の会話数を設定する。
func (c *Collector) SetSuspendedConversations(n int) {
	c.suspended.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute はボットプロセス用に/metricsと/healthを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	return mux
}
