package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultStatusTimeout はステータスAPI呼び出しのデフォルトタイムアウト。
const DefaultStatusTimeout = 5 * time.Second

// RemoteStatus はステータスAPI（/api/status）のレスポンス。
type RemoteStatus struct {
	IsOpen         bool     `json:"is_open"`
	Message        string   `json:"message"`
	Day            string   `json:"day"`
	UpcomingClosed []string `json:"upcoming_closed"`
	LastUpdate     string   `json:"last_update"`
}

// StatusClient はステータスAPIのクライアント。
// 疎通確認と照会を1回の呼び出しで兼ねる。
type StatusClient struct {
	httpClient *http.Client
	url        string
	timeout    time.Duration
}

// NewStatusClient はStatusClientを生成する。timeoutが0以下の場合はDefaultStatusTimeoutを使う。
func NewStatusClient(httpClient *http.Client, url string, timeout time.Duration) *StatusClient {
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}
	return &StatusClient{httpClient: httpClient, url: url, timeout: timeout}
}

// Query はステータスAPIを呼び出す。到達不能・非200・形式不正はいずれもエラーを返す。
func (c *StatusClient) Query(ctx context.Context) (RemoteStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("ステータスAPIに接続できません: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RemoteStatus{}, fmt.Errorf("ステータスAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var status RemoteStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return RemoteStatus{}, fmt.Errorf("ステータスAPIのレスポンスのパースに失敗しました: %w", err)
	}
	return status, nil
}
