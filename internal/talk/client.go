// Package talk はNextcloud Talk (spreed) のOCS APIクライアントを提供する。
// 会話一覧の取得、メッセージの取得、メッセージの投稿を行う。
package talk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// maxResponseSize はOCSレスポンスとして読み込む最大バイト数。
const maxResponseSize = 4 * 1024 * 1024

// roomPaths は会話一覧のエンドポイント。先頭から順に試行する。
var roomPaths = []string{
	"/ocs/v2.php/apps/spreed/api/v4/room",
	"/ocs/v2.php/apps/spreed/api/v3/room",
}

// chatPath はメッセージの取得・投稿エンドポイント。%sには会話トークンが入る。
const chatPath = "/ocs/v2.php/apps/spreed/api/v1/chat/%s"

// ErrMalformedResponse はOCSレスポンスの形式が不正な場合のエラー。
var ErrMalformedResponse = errors.New("malformed OCS response")

// Conversation はTalkの会話（ルーム）。
type Conversation struct {
	Token       string
	DisplayName string
	Type        int
}

// Message はTalkのチャットメッセージ。
type Message struct {
	ID        int64
	ActorID   string
	ActorType string
	Text      string
	Timestamp int64
}

// Candidate はメッセージ取得エンドポイントの候補。
type Candidate struct {
	Name  string
	Path  string // %sに会話トークンが入る
	Query url.Values
}

// MessageCandidates はメッセージ取得時に試行する候補の優先順リスト。
// 最初に正しい形式の一覧を返した候補を採用する。
var MessageCandidates = []Candidate{
	{
		Name:  "v2-look-into-past",
		Path:  chatPath,
		Query: url.Values{"lookIntoFuture": {"0"}, "limit": {"50"}},
	},
	{
		Name:  "v1-look-into-past",
		Path:  "/ocs/v1.php/apps/spreed/api/v1/chat/%s",
		Query: url.Values{"lookIntoFuture": {"0"}, "limit": {"50"}},
	},
	{
		Name:  "v2-limit-only",
		Path:  chatPath,
		Query: url.Values{"limit": {"50"}},
	},
}

// CandidateRecorder は採用された候補を記録するインターフェース。
type CandidateRecorder interface {
	RecordMessageCandidate(candidate string)
}

// Config はClientの接続設定。
type Config struct {
	BaseURL  string
	Username string
	Password string
}

// Client はNextcloud Talk OCS APIのクライアント。
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
	candidates []Candidate
	recorder   CandidateRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, config Config, logger *slog.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		config:     config,
		logger:     logger,
		candidates: MessageCandidates,
	}
}

// SetRecorder は候補採用のメトリクス記録先を設定する。
func (c *Client) SetRecorder(recorder CandidateRecorder) {
	c.recorder = recorder
}

// Username はボットのユーザー名を返す。
func (c *Client) Username() string {
	return c.config.Username
}

// ListConversations はボットが参加している会話の一覧を取得する。
// v4エンドポイントが失敗した場合はv3にフォールバックする。
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var lastErr error
	for _, path := range roomPaths {
		data, err := c.getOCSData(ctx, path, nil)
		if err != nil {
			lastErr = err
			c.logger.Warn("会話一覧の取得に失敗しました",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		conversations := make([]Conversation, 0, len(data.Array()))
		for _, room := range data.Array() {
			token := room.Get("token").String()
			if token == "" {
				continue
			}
			conversations = append(conversations, Conversation{
				Token:       token,
				DisplayName: room.Get("displayName").String(),
				Type:        int(room.Get("type").Int()),
			})
		}
		return conversations, nil
	}
	return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", lastErr)
}

// FetchMessages は会話のメッセージをID昇順（古い順）で取得する。
// 候補を優先順に試行し、すべて失敗した場合はエラーではなく空の一覧を返す。
func (c *Client) FetchMessages(ctx context.Context, token string) []Message {
	for _, cand := range c.candidates {
		path := fmt.Sprintf(cand.Path, url.PathEscape(token))
		data, err := c.getOCSData(ctx, path, cand.Query)
		if err != nil {
			c.logger.Debug("メッセージ取得候補が失敗しました",
				slog.String("candidate", cand.Name),
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
			continue
		}

		messages := parseMessages(data)
		if c.recorder != nil {
			c.recorder.RecordMessageCandidate(cand.Name)
		}
		return messages
	}

	c.logger.Warn("すべてのメッセージ取得候補が失敗しました",
		slog.String("token", token),
	)
	return nil
}

// SendMessage は会話にメッセージを投稿する。
func (c *Client) SendMessage(ctx context.Context, token, message string) error {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("メッセージのエンコードに失敗しました: %w", err)
	}

	endpoint := c.config.BaseURL + fmt.Sprintf(chatPath, url.PathEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("メッセージの投稿に失敗しました",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("メッセージの投稿に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("メッセージ投稿がエラーステータスを返しました",
			slog.String("token", token),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("メッセージ投稿がステータス %d を返しました", resp.StatusCode)
	}

	return nil
}

// getOCSData はGETリクエストを送り、OCSエンベロープの ocs.data 配列を返す。
func (c *Client) getOCSData(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("OCS APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return decodeOCSData(body)
}

// decodeOCSData はOCSエンベロープを検証し、ocs.data配列を取り出す。
func decodeOCSData(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	data := gjson.GetBytes(body, "ocs.data")
	if !data.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: ocs.data is not a list", ErrMalformedResponse)
	}
	return data, nil
}

// parseMessages はocs.data配列をMessageに変換し、ID昇順に並べる。
func parseMessages(data gjson.Result) []Message {
	messages := make([]Message, 0, len(data.Array()))
	for _, m := range data.Array() {
		if !m.Get("id").Exists() {
			continue
		}
		messages = append(messages, Message{
			ID:        m.Get("id").Int(),
			ActorID:   m.Get("actorId").String(),
			ActorType: m.Get("actorType").String(),
			Text:      m.Get("message").String(),
			Timestamp: m.Get("timestamp").Int(),
		})
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
	return messages
}

// setHeaders はOCS API共通のヘッダーと認証情報を設定する。
func (c *Client) setHeaders(req *http.Request) {
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("Accept", "application/json")
}
