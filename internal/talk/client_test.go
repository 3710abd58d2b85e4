package talk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestClient(serverURL string) *Client {
	var buf bytes.Buffer
	return NewClient(http.DefaultClient, Config{
		BaseURL:  serverURL + "/",
		Username: "nippes-bot",
		Password: "app-password",
	}, newTestLogger(&buf))
}

// mockCandidateRecorder はCandidateRecorderのテスト用モック。
type mockCandidateRecorder struct {
	used []string
}

func (m *mockCandidateRecorder) RecordMessageCandidate(candidate string) {
	m.used = append(m.used, candidate)
}

func writeOCS(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"ocs":{"meta":{"status":"ok","statuscode":200},"data":`+data+`}}`)
}

func TestListConversations_SendsOCSHeadersAndAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocs/v2.php/apps/spreed/api/v4/room" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("OCS-APIRequest") != "true" {
			t.Error("OCS-APIRequest ヘッダーが設定されていない")
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "nippes-bot" || pass != "app-password" {
			t.Errorf("BasicAuth = %q/%q (%v)", user, pass, ok)
		}
		writeOCS(w, `[{"token":"abc","displayName":"Stammtisch","type":2},{"displayName":"kein token"}]`)
	}))
	defer server.Close()

	convs, err := newTestClient(server.URL).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations がエラーを返した: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("会話数 = %d, want 1", len(convs))
	}
	if convs[0].Token != "abc" || convs[0].DisplayName != "Stammtisch" || convs[0].Type != 2 {
		t.Errorf("会話 = %+v", convs[0])
	}
}

func TestListConversations_FallsBackToV3(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/v4/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeOCS(w, `[{"token":"v3room"}]`)
	}))
	defer server.Close()

	convs, err := newTestClient(server.URL).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations がエラーを返した: %v", err)
	}
	if len(convs) != 1 || convs[0].Token != "v3room" {
		t.Errorf("会話 = %+v", convs)
	}
}

func TestListConversations_AllFailReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).ListConversations(context.Background()); err == nil {
		t.Error("全エンドポイント失敗時はエラーを返すべき")
	}
}

func TestFetchMessages_FirstCandidateSortsAscending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lookIntoFuture") != "0" || r.URL.Query().Get("limit") != "50" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeOCS(w, `[
			{"id":12,"actorId":"anna","actorType":"users","message":"nippes heute?","timestamp":1718000100},
			{"id":10,"actorId":"ben","actorType":"users","message":"hallo","timestamp":1718000000}
		]`)
	}))
	defer server.Close()

	rec := &mockCandidateRecorder{}
	c := newTestClient(server.URL)
	c.SetRecorder(rec)

	msgs := c.FetchMessages(context.Background(), "abc")
	if len(msgs) != 2 {
		t.Fatalf("メッセージ数 = %d, want 2", len(msgs))
	}
	if msgs[0].ID != 10 || msgs[1].ID != 12 {
		t.Errorf("ID昇順になっていない: %d, %d", msgs[0].ID, msgs[1].ID)
	}
	if msgs[1].Text != "nippes heute?" || msgs[1].ActorID != "anna" {
		t.Errorf("メッセージ = %+v", msgs[1])
	}
	if len(rec.used) != 1 || rec.used[0] != "v2-look-into-past" {
		t.Errorf("採用候補 = %v", rec.used)
	}
}

func TestFetchMessages_OnlyThirdCandidateWorks(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path+"?"+r.URL.RawQuery)
		switch {
		case strings.HasPrefix(r.URL.Path, "/ocs/v1.php"):
			// 形式不正: dataが配列でない
			writeOCS(w, `{"unexpected":true}`)
		case r.URL.Query().Get("lookIntoFuture") != "":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			writeOCS(w, `[{"id":1,"actorId":"anna","message":"Nippes status"}]`)
		}
	}))
	defer server.Close()

	rec := &mockCandidateRecorder{}
	c := newTestClient(server.URL)
	c.SetRecorder(rec)

	msgs := c.FetchMessages(context.Background(), "abc")
	if len(msgs) != 1 || msgs[0].Text != "Nippes status" {
		t.Fatalf("メッセージ = %+v", msgs)
	}
	if len(paths) != 3 {
		t.Errorf("試行回数 = %d, want 3 (%v)", len(paths), paths)
	}
	if len(rec.used) != 1 || rec.used[0] != "v2-limit-only" {
		t.Errorf("採用候補 = %v", rec.used)
	}
}

func TestFetchMessages_AllCandidatesFailReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	}))
	defer server.Close()

	msgs := newTestClient(server.URL).FetchMessages(context.Background(), "abc")
	if len(msgs) != 0 {
		t.Errorf("全候補失敗時は空であるべき: %+v", msgs)
	}
}

func TestSendMessage_PostsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッド = %s, want POST", r.Method)
		}
		if r.URL.Path != "/ocs/v2.php/apps/spreed/api/v1/chat/abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("ボディのデコードに失敗: %v", err)
		}
		if body["message"] != "Heute ist geschlossene Gesellschaft" {
			t.Errorf("message = %q", body["message"])
		}
		w.WriteHeader(http.StatusCreated)
		writeOCS(w, `{}`)
	}))
	defer server.Close()

	err := newTestClient(server.URL).SendMessage(context.Background(), "abc", "Heute ist geschlossene Gesellschaft")
	if err != nil {
		t.Fatalf("SendMessage がエラーを返した: %v", err)
	}
}

func TestSendMessage_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).SendMessage(context.Background(), "abc", "x"); err == nil {
		t.Error("403はエラーを返すべき")
	}
}

func TestDecodeOCSData_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"ocs":{}}`,
		`{"ocs":{"data":"text"}}`,
		`{"data":[]}`,
	}
	for _, body := range cases {
		if _, err := decodeOCSData([]byte(body)); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("decodeOCSData(%q) = %v, want ErrMalformedResponse", body, err)
		}
	}
}
