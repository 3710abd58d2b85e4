package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ChatSanitizer はチャットに投稿するテキストからHTMLマークアップを除去する。
// ステータスAPIは別プロセスから取得するため、信頼できない入力として扱う。
type ChatSanitizer struct {
	policy *bluemonday.Policy
}

// NewChatSanitizer はbluemondayのStrictPolicy（全タグ除去）でChatSanitizerを生成する。
func NewChatSanitizer() *ChatSanitizer {
	return &ChatSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされたエンティティを元の文字に戻す。
// 同一入力に対して常に同一出力を返す。
func (s *ChatSanitizer) Sanitize(text string) string {
	stripped := s.policy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
