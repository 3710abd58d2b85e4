package extract

import (
	"bytes"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// TextFromHTML はHTMLドキュメントのテキストノードを連結して返す。
// script/style要素の中身は除外する。空白のみのテキストノードも保持するため、
// 要素間の改行はそのまま残る。
func TextFromHTML(body []byte) string {
	var sb strings.Builder

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedElement(string(tn)) {
				skipDepth++
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedElement(string(tn)) && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			// Textはエンティティをデコード済みの値を返す
			sb.Write(tokenizer.Text())
		}
	}
}

// isSkippedElement はテキスト抽出の対象外とする要素かを判定する。
func isSkippedElement(tagName string) bool {
	switch strings.ToLower(tagName) {
	case "script", "style", "noscript", "template":
		return true
	default:
		return false
	}
}

// TextFromFeed はRSS/Atomフィードのタイトル・記事タイトル・本文を改行区切りで連結する。
// 記事本文にHTMLが含まれる場合はテキストに変換する。
func TextFromFeed(feed *gofeed.Feed) string {
	if feed == nil {
		return ""
	}

	var parts []string
	if feed.Title != "" {
		parts = append(parts, feed.Title)
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if item.Title != "" {
			parts = append(parts, item.Title)
		}
		if item.Description != "" {
			parts = append(parts, TextFromHTML([]byte(item.Description)))
		}
		if item.Content != "" {
			parts = append(parts, TextFromHTML([]byte(item.Content)))
		}
	}
	return strings.Join(parts, "\n")
}
