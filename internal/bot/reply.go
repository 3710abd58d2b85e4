package bot

import "strings"

// unknownStatusMessage はメッセージが空の場合の代替文。
const unknownStatusMessage = "Status unbekannt"

// Sanitizer はチャットに投稿する文字列を無害化する。
type Sanitizer interface {
	Sanitize(text string) string
}

// FormatReply はステータスをチャット向けの返信文に整形する。
// 基本メッセージ、曜日、今後の休業日（ある場合）、最終更新時刻（ある場合）を
// 空行区切りで連結する。sanitizerがnilの場合は無害化しない。
func FormatReply(status RemoteStatus, sanitizer Sanitizer) string {
	clean := func(s string) string {
		if sanitizer == nil {
			return s
		}
		return sanitizer.Sanitize(s)
	}

	message := clean(status.Message)
	if message == "" {
		message = unknownStatusMessage
	}

	var b strings.Builder
	b.WriteString(message)

	if day := clean(status.Day); day != "" {
		b.WriteString("\n\nHeute ist ")
		b.WriteString(day)
	}

	if len(status.UpcomingClosed) > 0 {
		dates := make([]string, 0, len(status.UpcomingClosed))
		for _, d := range status.UpcomingClosed {
			if d = clean(d); d != "" {
				dates = append(dates, d)
			}
		}
		if len(dates) > 0 {
			b.WriteString("\n\nKommende geschlossene Gesellschaften: ")
			b.WriteString(strings.Join(dates, ", "))
		}
	}

	if lastUpdate := clean(status.LastUpdate); lastUpdate != "" {
		b.WriteString("\n\nLetzte Aktualisierung: ")
		b.WriteString(lastUpdate)
	}

	return b.String()
}
