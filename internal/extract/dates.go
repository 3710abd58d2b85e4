// Package extract は非構造テキストから休業日を抽出する。
// I/Oを行わない純粋関数のみを提供する。
package extract

import (
	"regexp"
	"strconv"
	"time"

	"github.com/hitoshi/venuestatus/internal/model"
)

// closedPatterns は休業日を示す2種類のパターン。
// どちらも DD.MM.YY の直後に空白と語句が続く形式で、大文字小文字を区別しない。
// 空白には&nbsp;由来のU+00A0などUnicodeの空白文字も含む。
//   - "15.06.25 geschlossene Gesellschaft"（貸切）
//   - "31.12.25 geschlossen - Silvester"（単独の休業）
var closedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{2})\.(\d{2})\.(\d{2})[\s\p{Z}]+geschlossene[\s\p{Z}]+gesellschaft`),
	regexp.MustCompile(`(?i)(\d{2})\.(\d{2})\.(\d{2})[\s\p{Z}]+geschlossen`),
}

// Dates はテキストから休業日の集合を抽出する。
// 2桁の年は2000+YYとして解釈する。暦として不正な日付は黙って捨てる。
// 戻り値は順序を持たない。
func Dates(text string) model.DateSet {
	dates := model.NewDateSet()
	for _, re := range closedPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if d, ok := toDate(m[1], m[2], m[3]); ok {
				dates.Add(d)
			}
		}
	}
	return dates
}

// toDate はマッチした日・月・年の文字列を暦日に変換する。
func toDate(day, month, year string) (model.CalendarDate, bool) {
	dd, err := strconv.Atoi(day)
	if err != nil {
		return model.CalendarDate{}, false
	}
	mm, err := strconv.Atoi(month)
	if err != nil {
		return model.CalendarDate{}, false
	}
	yy, err := strconv.Atoi(year)
	if err != nil {
		return model.CalendarDate{}, false
	}
	return model.NewCalendarDate(2000+yy, time.Month(mm), dd)
}
