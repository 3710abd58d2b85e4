// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"sort"
	"time"
)

// dateLayout はCalendarDateのISO-8601表現。
const dateLayout = "2006-01-02"

// CalendarDate は年月日のみを持つ暦日を表す。
// 比較は暦日として行い、時刻やタイムゾーンは持たない。
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// NewCalendarDate は年月日からCalendarDateを生成する。
// 暦として存在しない日付（2月31日など）の場合はfalseを返す。
func NewCalendarDate(year int, month time.Month, day int) (CalendarDate, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return CalendarDate{}, false
	}
	return CalendarDate{Year: year, Month: month, Day: day}, true
}

// DateOf は時刻tのロケーションにおける暦日を返す。
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// ParseCalendarDate は "YYYY-MM-DD" 形式の文字列をパースする。
func ParseCalendarDate(s string) (CalendarDate, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("invalid calendar date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time はUTCの0時としてtime.Timeに変換する。
func (d CalendarDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Weekday は曜日を返す。
func (d CalendarDate) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// Before はdがotherより前の日付かを返す。
func (d CalendarDate) Before(other CalendarDate) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// String はISO-8601形式（YYYY-MM-DD）を返す。
func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DateSet は例外日（休業日）の集合。
// リフレッシュのたびに丸ごと置き換えられ、差分マージはしない。
type DateSet map[CalendarDate]struct{}

// NewDateSet は指定された日付からDateSetを生成する。
func NewDateSet(dates ...CalendarDate) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

// Add は日付を追加する。
func (s DateSet) Add(d CalendarDate) {
	s[d] = struct{}{}
}

// Contains は日付が集合に含まれるかを返す。
func (s DateSet) Contains(d CalendarDate) bool {
	_, ok := s[d]
	return ok
}

// Len は要素数を返す。
func (s DateSet) Len() int {
	return len(s)
}

// Sorted は昇順に並べた日付のスライスを返す。
func (s DateSet) Sorted() []CalendarDate {
	dates := make([]CalendarDate, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Strings は昇順のISO-8601文字列スライスを返す。
func (s DateSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, d := range sorted {
		out[i] = d.String()
	}
	return out
}

// Clone はコピーを返す。
func (s DateSet) Clone() DateSet {
	c := make(DateSet, len(s))
	for d := range s {
		c[d] = struct{}{}
	}
	return c
}
