// Package availability は曜日ルールと休業日から営業状況を判定する。
package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/venuestatus/internal/model"
)

// maxUpcoming はStatusResultに含める今後の休業日の最大件数。
const maxUpcoming = 5

// WeeklyRule は通常営業する曜日の集合。
type WeeklyRule map[time.Weekday]bool

// DefaultWeeklyRule は水曜日から土曜日までの営業ルールを返す。
func DefaultWeeklyRule() WeeklyRule {
	return NewWeeklyRule(time.Wednesday, time.Thursday, time.Friday, time.Saturday)
}

// NewWeeklyRule は指定した曜日に営業するルールを生成する。
func NewWeeklyRule(days ...time.Weekday) WeeklyRule {
	r := make(WeeklyRule, len(days))
	for _, d := range days {
		r[d] = true
	}
	return r
}

// OpenOn は指定曜日が通常営業日かを返す。
func (r WeeklyRule) OpenOn(d time.Weekday) bool {
	return r[d]
}

// Describe は営業曜日をドイツ語で表現する（例: "Mittwoch bis Samstag"）。
// 月曜始まりで連続している場合は範囲表記、それ以外はカンマ区切り。
func (r WeeklyRule) Describe() string {
	var days []time.Weekday
	for _, d := range mondayFirst {
		if r[d] {
			days = append(days, d)
		}
	}

	switch len(days) {
	case 0:
		return ""
	case 1:
		return WeekdayLabel(days[0])
	}

	contiguous := true
	for i := 1; i < len(days); i++ {
		if weekIndex(days[i]) != weekIndex(days[i-1])+1 {
			contiguous = false
			break
		}
	}
	if contiguous && len(days) > 2 {
		return fmt.Sprintf("%s bis %s", WeekdayLabel(days[0]), WeekdayLabel(days[len(days)-1]))
	}

	labels := make([]string, len(days))
	for i, d := range days {
		labels[i] = WeekdayLabel(d)
	}
	return strings.Join(labels[:len(labels)-1], ", ") + " und " + labels[len(labels)-1]
}

var mondayFirst = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

func weekIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

var weekdayLabels = map[time.Weekday]string{
	time.Monday:    "Montag",
	time.Tuesday:   "Dienstag",
	time.Wednesday: "Mittwoch",
	time.Thursday:  "Donnerstag",
	time.Friday:    "Freitag",
	time.Saturday:  "Samstag",
	time.Sunday:    "Sonntag",
}

// WeekdayLabel は曜日のドイツ語表記を返す。
func WeekdayLabel(d time.Weekday) string {
	return weekdayLabels[d]
}

// Messages は判定結果のメッセージ。
type Messages struct {
	NotOpeningDay string
	PrivateEvent  string
	Open          string
}

// DefaultMessages は会場名とルールから標準メッセージを生成する。
func DefaultMessages(venue string, rule WeeklyRule) Messages {
	return Messages{
		NotOpeningDay: fmt.Sprintf("Heute ist nicht %s", rule.Describe()),
		PrivateEvent:  "Heute ist geschlossene Gesellschaft",
		Open:          fmt.Sprintf("Das %s ist heute geöffnet, viel Spaß damit!", venue),
	}
}

// Evaluator は営業状況の判定器。状態を持たない。
type Evaluator struct {
	rule     WeeklyRule
	messages Messages
}

// NewEvaluator はEvaluatorを生成する。
func NewEvaluator(rule WeeklyRule, messages Messages) *Evaluator {
	return &Evaluator{rule: rule, messages: messages}
}

// Evaluate はtodayの営業状況を判定する。
//  1. 曜日がルール外なら休業（休業日集合は参照しない）
//  2. 休業日集合に含まれていれば貸切として休業
//  3. それ以外は営業
//
// UpcomingExceptionsは判定結果にかかわらず、today以降の休業日を昇順で最大5件含む。
func (e *Evaluator) Evaluate(today model.CalendarDate, exceptions model.DateSet) model.StatusResult {
	result := model.StatusResult{
		Day:                WeekdayLabel(today.Weekday()),
		UpcomingExceptions: Upcoming(today, exceptions, maxUpcoming),
	}

	switch {
	case !e.rule.OpenOn(today.Weekday()):
		result.IsOpen = false
		result.Message = e.messages.NotOpeningDay
	case exceptions.Contains(today):
		result.IsOpen = false
		result.Message = e.messages.PrivateEvent
	default:
		result.IsOpen = true
		result.Message = e.messages.Open
	}

	return result
}

// Upcoming はtoday以降の日付を昇順で最大limit件返す。
func Upcoming(today model.CalendarDate, dates model.DateSet, limit int) []model.CalendarDate {
	upcoming := make([]model.CalendarDate, 0, limit)
	for _, d := range dates.Sorted() {
		if d.Before(today) {
			continue
		}
		upcoming = append(upcoming, d)
		if len(upcoming) == limit {
			break
		}
	}
	return upcoming
}
