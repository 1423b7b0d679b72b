// Package notify は予約枠の通知を配信チャネルに送る。
package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/apptwatch/internal/model"
)

// maxListedAppointments は1通の通知に列挙する予約枠の上限。
const maxListedAppointments = 5

// Discordの埋め込みの文字数上限。
const (
	titleLimit       = 256
	descriptionLimit = 4096
	fieldNameLimit   = 256
	fieldValueLimit  = 1024
	footerLimit      = 2048
	maxFields        = 25
	embedTotalLimit  = 6000
)

// detailsLimit は通知に載せる予約枠1件の詳細の上限。
const (
	detailsLimit = 300
	timeLimit    = 100
)

// 埋め込みの色。
const (
	colorNewAppointments = 0x00FF00
	colorDailySummary    = 0x0099FF
	colorWeeklySummary   = 0x9932CC
	colorSystemStatus    = 0xFFA500
)

// Field は通知本文の1項目。
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload はチャネルに依存しない通知内容。
type Payload struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

// NewAppointmentsPayload は新規予約枠の通知を組み立てる。
// 先頭5件のみを列挙し、残りは件数だけを表示する。
func NewAppointmentsPayload(site *model.MonitoredSite, appts []*model.Appointment, now time.Time) Payload {
	p := Payload{
		Title:       "新しい予約枠が見つかりました",
		Description: fmt.Sprintf("監視中のサイトで%d件の新しい予約枠が見つかりました。", len(appts)),
		Color:       colorNewAppointments,
		Fields: []Field{
			{Name: "サイト", Value: site.URL},
			{Name: "サイト種別", Value: strings.ToUpper(string(site.SiteType)), Inline: true},
			{Name: "サイトID", Value: site.ID, Inline: true},
			{Name: "検出日時", Value: discordTimestamp(now)},
		},
		Footer:    "Appointment Monitor",
		Timestamp: now,
	}

	for i, appt := range appts {
		if i >= maxListedAppointments {
			break
		}
		p.Fields = append(p.Fields, Field{
			Name:   fmt.Sprintf("予約枠 %d", i+1),
			Value:  appointmentLine(appt),
			Inline: true,
		})
	}
	if rest := len(appts) - maxListedAppointments; rest > 0 {
		p.Fields = append(p.Fields, Field{
			Name:  "その他の予約枠",
			Value: fmt.Sprintf("他に%d件の予約枠があります。", rest),
		})
	}
	return p.Fit()
}

// NewSummaryPayload はユーザー向けの日次・週次サマリーを組み立てる。
func NewSummaryPayload(period model.SummaryPeriod, stats *model.AppointmentStats, foundInPeriod int, now time.Time) Payload {
	title, color := "日次監視サマリー", colorDailySummary
	if period == model.SummaryWeekly {
		title, color = "週次監視サマリー", colorWeeklySummary
	}

	status := "監視中のサイトはありません"
	if stats.ActiveSites > 0 {
		status = "監視中"
	}

	p := Payload{
		Title:       title,
		Description: fmt.Sprintf("期間中に%d件の新しい予約枠が見つかりました。", foundInPeriod),
		Color:       color,
		Fields: []Field{
			{Name: "登録サイト数", Value: fmt.Sprint(stats.TotalSites), Inline: true},
			{Name: "アクティブなサイト", Value: fmt.Sprint(stats.ActiveSites), Inline: true},
			{Name: "予約枠の総数", Value: fmt.Sprint(stats.TotalAppointments), Inline: true},
			{Name: "利用可能な予約枠", Value: fmt.Sprint(stats.AvailableAppointments), Inline: true},
			{Name: "状態", Value: status, Inline: true},
		},
		Footer:    "Appointment Monitor",
		Timestamp: now,
	}

	if len(stats.RecentAppointments) > 0 {
		lines := make([]string, 0, len(stats.RecentAppointments))
		for i, appt := range stats.RecentAppointments {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, appt.AppointmentDate.Format("2006-01-02")))
		}
		p.Fields = append(p.Fields, Field{Name: "最近の予約枠", Value: strings.Join(lines, "\n")})
	}
	return p
}

// NewStatusPayload はバッチ実行結果のシステムステータスを組み立てる。
func NewStatusPayload(summary model.BatchSummary, now time.Time) Payload {
	return Payload{
		Title:       "システムステータス",
		Description: "予約枠監視バッチの実行結果",
		Color:       colorSystemStatus,
		Fields: []Field{
			{Name: "チェック対象", Value: fmt.Sprint(summary.TotalSites), Inline: true},
			{Name: "成功", Value: fmt.Sprint(summary.SuccessCount), Inline: true},
			{Name: "失敗", Value: fmt.Sprint(summary.ErrorCount), Inline: true},
			{Name: "スキップ", Value: fmt.Sprint(summary.SkippedCount), Inline: true},
			{Name: "検出した予約枠", Value: fmt.Sprint(summary.AppointmentsFound), Inline: true},
			{Name: "実行日時", Value: discordTimestamp(now)},
		},
		Footer:    "System Status",
		Timestamp: now,
	}
}

func appointmentLine(appt *model.Appointment) string {
	tm := truncate(appt.Details.Time, timeLimit)
	if tm == "" {
		tm = "指定なし"
	}
	details := truncate(appt.Details.Details, detailsLimit)
	if details == "" {
		details = "詳細なし"
	}
	return fmt.Sprintf("**日付:** %s\n**時間:** %s\n**詳細:** %s",
		appt.AppointmentDate.Format("2006-01-02"), tm, details)
}

func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

// Fit はDiscordの文字数上限に収まるように各項目を切り詰める。
// 合計が上限を超える場合は後ろの項目から削る。
func (p Payload) Fit() Payload {
	p.Title = truncate(p.Title, titleLimit)
	p.Description = truncate(p.Description, descriptionLimit)
	p.Footer = truncate(p.Footer, footerLimit)

	budget := embedTotalLimit - utf8.RuneCountInString(p.Title) -
		utf8.RuneCountInString(p.Description) - utf8.RuneCountInString(p.Footer)

	fields := make([]Field, 0, min(len(p.Fields), maxFields))
	for _, f := range p.Fields {
		if len(fields) == maxFields {
			break
		}
		f.Name = truncate(f.Name, fieldNameLimit)
		f.Value = truncate(f.Value, fieldValueLimit)

		budget -= utf8.RuneCountInString(f.Name)
		if budget < 1 {
			break
		}
		f.Value = truncate(f.Value, budget)
		budget -= utf8.RuneCountInString(f.Value)
		fields = append(fields, f)
	}
	p.Fields = fields
	return p
}

// Size は埋め込み全体の文字数を返す。
func (p Payload) Size() int {
	n := utf8.RuneCountInString(p.Title) + utf8.RuneCountInString(p.Description) + utf8.RuneCountInString(p.Footer)
	for _, f := range p.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	return n
}

// truncate はsをlimit文字以内に切り詰める。切り詰めた場合は末尾を"…"にする。
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
