// Package model はドメインモデルを定義する。
package model

import "time"

// User は監視サービスの利用ユーザーを表す。
// IDはチャットプラットフォームのユーザーID（例: DiscordのユーザーID）。
type User struct {
	ID          string
	DisplayName string
	Preferences NotificationPreferences
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationPreferences はユーザーの通知設定を表す。
type NotificationPreferences struct {
	Immediate     bool `json:"immediate"`
	DailySummary  bool `json:"daily_summary"`
	WeeklySummary bool `json:"weekly_summary"`
}

// DefaultNotificationPreferences は初回登録時の通知設定を返す。
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		Immediate:     true,
		DailySummary:  false,
		WeeklySummary: false,
	}
}

// SummaryPeriod は定期サマリーの集計期間。
type SummaryPeriod string

const (
	SummaryDaily  SummaryPeriod = "daily"
	SummaryWeekly SummaryPeriod = "weekly"
)

// Window は集計期間の長さを返す。
func (p SummaryPeriod) Window() time.Duration {
	if p == SummaryWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Enabled はユーザーが指定期間のサマリーを希望しているかを返す。
func (p NotificationPreferences) Enabled(period SummaryPeriod) bool {
	switch period {
	case SummaryDaily:
		return p.DailySummary
	case SummaryWeekly:
		return p.WeeklySummary
	}
	return false
}
