// Package model はドメインモデルを定義する。
package model

import "time"

// Appointment は検出済みの予約枠を表す。
// (SiteID, AppointmentDate) が重複排除キーとなる。
type Appointment struct {
	ID              string             `json:"id"`
	SiteID          string             `json:"site_id"`
	AppointmentDate time.Time          `json:"appointment_date"`
	Details         AppointmentDetails `json:"details"`
	IsAvailable     bool               `json:"is_available"`
	Notified        bool               `json:"notified"`
	FoundAt         time.Time          `json:"found_at"`
	CreatedAt       time.Time          `json:"-"`
	UpdatedAt       time.Time          `json:"-"`
}

// AppointmentDetails は監査用に保持する抽出元テキスト。
// OriginalTextは正規化前の日付文字列をそのまま保持する。
type AppointmentDetails struct {
	Time         string `json:"time"`
	Details      string `json:"details"`
	OriginalText string `json:"originalText"`
}

// Slot はページから抽出された未保存の予約枠候補。
type Slot struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Details string `json:"details"`
}

// ScrapeResult はスクレイプ処理1回分の結果。
// Successがfalseになるのはナビゲーション失敗・タイムアウト・未対応サイト種別などに限られる。
type ScrapeResult struct {
	Success           bool
	Appointments      []Slot
	AppointmentsFound int
	Message           string
	Error             string
}

// CheckResult はサイトチェック1回分の結果。
type CheckResult struct {
	SiteID            string `json:"site_id"`
	Success           bool   `json:"success"`
	Skipped           bool   `json:"skipped"`
	Appointments      []Slot `json:"appointments"`
	AppointmentsFound int    `json:"appointments_found"`
	NewAppointments   int    `json:"new_appointments"`
	Message           string `json:"message"`
	Error             string `json:"error,omitempty"`
}

// CheckInProgressMessage はガード競合時のメッセージ。
const CheckInProgressMessage = "check already in progress"

// BatchSummary はバッチ実行の集計結果。
type BatchSummary struct {
	TotalSites        int `json:"total_sites"`
	SuccessCount      int `json:"success_count"`
	ErrorCount        int `json:"error_count"`
	SkippedCount      int `json:"skipped_count"`
	AppointmentsFound int `json:"appointments_found"`
}

// AppointmentStats はユーザー単位の監視統計。
type AppointmentStats struct {
	TotalSites            int            `json:"total_sites"`
	ActiveSites           int            `json:"active_sites"`
	TotalAppointments     int            `json:"total_appointments"`
	AvailableAppointments int            `json:"available_appointments"`
	LastChecked           *time.Time     `json:"last_checked,omitempty"`
	RecentAppointments    []*Appointment `json:"recent_appointments"`
}
