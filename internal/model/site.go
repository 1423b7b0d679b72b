// Package model はドメインモデルを定義する。
package model

import "time"

// SiteType はログイン戦略を選択するためのサイト種別。
type SiteType string

const (
	// SiteTypeGeneric は汎用サイト。
	SiteTypeGeneric SiteType = "generic"
	// SiteTypeGovernment は行政機関の予約サイト。
	SiteTypeGovernment SiteType = "government"
)

const (
	// MinCheckIntervalMinutes はチェック間隔の下限（分）。
	MinCheckIntervalMinutes = 5
	// MaxCheckIntervalMinutes はチェック間隔の上限（分）。
	MaxCheckIntervalMinutes = 60
	// DefaultCheckIntervalMinutes はチェック間隔のデフォルト値（分）。
	DefaultCheckIntervalMinutes = 30
)

// MonitoredSite はユーザーとURLの監視設定を表す。
// CheckIntervalMinutesはユーザーに表示する参考値であり、スケジューラは強制しない。
type MonitoredSite struct {
	ID                   string     `validate:"required"`
	UserID               string     `validate:"required"`
	URL                  string     `validate:"required,url"`
	SiteType             SiteType   `validate:"required"`
	EncryptedCredentials string     `validate:"required"`
	CheckIntervalMinutes int        `validate:"min=5,max=60"`
	LastChecked          *time.Time
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Credentials は復号済みのログイン情報。ログに出力してはならない。
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
