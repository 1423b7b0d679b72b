// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert はユーザーを登録する。既に存在する場合は表示名のみ更新し、通知設定は維持する。
	Upsert(ctx context.Context, user *model.User) error

	// ListBySummaryPreference は指定期間のサマリーを希望するアクティブなユーザーを返す。
	ListBySummaryPreference(ctx context.Context, period model.SummaryPeriod) ([]*model.User, error)
}

// SiteRepository は監視サイトの永続化インターフェース。
type SiteRepository interface {
	// FindByID は指定IDの監視サイトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.MonitoredSite, error)

	// Create は監視サイトを作成する。
	Create(ctx context.Context, site *model.MonitoredSite) error

	// ListDueForCheck はチェック対象のサイトを取得する。
	// is_active = true かつ (last_checked IS NULL または last_checked <= cutoff) のサイトを返す。
	// 読み取り専用で、行ロックは取得しない。
	ListDueForCheck(ctx context.Context, cutoff time.Time) ([]*model.MonitoredSite, error)

	// UpdateLastChecked は最終チェック日時を更新する。
	UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error

	// SummarizeByUserID はユーザーのサイト数・アクティブ数・最新チェック日時を返す。
	SummarizeByUserID(ctx context.Context, userID string) (SiteSummary, error)
}

// AppointmentRepository は予約枠の永続化インターフェース。
type AppointmentRepository interface {
	// FindOrCreate は (site_id, appointment_date) で予約枠を検索し、無ければ作成する。
	// 既存レコードは一切変更しない。createdは今回新規に作成された場合にtrueとなる。
	FindOrCreate(ctx context.Context, appt *model.Appointment) (result *model.Appointment, created bool, err error)

	// MarkNotified は指定IDの予約枠をまとめて通知済みにする。更新件数を返す。
	MarkNotified(ctx context.Context, ids []string) (int64, error)

	// MarkUnavailable は予約枠を利用不可にする。
	// 存在しない場合は model.ErrAppointmentNotFound を返す。
	MarkUnavailable(ctx context.Context, id string) error

	// ListPendingNotification は未通知かつ利用可能で、foundBefore より前に検出された予約枠を返す。
	// 対象はアクティブなサイトかつ即時通知が有効なユーザーの予約枠に限る。
	ListPendingNotification(ctx context.Context, foundBefore time.Time, limit int) ([]*model.Appointment, error)

	// CountByUserID はユーザーの全予約枠数と利用可能な予約枠数を返す。
	CountByUserID(ctx context.Context, userID string) (total int, available int, err error)

	// CountFoundSinceByUserID は since 以降に検出された利用可能な予約枠数を返す。
	CountFoundSinceByUserID(ctx context.Context, userID string, since time.Time) (int, error)

	// ListRecentAvailableByUserID は利用可能な予約枠を found_at 降順で最大limit件返す。
	ListRecentAvailableByUserID(ctx context.Context, userID string, limit int) ([]*model.Appointment, error)
}

// SiteSummary はユーザー単位のサイト集計。
type SiteSummary struct {
	TotalSites  int
	ActiveSites int
	LastChecked *time.Time
}
