package appointment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// Notifier は新規予約枠をサイトの所有者に通知する。
// 配信が確認できた場合のみ予約枠を通知済みにする。
type Notifier interface {
	Notify(ctx context.Context, user *model.User, site *model.MonitoredSite, appts []*model.Appointment) error
}

// Reconciler は抽出された予約枠を既存レコードと突き合わせ、
// 新規分のみを保存して通知する。
type Reconciler struct {
	appointments repository.AppointmentRepository
	users        repository.UserRepository
	normalizer   *DateNormalizer
	notifier     Notifier
	logger       *slog.Logger
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	appointments repository.AppointmentRepository,
	users repository.UserRepository,
	normalizer *DateNormalizer,
	notifier Notifier,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		appointments: appointments,
		users:        users,
		normalizer:   normalizer,
		notifier:     notifier,
		logger:       logger,
	}
}

// Reconcile は各予約枠を (site, 正規化日付) で検索または作成し、新規作成分を返す。
// 既存レコードは変更しない。新規が1件以上あり、所有者が即時通知を有効にしている場合のみ
// 1通の通知にまとめて送信する。通知の失敗はログに記録するだけでエラーにはしない。
// 永続化エラーの場合はそれまでに作成した分とエラーを返す。
func (r *Reconciler) Reconcile(
	ctx context.Context,
	site *model.MonitoredSite,
	slots []model.Slot,
	now time.Time,
) ([]*model.Appointment, error) {
	var created []*model.Appointment

	for _, slot := range slots {
		appt := &model.Appointment{
			SiteID:          site.ID,
			AppointmentDate: r.normalizer.Normalize(slot.Date, now),
			Details: model.AppointmentDetails{
				Time:         slot.Time,
				Details:      slot.Details,
				OriginalText: slot.Date,
			},
			IsAvailable: true,
			Notified:    false,
			FoundAt:     now,
		}

		result, isNew, err := r.appointments.FindOrCreate(ctx, appt)
		if err != nil {
			return created, fmt.Errorf("予約枠の保存に失敗しました: %w", err)
		}
		if isNew {
			created = append(created, result)
		}
	}

	if len(created) == 0 {
		return nil, nil
	}

	r.logger.Info("新規予約枠を保存しました",
		slog.String("site_id", site.ID),
		slog.Int("new_appointments", len(created)),
	)

	r.notifyOwner(ctx, site, created)
	return created, nil
}

// notifyOwner は所有者の通知設定に従って通知する。
func (r *Reconciler) notifyOwner(ctx context.Context, site *model.MonitoredSite, created []*model.Appointment) {
	user, err := r.users.FindByID(ctx, site.UserID)
	if err != nil {
		r.logger.Error("通知先ユーザーの取得に失敗しました",
			slog.String("site_id", site.ID),
			slog.String("user_id", site.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if user == nil {
		r.logger.Warn("通知先ユーザーが存在しません",
			slog.String("site_id", site.ID),
			slog.String("user_id", site.UserID),
		)
		return
	}
	if !user.Preferences.Immediate {
		return
	}

	if err := r.notifier.Notify(ctx, user, site, created); err != nil {
		r.logger.Error("新規予約枠の通知に失敗しました",
			slog.String("site_id", site.ID),
			slog.String("user_id", user.ID),
			slog.Int("appointments", len(created)),
			slog.String("error", err.Error()),
		)
	}
}
