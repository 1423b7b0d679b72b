package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/appointment"
	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

const (
	// DefaultRedeliveryGrace は再送対象とするまでの猶予。
	// 検出直後のチェックが通知を送る前に再送しないようにする。
	DefaultRedeliveryGrace = 2 * time.Minute
	// redeliveryBatchLimit は1回の再送で扱う予約枠の上限。
	redeliveryBatchLimit = 200
)

// Redeliverer は配信に失敗して未通知のまま残った予約枠を再送する。
type Redeliverer struct {
	appointments repository.AppointmentRepository
	sites        repository.SiteRepository
	users        repository.UserRepository
	notifier     appointment.Notifier
	grace        time.Duration
	logger       *slog.Logger
}

// NewRedeliverer はRedelivererを生成する。graceが0以下の場合はデフォルト値を使う。
func NewRedeliverer(
	appointments repository.AppointmentRepository,
	sites repository.SiteRepository,
	users repository.UserRepository,
	notifier appointment.Notifier,
	grace time.Duration,
	logger *slog.Logger,
) *Redeliverer {
	if grace <= 0 {
		grace = DefaultRedeliveryGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redeliverer{
		appointments: appointments,
		sites:        sites,
		users:        users,
		notifier:     notifier,
		grace:        grace,
		logger:       logger,
	}
}

// RunOnce は未通知の予約枠をサイトごとにまとめて再送し、再送できた予約枠の件数を返す。
// 1サイト分の失敗は他のサイトの再送を妨げない。
func (r *Redeliverer) RunOnce(ctx context.Context, now time.Time) (int, error) {
	pending, err := r.appointments.ListPendingNotification(ctx, now.Add(-r.grace), redeliveryBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("未通知予約枠の取得に失敗しました: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var order []string
	bySite := make(map[string][]*model.Appointment)
	for _, a := range pending {
		if _, ok := bySite[a.SiteID]; !ok {
			order = append(order, a.SiteID)
		}
		bySite[a.SiteID] = append(bySite[a.SiteID], a)
	}

	delivered := 0
	for _, siteID := range order {
		appts := bySite[siteID]
		sent, err := r.redeliverSite(ctx, siteID, appts)
		if err != nil {
			r.logger.Warn("予約枠の再送に失敗しました",
				slog.String("site_id", siteID),
				slog.Int("appointments", len(appts)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sent {
			delivered += len(appts)
		}
	}

	r.logger.Info("未通知予約枠の再送が完了しました",
		slog.Int("pending", len(pending)),
		slog.Int("delivered", delivered),
	)
	return delivered, nil
}

func (r *Redeliverer) redeliverSite(ctx context.Context, siteID string, appts []*model.Appointment) (bool, error) {
	site, err := r.sites.FindByID(ctx, siteID)
	if err != nil {
		return false, err
	}
	if site == nil {
		return false, model.ErrSiteNotFound
	}

	user, err := r.users.FindByID(ctx, site.UserID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, fmt.Errorf("ユーザーが存在しません: %s", site.UserID)
	}
	if !user.Preferences.Immediate {
		return false, nil
	}

	if err := r.notifier.Notify(ctx, user, site, appts); err != nil {
		return false, err
	}
	return true, nil
}

// Start はinterval間隔で再送を実行する。コンテキストがキャンセルされるまでブロックする。
func (r *Redeliverer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("再送ジョブを停止しました")
			return
		case now := <-ticker.C:
			if _, err := r.RunOnce(ctx, now); err != nil {
				r.logger.Error("再送ジョブの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
