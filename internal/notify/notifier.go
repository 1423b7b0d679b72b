package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/metrics"
	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// Notifier は新規予約枠を1通の通知にまとめてサイトの所有者に送る。
// 配信が成功した場合のみ、対象の予約枠を1回の更新で通知済みにする。
type Notifier struct {
	channel      Channel
	appointments repository.AppointmentRepository
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	now          func() time.Time
}

// NewNotifier はNotifierを生成する。
func NewNotifier(
	channel Channel,
	appointments repository.AppointmentRepository,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		channel:      channel,
		appointments: appointments,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// Notify は予約枠の通知を配信し、成功したら通知済みにする。
// 配信に失敗した場合は予約枠を未通知のまま残し、エラーを返す。
func (n *Notifier) Notify(ctx context.Context, user *model.User, site *model.MonitoredSite, appts []*model.Appointment) error {
	if len(appts) == 0 {
		return nil
	}

	payload := NewAppointmentsPayload(site, appts, n.now())
	if err := n.channel.Deliver(ctx, user.ID, payload); err != nil {
		n.metrics.RecordNotification(metrics.NotificationFailed)
		return fmt.Errorf("通知の配信に失敗しました: %w", err)
	}
	n.metrics.RecordNotification(metrics.NotificationSent)

	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	updated, err := n.appointments.MarkNotified(ctx, ids)
	if err != nil {
		return fmt.Errorf("通知済みフラグの更新に失敗しました: %w", err)
	}

	n.logger.Info("予約枠を通知しました",
		slog.String("user_id", user.ID),
		slog.String("site_id", site.ID),
		slog.Int("appointments", len(appts)),
		slog.Int64("marked_notified", updated),
	)
	return nil
}
