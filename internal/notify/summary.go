package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// StatsProvider はユーザー単位の監視統計を返す。
type StatsProvider interface {
	GetAppointmentStats(ctx context.Context, userID string) (*model.AppointmentStats, error)
}

// SummaryJob は日次・週次サマリーを希望するユーザーに送る。
type SummaryJob struct {
	users        repository.UserRepository
	appointments repository.AppointmentRepository
	stats        StatsProvider
	channel      Channel
	logger       *slog.Logger
}

// NewSummaryJob はSummaryJobを生成する。
func NewSummaryJob(
	users repository.UserRepository,
	appointments repository.AppointmentRepository,
	stats StatsProvider,
	channel Channel,
	logger *slog.Logger,
) *SummaryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryJob{
		users:        users,
		appointments: appointments,
		stats:        stats,
		channel:      channel,
		logger:       logger,
	}
}

// Run は指定期間のサマリーを対象ユーザー全員に送り、送信できた件数を返す。
// 1ユーザーへの送信失敗はログに記録して次のユーザーに進む。
func (j *SummaryJob) Run(ctx context.Context, period model.SummaryPeriod, now time.Time) (int, error) {
	start := time.Now()

	users, err := j.users.ListBySummaryPreference(ctx, period)
	if err != nil {
		return 0, fmt.Errorf("サマリー対象ユーザーの取得に失敗しました: %w", err)
	}

	sent := 0
	for _, user := range users {
		if err := j.sendTo(ctx, user, period, now); err != nil {
			j.logger.Warn("サマリーの送信に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("period", string(period)),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}

	j.logger.Info("サマリーの送信が完了しました",
		slog.String("period", string(period)),
		slog.Int("users", len(users)),
		slog.Int("sent", sent),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return sent, nil
}

func (j *SummaryJob) sendTo(ctx context.Context, user *model.User, period model.SummaryPeriod, now time.Time) error {
	stats, err := j.stats.GetAppointmentStats(ctx, user.ID)
	if err != nil {
		return err
	}
	found, err := j.appointments.CountFoundSinceByUserID(ctx, user.ID, now.Add(-period.Window()))
	if err != nil {
		return err
	}
	return j.channel.Deliver(ctx, user.ID, NewSummaryPayload(period, stats, found, now))
}

// Start は期間ごとにサマリーを送信する。コンテキストがキャンセルされるまでブロックする。
func (j *SummaryJob) Start(ctx context.Context, period model.SummaryPeriod) {
	ticker := time.NewTicker(period.Window())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("サマリージョブを停止しました", slog.String("period", string(period)))
			return
		case now := <-ticker.C:
			if _, err := j.Run(ctx, period, now); err != nil {
				j.logger.Error("サマリーの送信に失敗しました",
					slog.String("period", string(period)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// StatusReporter はバッチの実行結果をシステムステータス用のチャンネルに送る。
// チャンネルIDが空の場合は何もしない。
type StatusReporter struct {
	channel   Channel
	channelID string
	logger    *slog.Logger
}

// NewStatusReporter はStatusReporterを生成する。
func NewStatusReporter(channel Channel, channelID string, logger *slog.Logger) *StatusReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusReporter{channel: channel, channelID: channelID, logger: logger}
}

// ReportBatch はバッチ結果を送る。送信の失敗はログに記録するだけ。
func (s *StatusReporter) ReportBatch(ctx context.Context, summary model.BatchSummary, now time.Time) {
	if s.channelID == "" {
		return
	}
	if err := s.channel.Post(ctx, s.channelID, NewStatusPayload(summary, now)); err != nil {
		s.logger.Warn("システムステータスの送信に失敗しました",
			slog.String("channel_id", s.channelID),
			slog.String("error", err.Error()),
		)
	}
}
