package appointment

import (
	"context"
	"fmt"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// recentAppointmentsLimit は統計に含める最近の予約枠の件数。
const recentAppointmentsLimit = 5

// StatsService はユーザー単位の監視統計を提供する。
type StatsService struct {
	sites        repository.SiteRepository
	appointments repository.AppointmentRepository
}

// NewStatsService はStatsServiceを生成する。
func NewStatsService(sites repository.SiteRepository, appointments repository.AppointmentRepository) *StatsService {
	return &StatsService{sites: sites, appointments: appointments}
}

// GetAppointmentStats はユーザーのサイト数、予約枠数、最近の利用可能な予約枠を返す。
func (s *StatsService) GetAppointmentStats(ctx context.Context, userID string) (*model.AppointmentStats, error) {
	summary, err := s.sites.SummarizeByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("サイト集計の取得に失敗: %w", err)
	}

	total, available, err := s.appointments.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("予約枠数の取得に失敗: %w", err)
	}

	recent, err := s.appointments.ListRecentAvailableByUserID(ctx, userID, recentAppointmentsLimit)
	if err != nil {
		return nil, fmt.Errorf("最近の予約枠の取得に失敗: %w", err)
	}
	if recent == nil {
		recent = []*model.Appointment{}
	}

	return &model.AppointmentStats{
		TotalSites:            summary.TotalSites,
		ActiveSites:           summary.ActiveSites,
		TotalAppointments:     total,
		AvailableAppointments: available,
		LastChecked:           summary.LastChecked,
		RecentAppointments:    recent,
	}, nil
}
