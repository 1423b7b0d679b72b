package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

func TestGetAppointmentStats(t *testing.T) {
	lastChecked := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	sites := &mockSiteRepo{summary: repository.SiteSummary{TotalSites: 3, ActiveSites: 2, LastChecked: &lastChecked}}

	appts := newMemAppointmentRepo()
	appts.total, appts.avail = 10, 7
	for i := 0; i < 7; i++ {
		appts.recent = append(appts.recent, &model.Appointment{ID: string(rune('a' + i)), IsAvailable: true})
	}

	stats, err := NewStatsService(sites, appts).GetAppointmentStats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalSites != 3 || stats.ActiveSites != 2 {
		t.Errorf("sites = %d/%d, want 3/2", stats.TotalSites, stats.ActiveSites)
	}
	if stats.TotalAppointments != 10 || stats.AvailableAppointments != 7 {
		t.Errorf("appointments = %d/%d, want 10/7", stats.TotalAppointments, stats.AvailableAppointments)
	}
	if stats.LastChecked == nil || !stats.LastChecked.Equal(lastChecked) {
		t.Errorf("LastChecked = %v", stats.LastChecked)
	}
	if len(stats.RecentAppointments) != 5 {
		t.Errorf("recent = %d, want 5", len(stats.RecentAppointments))
	}
}

func TestGetAppointmentStats_NoData_ReturnsEmptyRecent(t *testing.T) {
	stats, err := NewStatsService(&mockSiteRepo{}, newMemAppointmentRepo()).GetAppointmentStats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.RecentAppointments == nil {
		t.Error("RecentAppointments should be an empty slice, not nil")
	}
	if stats.LastChecked != nil {
		t.Errorf("LastChecked = %v, want nil", stats.LastChecked)
	}
}

func TestGetAppointmentStats_RepositoryError(t *testing.T) {
	_, err := NewStatsService(&mockSiteRepo{err: errors.New("db down")}, newMemAppointmentRepo()).
		GetAppointmentStats(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error")
	}
}
