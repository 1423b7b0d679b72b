package handler

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
)

type mockBatchRunner struct {
	summary model.BatchSummary
	err     error
	calls   int
	now     time.Time
}

func (m *mockBatchRunner) RunBatch(ctx context.Context, now time.Time) (model.BatchSummary, error) {
	m.calls++
	m.now = now
	return m.summary, m.err
}

type mockSiteChecker struct {
	mu      sync.Mutex
	result  model.CheckResult
	checked []string
}

func (m *mockSiteChecker) CheckSite(ctx context.Context, site *model.MonitoredSite) model.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, site.ID)
	r := m.result
	r.SiteID = site.ID
	return r
}

type mockSiteFinder struct {
	sites map[string]*model.MonitoredSite
	err   error
}

func (m *mockSiteFinder) FindByID(ctx context.Context, id string) (*model.MonitoredSite, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sites[id], nil
}

type mockSweeper struct {
	deleted int64
	err     error
	now     time.Time
}

func (m *mockSweeper) Run(ctx context.Context, now time.Time) (int64, error) {
	m.now = now
	return m.deleted, m.err
}

type mockStatsService struct {
	stats *model.AppointmentStats
	err   error
}

func (m *mockStatsService) GetAppointmentStats(ctx context.Context, userID string) (*model.AppointmentStats, error) {
	return m.stats, m.err
}

type mockUserFinder struct {
	users map[string]*model.User
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

type mockAppointmentUpdater struct {
	known  map[string]bool
	err    error
	marked []string
}

func (m *mockAppointmentUpdater) MarkUnavailable(ctx context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	if !m.known[id] {
		return model.ErrAppointmentNotFound
	}
	m.marked = append(m.marked, id)
	return nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
