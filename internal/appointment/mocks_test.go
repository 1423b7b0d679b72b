package appointment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// noopMetrics はテスト用の何もしないMetricsCollector。
type noopMetrics struct{}

func (noopMetrics) RecordCheckSuccess(string) {}
func (noopMetrics) RecordCheckFailure(string, string) {}
func (noopMetrics) RecordCheckSkipped() {}
func (noopMetrics) RecordCheckLatency(time.Duration) {}
func (noopMetrics) RecordSlotsFound(int) {}
func (noopMetrics) RecordNewAppointments(int) {}
func (noopMetrics) RecordNotification(string) {}
func (noopMetrics) RecordDateFallback() {}
func (noopMetrics) RecordAppointmentsSwept(int64) {}

// memAppointmentRepo は (site_id, appointment_date) で一意なインメモリ実装。
type memAppointmentRepo struct {
	mu      sync.Mutex
	byKey   map[string]*model.Appointment
	failOn  int
	calls   int
	recent  []*model.Appointment
	total   int
	avail   int
	listErr error
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{byKey: make(map[string]*model.Appointment)}
}

func (m *memAppointmentRepo) FindOrCreate(_ context.Context, appt *model.Appointment) (*model.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failOn > 0 && m.calls == m.failOn {
		return nil, false, errors.New("db down")
	}

	key := appt.SiteID + "|" + appt.AppointmentDate.UTC().Format(time.RFC3339Nano)
	if existing, ok := m.byKey[key]; ok {
		return existing, false, nil
	}
	stored := *appt
	stored.ID = key
	m.byKey[key] = &stored
	return &stored, true, nil
}

func (m *memAppointmentRepo) MarkNotified(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.byKey {
		for _, id := range ids {
			if a.ID == id && !a.Notified {
				a.Notified = true
				n++
			}
		}
	}
	return n, nil
}

func (m *memAppointmentRepo) MarkUnavailable(context.Context, string) error { return nil }

func (m *memAppointmentRepo) ListPendingNotification(context.Context, time.Time, int) ([]*model.Appointment, error) {
	return nil, nil
}

func (m *memAppointmentRepo) CountByUserID(context.Context, string) (int, int, error) {
	return m.total, m.avail, m.listErr
}

func (m *memAppointmentRepo) CountFoundSinceByUserID(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (m *memAppointmentRepo) ListRecentAvailableByUserID(_ context.Context, _ string, limit int) ([]*model.Appointment, error) {
	if len(m.recent) > limit {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func (m *memAppointmentRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// mockUserRepo はテスト用のUserRepositoryモック。
type mockUserRepo struct {
	users map[string]*model.User
	err   error
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

func (m *mockUserRepo) Upsert(context.Context, *model.User) error { return nil }

func (m *mockUserRepo) ListBySummaryPreference(context.Context, model.SummaryPeriod) ([]*model.User, error) {
	return nil, nil
}

// mockSiteRepo はテスト用のSiteRepositoryモック。
type mockSiteRepo struct {
	summary repository.SiteSummary
	err     error
}

func (m *mockSiteRepo) FindByID(context.Context, string) (*model.MonitoredSite, error) {
	return nil, nil
}

func (m *mockSiteRepo) Create(context.Context, *model.MonitoredSite) error { return nil }

func (m *mockSiteRepo) ListDueForCheck(context.Context, time.Time) ([]*model.MonitoredSite, error) {
	return nil, nil
}

func (m *mockSiteRepo) UpdateLastChecked(context.Context, string, time.Time) error { return nil }

func (m *mockSiteRepo) SummarizeByUserID(context.Context, string) (repository.SiteSummary, error) {
	return m.summary, m.err
}

// recordingNotifier はNotifyの呼び出しを記録する。
type recordingNotifier struct {
	calls [][]*model.Appointment
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, _ *model.User, _ *model.MonitoredSite, appts []*model.Appointment) error {
	n.calls = append(n.calls, appts)
	return n.err
}

var (
	_ repository.AppointmentRepository = (*memAppointmentRepo)(nil)
	_ repository.UserRepository        = (*mockUserRepo)(nil)
	_ repository.SiteRepository        = (*mockSiteRepo)(nil)
)
