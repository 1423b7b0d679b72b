package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// mockSiteRepo はSiteRepositoryのモック。
type mockSiteRepo struct {
	mu          sync.Mutex
	due         []*model.MonitoredSite
	listErr     error
	cutoff      time.Time
	updateErr   error
	lastChecked map[string]time.Time
}

func newMockSiteRepo(due ...*model.MonitoredSite) *mockSiteRepo {
	return &mockSiteRepo{due: due, lastChecked: make(map[string]time.Time)}
}

func (m *mockSiteRepo) FindByID(_ context.Context, id string) (*model.MonitoredSite, error) {
	for _, s := range m.due {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockSiteRepo) Create(context.Context, *model.MonitoredSite) error { return nil }

func (m *mockSiteRepo) ListDueForCheck(_ context.Context, cutoff time.Time) ([]*model.MonitoredSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = cutoff
	return m.due, m.listErr
}

func (m *mockSiteRepo) UpdateLastChecked(_ context.Context, id string, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.lastChecked[id] = checkedAt
	return nil
}

func (m *mockSiteRepo) SummarizeByUserID(context.Context, string) (repository.SiteSummary, error) {
	return repository.SiteSummary{}, nil
}

func (m *mockSiteRepo) updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lastChecked)
}

// fakeVault は "enc:" プレフィックス付きの文字列だけを復号できる。
type fakeVault struct{}

func (fakeVault) Encrypt(creds model.Credentials) (string, error) {
	return "enc:" + creds.Username + ":" + creds.Password, nil
}

func (fakeVault) Decrypt(blob string) (model.Credentials, error) {
	if len(blob) < 4 || blob[:4] != "enc:" {
		return model.Credentials{}, model.ErrDecryption
	}
	return model.Credentials{Username: "user", Password: "secret-password"}, nil
}

// fakeScraper は固定の結果を返す。blockがnilでなければ閉じられるまで待つ。
type fakeScraper struct {
	mu      sync.Mutex
	result  model.ScrapeResult
	block   chan struct{}
	started chan struct{}
	calls   int
	creds   []model.Credentials
}

func (f *fakeScraper) CheckAppointments(_ context.Context, _ *model.MonitoredSite, creds model.Credentials) model.ScrapeResult {
	f.mu.Lock()
	f.calls++
	f.creds = append(f.creds, creds)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.result
}

// stubReconciler はスロット数分の新規予約枠を返す。
type stubReconciler struct {
	mu    sync.Mutex
	calls int
	err   error
	now   time.Time
}

func (r *stubReconciler) Reconcile(_ context.Context, site *model.MonitoredSite, slots []model.Slot, now time.Time) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.now = now
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*model.Appointment, len(slots))
	for i := range slots {
		out[i] = &model.Appointment{SiteID: site.ID}
	}
	return out, nil
}

// memAppointmentRepo は (site_id, appointment_date) で一意なインメモリ実装。
type memAppointmentRepo struct {
	mu    sync.Mutex
	byKey map[string]*model.Appointment
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{byKey: make(map[string]*model.Appointment)}
}

func (m *memAppointmentRepo) FindOrCreate(_ context.Context, appt *model.Appointment) (*model.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := appt.SiteID + "|" + appt.AppointmentDate.UTC().Format(time.RFC3339Nano)
	if existing, ok := m.byKey[key]; ok {
		return existing, false, nil
	}
	stored := *appt
	stored.ID = key
	m.byKey[key] = &stored
	return &stored, true, nil
}

func (m *memAppointmentRepo) MarkNotified(context.Context, []string) (int64, error) { return 0, nil }

func (m *memAppointmentRepo) MarkUnavailable(context.Context, string) error { return nil }

func (m *memAppointmentRepo) ListPendingNotification(context.Context, time.Time, int) ([]*model.Appointment, error) {
	return nil, nil
}

func (m *memAppointmentRepo) CountByUserID(context.Context, string) (int, int, error) {
	return 0, 0, nil
}

func (m *memAppointmentRepo) CountFoundSinceByUserID(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (m *memAppointmentRepo) ListRecentAvailableByUserID(context.Context, string, int) ([]*model.Appointment, error) {
	return nil, nil
}

func (m *memAppointmentRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

type mockUserRepo struct {
	users map[string]*model.User
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) Upsert(context.Context, *model.User) error { return nil }

func (m *mockUserRepo) ListBySummaryPreference(context.Context, model.SummaryPeriod) ([]*model.User, error) {
	return nil, nil
}

// countingNotifier は通知回数を数える。
type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) Notify(context.Context, *model.User, *model.MonitoredSite, []*model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

// recordingMetrics はチェック結果のメトリクスを数える。
type recordingMetrics struct {
	mu       sync.Mutex
	success  int
	failures map[string]int
	skipped  int
	newAppts int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: make(map[string]int)}
}

func (r *recordingMetrics) RecordCheckSuccess(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success++
}

func (r *recordingMetrics) RecordCheckFailure(_ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[reason]++
}

func (r *recordingMetrics) RecordCheckSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

func (r *recordingMetrics) RecordNewAppointments(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newAppts += n
}

func (r *recordingMetrics) RecordCheckLatency(time.Duration) {}
func (r *recordingMetrics) RecordSlotsFound(int) {}
func (r *recordingMetrics) RecordNotification(string) {}
func (r *recordingMetrics) RecordDateFallback() {}
func (r *recordingMetrics) RecordAppointmentsSwept(int64) {}

// funcChecker は関数でSiteCheckerを実装する。
type funcChecker func(ctx context.Context, site *model.MonitoredSite) model.CheckResult

func (f funcChecker) CheckSite(ctx context.Context, site *model.MonitoredSite) model.CheckResult {
	return f(ctx, site)
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries []model.BatchSummary
}

func (r *recordingReporter) ReportBatch(_ context.Context, s model.BatchSummary, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

var errDB = errors.New("connection refused")

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func testSite(id string) *model.MonitoredSite {
	return &model.MonitoredSite{
		ID:                   id,
		UserID:               "user-1",
		URL:                  "https://booking.example.com/" + id,
		SiteType:             model.SiteTypeGeneric,
		EncryptedCredentials: "enc:user:secret-password",
		CheckIntervalMinutes: model.DefaultCheckIntervalMinutes,
		Active:               true,
	}
}

// inFlightIDs は実行中として登録されているサイトIDを昇順で返す。
func inFlightIDs(r *Registry) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.inFlight))
	for id := range r.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
