package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/hitoshi/apptwatch/internal/appointment"
	"github.com/hitoshi/apptwatch/internal/metrics"
	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

var (
	_ repository.AppointmentRepository = (*mockAppointmentRepo)(nil)
	_ repository.UserRepository        = (*mockUserRepo)(nil)
	_ repository.SiteRepository        = (*mockSiteRepo)(nil)
	_ metrics.MetricsCollector         = (*countingMetrics)(nil)
	_ appointment.Notifier             = (*Notifier)(nil)
	_ Channel                          = (*recordingChannel)(nil)
	_ Channel                          = (*LogChannel)(nil)
	_ Channel                          = (*DiscordChannel)(nil)
)

var errDelivery = errors.New("delivery failed")

type delivery struct {
	recipient string
	payload   Payload
}

// recordingChannel は送信内容を記録するChannel。
type recordingChannel struct {
	mu         sync.Mutex
	deliveries []delivery
	posts      []delivery
	failFor    map[string]bool
	err        error
}

func (c *recordingChannel) Deliver(_ context.Context, recipientID string, p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil || c.failFor[recipientID] {
		return errDelivery
	}
	c.deliveries = append(c.deliveries, delivery{recipient: recipientID, payload: p})
	return nil
}

func (c *recordingChannel) Post(_ context.Context, channelID string, p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.posts = append(c.posts, delivery{recipient: channelID, payload: p})
	return nil
}

// mockAppointmentRepo は通知関連のメソッドのみ実装する。
type mockAppointmentRepo struct {
	mu          sync.Mutex
	pending     []*model.Appointment
	notified    map[string]bool
	markErr     error
	markCalls   int
	foundBefore time.Time
	foundSince  map[string]int
}

func newMockAppointmentRepo(pending ...*model.Appointment) *mockAppointmentRepo {
	return &mockAppointmentRepo{pending: pending, notified: make(map[string]bool), foundSince: make(map[string]int)}
}

func (m *mockAppointmentRepo) FindOrCreate(context.Context, *model.Appointment) (*model.Appointment, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (m *mockAppointmentRepo) MarkNotified(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	if m.markErr != nil {
		return 0, m.markErr
	}
	var n int64
	for _, id := range ids {
		if !m.notified[id] {
			m.notified[id] = true
			n++
		}
	}
	return n, nil
}

func (m *mockAppointmentRepo) MarkUnavailable(context.Context, string) error { return nil }

func (m *mockAppointmentRepo) ListPendingNotification(_ context.Context, foundBefore time.Time, _ int) ([]*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foundBefore = foundBefore
	var out []*model.Appointment
	for _, a := range m.pending {
		if !m.notified[a.ID] && a.FoundAt.Before(foundBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAppointmentRepo) CountByUserID(context.Context, string) (int, int, error) {
	return 0, 0, nil
}

func (m *mockAppointmentRepo) CountFoundSinceByUserID(_ context.Context, userID string, _ time.Time) (int, error) {
	return m.foundSince[userID], nil
}

func (m *mockAppointmentRepo) ListRecentAvailableByUserID(context.Context, string, int) ([]*model.Appointment, error) {
	return nil, nil
}

type mockUserRepo struct {
	users   map[string]*model.User
	listErr error
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) Upsert(context.Context, *model.User) error { return nil }

func (m *mockUserRepo) ListBySummaryPreference(_ context.Context, period model.SummaryPeriod) ([]*model.User, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.User
	for _, u := range m.users {
		if u.Preferences.Enabled(period) {
			out = append(out, u)
		}
	}
	return out, nil
}

type mockSiteRepo struct {
	sites map[string]*model.MonitoredSite
}

func (m *mockSiteRepo) FindByID(_ context.Context, id string) (*model.MonitoredSite, error) {
	return m.sites[id], nil
}

func (m *mockSiteRepo) Create(context.Context, *model.MonitoredSite) error { return nil }

func (m *mockSiteRepo) ListDueForCheck(context.Context, time.Time) ([]*model.MonitoredSite, error) {
	return nil, nil
}

func (m *mockSiteRepo) UpdateLastChecked(context.Context, string, time.Time) error { return nil }

func (m *mockSiteRepo) SummarizeByUserID(context.Context, string) (repository.SiteSummary, error) {
	return repository.SiteSummary{}, nil
}

// countingMetrics は通知結果のみを数える。
type countingMetrics struct {
	mu            sync.Mutex
	notifications map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{notifications: make(map[string]int)}
}

func (c *countingMetrics) RecordCheckSuccess(string) {}
func (c *countingMetrics) RecordCheckFailure(string, string) {}
func (c *countingMetrics) RecordCheckSkipped() {}
func (c *countingMetrics) RecordCheckLatency(time.Duration) {}
func (c *countingMetrics) RecordSlotsFound(int) {}
func (c *countingMetrics) RecordNewAppointments(int) {}
func (c *countingMetrics) RecordDateFallback() {}
func (c *countingMetrics) RecordAppointmentsSwept(int64) {}

func (c *countingMetrics) RecordNotification(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[result]++
}

type fakeStats struct {
	stats map[string]*model.AppointmentStats
}

func (f *fakeStats) GetAppointmentStats(_ context.Context, userID string) (*model.AppointmentStats, error) {
	if s, ok := f.stats[userID]; ok {
		return s, nil
	}
	return nil, errors.New("stats unavailable")
}

// fakeMessenger はDiscord REST APIの呼び出しを記録する。
type fakeMessenger struct {
	dmFor     []snowflake.ID
	messages  map[snowflake.ID][]discord.MessageCreate
	createErr error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{messages: make(map[snowflake.ID][]discord.MessageCreate)}
}

func (f *fakeMessenger) CreateDMChannel(userID snowflake.ID, _ ...rest.RequestOpt) (*discord.DMChannel, error) {
	f.dmFor = append(f.dmFor, userID)
	return &discord.DMChannel{}, nil
}

func (f *fakeMessenger) CreateMessage(channelID snowflake.ID, m discord.MessageCreate, _ ...rest.RequestOpt) (*discord.Message, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.messages[channelID] = append(f.messages[channelID], m)
	return &discord.Message{}, nil
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
